package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"threatlens/extract"
)

// newExtractCmd creates the extract command
func newExtractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract [file]",
		Short: "Extract indicators from article text without enrichment",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readArticle(args)
			if err != nil {
				return err
			}

			extractor := extract.NewExtractor()
			candidates := extractor.Extract(text)

			if outputJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(candidates)
			}

			headerColor.Printf("%d indicator(s)\n", len(candidates))
			for _, c := range candidates {
				fmt.Printf("  %-8s %s\n", c.Type, c.Value)
			}
			return nil
		},
	}
	return cmd
}
