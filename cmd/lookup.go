package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"threatlens/bootstrap"
	"threatlens/core"
)

// newLookupCmd creates the lookup command
func newLookupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lookup <type> <value>",
		Short: "Enrich a single indicator",
		Long: `Lookup enriches one indicator without attributing a sighting. Type must
be one of: ip, domain, url, hash.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			indicatorType := core.IndicatorType(args[0])
			if !indicatorType.IsValid() {
				return fmt.Errorf("invalid indicator type %q (must be ip, domain, url or hash)", args[0])
			}

			indicator, err := core.NewIndicator(indicatorType, args[1], "cli")
			if err != nil {
				return fmt.Errorf("invalid indicator: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			app, err := bootstrap.NewApp(ctx)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			defer app.Shutdown()

			var spin *spinner.Spinner
			if !outputJSON {
				spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				spin.Suffix = fmt.Sprintf(" Looking up %s...", indicator.Key())
				spin.Start()
			}

			enrichment, err := app.Coordinator.Enrich(ctx, indicator)
			if spin != nil {
				spin.Stop()
			}
			if err != nil {
				return fmt.Errorf("lookup failed: %w", err)
			}

			if outputJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(enrichment)
			}
			printVerdict(indicator, enrichment)
			for _, p := range enrichment.Providers {
				fmt.Printf("    %-12s score %6.2f  conf %.2f  tags %v\n", p.Provider, p.Score, p.Confidence, p.Tags)
			}
			return nil
		},
	}
	return cmd
}
