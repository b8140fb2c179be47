package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"threatlens/bootstrap"
	"threatlens/core"
	"threatlens/pipeline"
)

const (
	maxArticleSize = 10 * 1024 * 1024 // 10MB cap on article input
	defaultTimeout = 5 * time.Minute
)

// newProcessCmd creates the process command
func newProcessCmd() *cobra.Command {
	var articleID string

	cmd := &cobra.Command{
		Use:   "process [file]",
		Short: "Process an article and enrich every indicator found in it",
		Long: `Process reads article text from a file (or stdin when no file is given),
extracts all indicators, records one sighting per indicator for this
article, and prints the enriched verdicts.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readArticle(args)
			if err != nil {
				return err
			}
			if articleID == "" {
				articleID = uuid.New().String()
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			app, err := bootstrap.NewApp(ctx)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			defer app.Shutdown()
			app.StartMetrics()

			var spin *spinner.Spinner
			if !outputJSON {
				spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				spin.Suffix = " Enriching indicators..."
				spin.Start()
			}

			results, err := app.Processor.Process(ctx, articleID, text)
			if spin != nil {
				spin.Stop()
			}
			if err != nil {
				return fmt.Errorf("processing aborted: %w", err)
			}

			return printResults(articleID, results)
		},
	}

	cmd.Flags().StringVar(&articleID, "article-id", "", "Stable article identifier (random when omitted)")
	return cmd
}

// readArticle loads article text from the argument file or stdin
func readArticle(args []string) (string, error) {
	var r io.Reader
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return "", fmt.Errorf("failed to open article: %w", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	} else {
		r = os.Stdin
	}

	data, err := io.ReadAll(io.LimitReader(r, maxArticleSize))
	if err != nil {
		return "", fmt.Errorf("failed to read article: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("article text is empty")
	}
	return string(data), nil
}

// printResults renders the per-indicator verdicts
func printResults(articleID string, results []pipeline.EnrichedIndicator) error {
	if outputJSON {
		out := struct {
			ArticleID  string                       `json:"article_id"`
			Indicators []pipeline.EnrichedIndicator `json:"indicators"`
		}{ArticleID: articleID, Indicators: results}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	headerColor.Printf("Article %s: %d indicator(s)\n", articleID, len(results))
	for _, r := range results {
		if r.Err != nil {
			key := "unknown"
			if r.Indicator != nil {
				key = r.Indicator.Key()
			}
			errorColor.Printf("  %-50s error: %v\n", key, r.Err)
			continue
		}
		printVerdict(r.Indicator, r.Enrichment)
	}
	return nil
}

func printVerdict(indicator *core.Indicator, enrichment *core.Enrichment) {
	line := fmt.Sprintf("  %-50s score %6.2f  %-8s conf %.2f  sightings %d",
		indicator.Key(), enrichment.RiskScore, enrichment.RiskLevel, enrichment.Confidence, enrichment.Sightings)
	switch {
	case enrichment.Unavailable:
		warningColor.Printf("%s  (unavailable)\n", line)
	case enrichment.Degraded:
		warningColor.Printf("%s  (degraded)\n", line)
	case enrichment.RiskLevel == core.RiskLevelCritical || enrichment.RiskLevel == core.RiskLevelHigh:
		errorColor.Println(line)
	default:
		successColor.Println(line)
	}
}
