// Package cmd provides the command-line interface for ThreatLens.
package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Global flags
var (
	outputJSON bool
	noColor    bool
)

// Version is stamped by the build; "dev" for local builds
var Version = "dev"

// NewRootCmd creates the threatlens root command
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "threatlens",
		Short: "Extract and enrich threat indicators from security articles",
		Long: `ThreatLens extracts IPv4 addresses, domains, URLs and file hashes from
article text, enriches them against threat intelligence providers, and
assigns each indicator a 0-100 risk score.`,
		Version: Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output results as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(newProcessCmd())
	rootCmd.AddCommand(newLookupCmd())
	rootCmd.AddCommand(newExtractCmd())

	return rootCmd
}
