// Package main is the entry point for the ThreatLens CLI.
package main

import (
	"fmt"
	"os"

	"threatlens/cmd"
)

func main() {
	rootCmd := cmd.NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
