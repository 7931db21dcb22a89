// Package cmd is the CLI glue around the transaction engine: reader
// selection, configuration loading and result rendering. No engine logic
// lives here.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "1.0.0"

	// Global flags
	configPath      string
	cardReaderIndex int
	samReaderIndex  int
	outputJSON      bool
	verbose         bool
)

var rootCmd = &cobra.Command{
	Use:   "calypso",
	Short: "Calypso card transaction tool",
	Long: `Calypso card transaction tool v` + version + `
Drive Calypso contactless cards and their SAMs from PC/SC readers.

This tool supports:
  - Reading card files after AID selection (product detection, EF dump)
  - Secure Sessions (open, read/update records, close with MAC verification)
  - Stored Value operations (SV Get, Debit, Reload)
  - An end-to-end selftest against a simulated card and SAM`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"YAML terminal configuration file")
	rootCmd.PersistentFlags().IntVarP(&cardReaderIndex, "reader", "r", -1,
		"Card reader index (use 'calypso read --list' to see available readers)")
	rootCmd.PersistentFlags().IntVar(&samReaderIndex, "sam-reader", -1,
		"SAM reader index")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false,
		"Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Verbose engine tracing on stderr")
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
