package main

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "analyst",
	Short: "Natural-language analytics over a SQL data source",
	Long: `analyst turns a natural-language question into a planned, executed and
validated set of SQL queries, then explains the results. It runs as an HTTP
service (serve) or answers a single question from the terminal (ask).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default ./analyst.yaml when present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}
