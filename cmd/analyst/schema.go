package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var schemaJSON bool

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Explore the data source and print its schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "warn")
		if err != nil {
			return err
		}
		defer a.Close()

		snap, err := a.schema.Explore(cmd.Context(), a.source)
		if err != nil {
			return fmt.Errorf("exploring schema: %w", err)
		}
		if schemaJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}
		fmt.Fprintln(os.Stdout, snap.Describe())
		if len(snap.Relationships) > 0 {
			fmt.Fprintln(os.Stdout, "\nRelationships:")
			for _, r := range snap.Relationships {
				fmt.Fprintf(os.Stdout, "- %s\n", r)
			}
		}
		return nil
	},
}

func init() {
	schemaCmd.Flags().BoolVar(&schemaJSON, "json", false, "print the snapshot as JSON")
	rootCmd.AddCommand(schemaCmd)
}
