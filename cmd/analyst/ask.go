package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var askJSON bool

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer one question and exit",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "warn")
		if err != nil {
			return err
		}
		defer a.Close()

		sess := a.orch.NewSession("cli")
		res := a.orch.Process(cmd.Context(), sess.ID, strings.Join(args, " "))

		if askJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
		} else if res.Success {
			fmt.Fprintln(os.Stdout, res.Response)
		}
		if !res.Success {
			return errors.New(res.Error)
		}
		return nil
	},
}

func init() {
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the full turn result as JSON")
	rootCmd.AddCommand(askCmd)
}
