// Command analyst answers natural-language analytics questions against a
// configured data source.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
