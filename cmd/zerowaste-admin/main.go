// README: Operator CLI for sweeps, alerts, match previews, migrations and dev tokens.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
