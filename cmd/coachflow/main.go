// Command coachflow provisions coaching program packs for organizations,
// schedules them for engagements and generates their recurring runs. It
// works against SQLite or Postgres and can serve the same operations over
// HTTP with "coachflow serve".
package main

import (
	"fmt"
	"os"

	"github.com/ignatij/coachflow/internal/cli"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "coachflow",
	Short: "Provision coaching program packs and generate recurring workflow runs",
}

func main() {
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
