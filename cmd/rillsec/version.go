package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rill-lang/rillsec/internal/version"
)

// versionCmd implements the version command.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of rillsec",
	Run: func(_ *cobra.Command, _ []string) {
		info := version.Get()
		fmt.Printf("rillsec version %s\n", info.Full())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
