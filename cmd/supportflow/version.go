package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the supportflow version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println("supportflow", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
