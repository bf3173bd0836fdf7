package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "supportflow",
	Short: "Supportflow is a customer support conversation runtime",
	Long: `Supportflow routes inbound customer messages to workflow graphs,
persists conversation checkpoints, and hands off to humans when
automation cannot resolve the request.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "supportflow.yaml", "Path to the configuration file")
}
