package main

import (
	"os"

	"impulse/internal/cli/cmd"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dispatcher",
		Short: "Run pipeline tasks as single-shot jobs and report their status",
	}

	cmd.RegisterCommands(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
