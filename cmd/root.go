// Package cmd defines the mentor command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mentor",
	Short: "Mentor - a research assistant chat backend",
	Long: `Mentor is a chat backend for research assistance. It keeps
conversations in memory, indexes uploaded documents into PostgreSQL
with pgvector, and augments each reply with retrieval over them.

Run "mentor serve" to start the HTTP API.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
