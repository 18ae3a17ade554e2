package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "crewd",
	Short: "crewd - coordination daemon for autonomous coding agents",
	Long: `crewd coordinates multiple independently-running agent processes that edit
a shared codebase: exclusive file locks, a dependency-ordered work queue,
agent liveness tracking with dead-agent reclamation, and session handoffs.`,
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	apiAddr  string
	apiToken string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:7467", "API server address")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", "", "Bearer token for the API server")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(handoffCmd)
	rootCmd.AddCommand(tuiCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
