package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	server  string
	token   string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ticketafctl",
		Short: "Admin CLI for the ticketaf notification service",
		Long: `ticketafctl sends notifications to an audience (everyone, a role or a single
user) and inspects delivery statistics through the admin API.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&server, "server", envOr("TICKETAF_SERVER", "http://localhost:8080"), "Notification service URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("TICKETAF_TOKEN"), "Bearer token for the admin API")

	rootCmd.AddCommand(
		newTokenCmd(),
		newSendCmd(),
		newStatsCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
