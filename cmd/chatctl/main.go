package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chatctl",
	Short: "Origin Chat CLI - talk to the assistant and manage conversations",
	Long: `chatctl is the command-line companion to the Origin Chat server.

Examples:
  # Chat with the assistant like a website visitor
  chatctl chat --name Dana --email dana@example.com

  # Conversation console (needs ADMIN_API_TOKEN or --token)
  chatctl conversations list --status active
  chatctl conversations show <id>
  chatctl conversations status <id> closed
  chatctl conversations delete <id>

  # Archive quiet conversations once, e.g. from cron
  chatctl sweep --inactive-for 720h`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(sweepCmd)

	rootCmd.PersistentFlags().String("server", envOr("CHATCTL_SERVER", "http://localhost:8080"), "Chat server base URL")
	rootCmd.PersistentFlags().String("token", os.Getenv("ADMIN_API_TOKEN"), "Admin API token")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func serverURL(cmd *cobra.Command) string {
	v, _ := cmd.Flags().GetString("server")
	return v
}
