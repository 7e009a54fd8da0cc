package main

import (
	"fmt"
	"time"

	"github.com/itorigin/origin-chat/internal/archive"
	"github.com/itorigin/origin-chat/internal/config"
	"github.com/itorigin/origin-chat/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Archive conversations with no recent activity",
	Long: `Archive active and closed conversations whose last activity is older than
--inactive-for. Connects to the database configured by DB_DRIVER and DB_DSN.

Examples:
  chatctl sweep --inactive-for 720h
  chatctl sweep                       # uses ARCHIVE_INACTIVE_AFTER`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().Duration("inactive-for", 0, "Inactivity threshold (defaults to ARCHIVE_INACTIVE_AFTER)")
}

func runSweep(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	inactiveFor, _ := cmd.Flags().GetDuration("inactive-for")
	if inactiveFor <= 0 {
		inactiveFor = cfg.Archive.InactiveAfter
	}
	if inactiveFor <= 0 {
		return fmt.Errorf("set --inactive-for or ARCHIVE_INACTIVE_AFTER to a positive duration")
	}

	repo, err := store.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer repo.Close()

	ids, err := archive.NewSweeper(repo, inactiveFor, nil).Sweep(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Archived %d conversation(s) inactive for more than %s\n", len(ids), inactiveFor.Round(time.Second))
	for _, id := range ids {
		fmt.Fprintf(out, "  %s\n", id)
	}
	return nil
}
