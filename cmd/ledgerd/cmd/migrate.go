package cmd

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leafsii/leafsii-lending/internal/config"
	"github.com/leafsii/leafsii-lending/internal/journal"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down|status]",
	Short:     "Apply or inspect event journal migrations",
	Long:      `Migrate runs the embedded goose migrations against LDG_JOURNAL_DRIVER / LDG_JOURNAL_DSN.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"up", "down", "status"},
	RunE:      runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Journal.Driver == "" {
		return fmt.Errorf("journal is disabled (LDG_JOURNAL_DRIVER is empty)")
	}

	db, err := sql.Open(cfg.Journal.Driver, cfg.Journal.DSN)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer db.Close()

	return journal.RunMigrations(cmd.Context(), db, cfg.Journal.Driver, args[0])
}
