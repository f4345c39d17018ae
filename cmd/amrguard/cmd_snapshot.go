package main

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/zatekoja/amrguard/internal/adapters/database"
	"github.com/zatekoja/amrguard/internal/adapters/memory"
	"github.com/zatekoja/amrguard/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/amrguard/internal/infrastructure/clients/sqlite"
	"github.com/zatekoja/amrguard/pkg/config"
)

// snapshotCmd groups reference snapshot maintenance
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage reference snapshots",
}

// snapshotPublishCmd loads a snapshot file into the reference database
var snapshotPublishCmd = &cobra.Command{
	Use:   "publish [snapshot.json]",
	Short: "Publish a reference snapshot and make it active",
	Long: `Writes every table of the snapshot under its version and activates it in
one transaction. Running servers pick it up on their next refresh; runs in
flight finish on the snapshot they started with.

Example:
  REFERENCE_DRIVER=sqlite amrguard snapshot publish data/reference_snapshot.json`,
	Args: cobra.ExactArgs(1),
	RunE: publishSnapshot,
}

func init() {
	snapshotCmd.AddCommand(snapshotPublishCmd)
}

func publishSnapshot(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	snap, err := memory.LoadSnapshotFile(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	var (
		db      *sql.DB
		dialect string
	)
	switch cfg.Reference.Driver {
	case config.ReferenceDriverSQLite:
		client, err := sqlite.NewClient(cfg.Reference.SQLitePath, true)
		if err != nil {
			return err
		}
		defer client.Close()
		db, dialect = client.DB(), database.DialectSQLite
	case config.ReferenceDriverPostgres:
		client, err := postgres.NewClient(&cfg.Database)
		if err != nil {
			return err
		}
		defer client.Close()
		db, dialect = client.DB(), database.DialectPostgres
	default:
		return fmt.Errorf("reference driver %q has no database to publish to", cfg.Reference.Driver)
	}

	if err := database.EnsureSchema(ctx, db, dialect); err != nil {
		return err
	}
	if err := database.NewReferenceAdapter(db, dialect, nil).PublishSnapshot(ctx, snap); err != nil {
		return err
	}

	log.Info().Str("version", snap.Version).Str("driver", cfg.Reference.Driver).Msg("reference snapshot published")
	fmt.Fprintf(cmd.OutOrStdout(), "published snapshot %s\n", snap.Version)
	return nil
}
