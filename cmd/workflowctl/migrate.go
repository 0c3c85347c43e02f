package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/migrations"
	"github.com/garyjia/approval-engine/pkg/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(m *database.Migrator) error {
			if err := m.Up(); err != nil {
				return err
			}
			return printVersion(m)
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back every migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(m *database.Migrator) error {
			return m.Down()
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(printVersion)
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateVersionCmd)
}

func withMigrator(fn func(m *database.Migrator) error) error {
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(database.NewMigrator(a.conn.DB, migrations.FS, migrations.SQLite, a.logger))
}

func printVersion(m *database.Migrator) error {
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(map[string]interface{}{"version": version, "dirty": dirty})
	}
	fmt.Printf("schema version %d (dirty: %t)\n", version, dirty)
	return nil
}
