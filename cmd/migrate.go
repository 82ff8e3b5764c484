/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"log/slog"

	"github.com/sempr/labjudge/internal/daemon"
	"github.com/sempr/labjudge/internal/store"
	"github.com/spf13/cobra"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the submission table in the configured database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := daemon.Setup(home)
		if err != nil {
			return err
		}
		dsn := cfg.DSN()
		if dsn == "" {
			return errors.New("no database configured (OJ_DB_DRIVER, OJ_HOST_NAME)")
		}
		st, err := store.Open(cfg.DBDriver, dsn)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(cmd.Context()); err != nil {
			return err
		}
		slog.Info("schema ready", "driver", cfg.DBDriver, "database", cfg.DBName)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
