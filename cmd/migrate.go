// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/LeeDigitalWorks/stacasset/pkg/logger"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply catalog schema migrations",
	Long: `Create or upgrade the catalog tables (collections, items, assets,
upload sessions and value counts) for the configured database driver.
Running it again on an up to date database is a no-op.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	a, err := bootstrap(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.db.Migrate(cmd.Context()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info().Str("driver", a.opts.DBDriver).Msg("catalog schema is up to date")
	fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
	return nil
}
