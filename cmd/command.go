// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"

	"github.com/LeeDigitalWorks/stacasset/pkg/env"
	"github.com/LeeDigitalWorks/stacasset/pkg/logger"
	"github.com/LeeDigitalWorks/stacasset/pkg/upload"
	"github.com/LeeDigitalWorks/stacasset/pkg/utils"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "stacasset",
	Short: "stacasset - STAC asset uploads and catalog aggregates",
	Long: `stacasset manages object-storage uploads of STAC assets and keeps the
derived collection and item aggregates consistent with the asset rows.
Use it to migrate the catalog schema, inspect and abort upload sessions,
rebuild aggregates and probe unknown asset sizes.`,
	PersistentPreRunE: initializeConfig,
	SilenceUsage:      true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&utils.ConfigurationFileDirectory, "config_dir", ".", "Directory for configuration files")
	f.String("log_level", "info", "Log level (debug, info, warn, error, fatal)")
	f.String("debug_addr", "", "Serve /metrics, /healthz, /readyz and pprof on this address")

	f.String("db_driver", "sqlite", "Database driver (sqlite, mysql, postgres, cockroachdb, memory)")
	f.String("db_dsn", "", "Database connection string")
	f.Int("db_max_open_conns", 25, "Maximum open database connections")
	f.Int("db_max_idle_conns", 5, "Maximum idle database connections")
	f.String("db_tls_mode", "", "Database TLS mode (disabled, preferred, required, verify-ca)")
	f.String("db_tls_ca_file", "", "Path to CA certificate file for database TLS (verify-ca mode)")

	f.Duration("presign_ttl", upload.DefaultPresignTTL, "Lifetime of presigned upload URLs")
	f.Int64("multipart_threshold", upload.DefaultMultipartThreshold, "Declared size above which uploads use multipart")
	f.Int64("part_size", upload.DefaultPartSize, "Part size used to derive the number of parts")

	viper.BindPFlags(f)
}

// initializeConfig loads the config file and applies logging settings
// before any subcommand runs.
func initializeConfig(cmd *cobra.Command, args []string) error {
	utils.LoadConfiguration("stacasset", false)
	env.Load()
	if env.IsLocal() {
		logger.SetOutput(os.Stderr, true)
	}

	level, err := zerolog.ParseLevel(NewFlagLoader(cmd).String("log_level"))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(level)
	return nil
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
