// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/LeeDigitalWorks/stacasset/pkg/aggregate"
	"github.com/LeeDigitalWorks/stacasset/pkg/asset"
	"github.com/LeeDigitalWorks/stacasset/pkg/catalog/db"
	"github.com/LeeDigitalWorks/stacasset/pkg/catalog/db/memory"
	"github.com/LeeDigitalWorks/stacasset/pkg/catalog/db/mysql"
	"github.com/LeeDigitalWorks/stacasset/pkg/catalog/db/postgres"
	"github.com/LeeDigitalWorks/stacasset/pkg/catalog/db/sqlite"
	"github.com/LeeDigitalWorks/stacasset/pkg/debug"
	"github.com/LeeDigitalWorks/stacasset/pkg/logger"
	"github.com/LeeDigitalWorks/stacasset/pkg/storage"
	"github.com/LeeDigitalWorks/stacasset/pkg/upload"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Options is the process configuration shared by all subcommands.
type Options struct {
	DebugAddr string

	DBDriver       string
	DBDSN          string
	DBMaxOpenConns int
	DBMaxIdleConns int
	DBTLSMode      string
	DBTLSCAFile    string

	PresignTTL         time.Duration
	MultipartThreshold int64
	PartSize           int64

	Buckets    []storage.BucketConfig
	BucketPins map[string]string
}

func loadOptions(cmd *cobra.Command) (Options, error) {
	f := NewFlagLoader(cmd)
	opts := Options{
		DebugAddr:          f.String("debug_addr"),
		DBDriver:           f.String("db_driver"),
		DBDSN:              f.String("db_dsn"),
		DBMaxOpenConns:     f.Int("db_max_open_conns"),
		DBMaxIdleConns:     f.Int("db_max_idle_conns"),
		DBTLSMode:          f.String("db_tls_mode"),
		DBTLSCAFile:        f.String("db_tls_ca_file"),
		PresignTTL:         f.Duration("presign_ttl"),
		MultipartThreshold: f.Int64("multipart_threshold"),
		PartSize:           f.Int64("part_size"),
		BucketPins:         viper.GetStringMapString("bucket_pins"),
	}
	if err := viper.UnmarshalKey("buckets", &opts.Buckets); err != nil {
		return opts, fmt.Errorf("invalid buckets config: %w", err)
	}
	return opts, nil
}

func initializeDatabase(opts Options) (db.DB, error) {
	driver := db.Driver(opts.DBDriver)
	logger.Info().Str("driver", string(driver)).Str("dsn", maskDSN(opts.DBDSN)).Msg("initializing database")

	switch driver {
	case db.DriverMySQL:
		if opts.DBDSN == "" {
			return nil, fmt.Errorf("--db_dsn required for %s driver", driver)
		}
		cfg := mysql.DefaultConfig(opts.DBDSN)
		cfg.MaxOpenConns = opts.DBMaxOpenConns
		cfg.MaxIdleConns = opts.DBMaxIdleConns
		cfg.TLSMode = mysql.TLSMode(opts.DBTLSMode)
		cfg.TLSCAFile = opts.DBTLSCAFile
		return mysql.NewMySQL(cfg)
	case db.DriverPostgres, db.DriverCockroach:
		if opts.DBDSN == "" {
			return nil, fmt.Errorf("--db_dsn required for %s driver", driver)
		}
		cfg := postgres.DefaultConfig(opts.DBDSN, driver)
		cfg.MaxOpenConns = opts.DBMaxOpenConns
		cfg.MaxIdleConns = opts.DBMaxIdleConns
		return postgres.NewPostgres(cfg)
	case db.DriverSQLite:
		if opts.DBDSN == "" {
			return nil, fmt.Errorf("--db_dsn required for %s driver", driver)
		}
		return sqlite.New(opts.DBDSN)
	case db.DriverMemory:
		d := memory.New()
		return d, d.Migrate(context.Background())
	default:
		return nil, fmt.Errorf("unknown driver: %s", driver)
	}
}

func maskDSN(dsn string) string {
	if dsn == "" {
		return "(none)"
	}
	if len(dsn) > 20 {
		return dsn[:10] + "***" + dsn[len(dsn)-5:]
	}
	return "***"
}

// app holds the services a subcommand works with.
type app struct {
	opts       Options
	db         db.DB
	storage    *storage.Manager
	maintainer *aggregate.Maintainer
	uploads    upload.Service
	assets     *asset.Service
	debug      *http.Server
}

// bootstrap opens the database and, when withStorage is set, the configured
// buckets and the services on top of them.
func bootstrap(cmd *cobra.Command, withStorage bool) (*app, error) {
	opts, err := loadOptions(cmd)
	if err != nil {
		return nil, err
	}
	debug.SetNotReady()

	a := &app{opts: opts, maintainer: aggregate.New()}
	if opts.DebugAddr != "" {
		if a.debug, err = debug.Serve(opts.DebugAddr); err != nil {
			return nil, fmt.Errorf("start debug server: %w", err)
		}
	}

	rawDB, err := initializeDatabase(opts)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	a.db = db.NewMetricsDB(rawDB)

	if withStorage {
		if a.storage, err = storage.Open(cmd.Context(), opts.Buckets, opts.BucketPins); err != nil {
			a.Close()
			return nil, fmt.Errorf("initialize storage: %w", err)
		}
		a.uploads, err = upload.NewService(upload.Config{
			DB:                 a.db,
			Storage:            a.storage,
			Maintainer:         a.maintainer,
			PresignTTL:         opts.PresignTTL,
			MultipartThreshold: opts.MultipartThreshold,
			PartSize:           opts.PartSize,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.assets, err = asset.NewService(asset.Config{DB: a.db, Storage: a.storage, Maintainer: a.maintainer})
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	debug.SetReady()
	return a, nil
}

// Close releases everything bootstrap opened.
func (a *app) Close() error {
	debug.SetNotReady()
	var errs []error
	if a.storage != nil {
		errs = append(errs, a.storage.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.debug != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, a.debug.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
