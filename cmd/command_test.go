// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/LeeDigitalWorks/stacasset/pkg/catalog/db/sqlite"
	"github.com/LeeDigitalWorks/stacasset/pkg/storage"
	"github.com/LeeDigitalWorks/stacasset/pkg/utils"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the root command with a config file holding cfg and returns
// what it printed. Commands share viper and cobra state, so tests using it
// do not run in parallel.
func run(t *testing.T, cfg string, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stacasset.yaml"), []byte(cfg), 0o600))

	resetFlags(rootCmd)
	viper.Reset()
	viper.BindPFlags(rootCmd.PersistentFlags())
	t.Cleanup(func() {
		viper.Reset()
		resetFlags(rootCmd)
		utils.ConfigurationFileDirectory = "."
	})

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--config_dir", dir}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// resetFlags restores flag defaults between runs of the shared root command.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if !f.Changed {
			return
		}
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sv.Replace(nil)
		} else {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.PersistentFlags().VisitAll(reset)
	c.Flags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func sqliteConfig(t *testing.T) (string, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	return path, "db_driver: sqlite\ndb_dsn: " + path + "\nlog_level: error\n" +
		"buckets:\n  - id: primary\n    name: stac-primary\n    driver: memory\n"
}

func TestMaskDSN(t *testing.T) {
	tests := []struct {
		dsn, want string
	}{
		{dsn: "", want: "(none)"},
		{dsn: "short", want: "***"},
		{dsn: "postgres://user:secret@db:5432/catalog", want: "postgres:/***talog"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, maskDSN(tt.dsn))
	}
}

func TestInitializeDatabase(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr string
	}{
		{name: "memory", opts: Options{DBDriver: "memory"}},
		{name: "sqlite", opts: Options{DBDriver: "sqlite", DBDSN: filepath.Join(t.TempDir(), "c.db")}},
		{name: "sqlite without dsn", opts: Options{DBDriver: "sqlite"}, wantErr: "--db_dsn required for sqlite driver"},
		{name: "postgres without dsn", opts: Options{DBDriver: "postgres"}, wantErr: "--db_dsn required for postgres driver"},
		{name: "mysql without dsn", opts: Options{DBDriver: "mysql"}, wantErr: "--db_dsn required for mysql driver"},
		{name: "unknown", opts: Options{DBDriver: "oracle"}, wantErr: "unknown driver: oracle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := initializeDatabase(tt.opts)
			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NoError(t, d.Close())
		})
	}
}

func TestLoadOptions(t *testing.T) {
	_, cfg := sqliteConfig(t)
	cfg += "bucket_pins:\n  landsat: primary\npart_size: 1048576\n"
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stacasset.yaml"), []byte(cfg), 0o600))

	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.BindPFlags(rootCmd.PersistentFlags())
	utils.ConfigurationFileDirectory = dir
	t.Cleanup(func() { utils.ConfigurationFileDirectory = "." })
	require.True(t, utils.LoadConfiguration("stacasset", false))

	opts, err := loadOptions(migrateCmd)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", opts.DBDriver)
	assert.Equal(t, int64(1048576), opts.PartSize)
	assert.Equal(t, int64(100<<20), opts.MultipartThreshold)
	assert.Equal(t, map[string]string{"landsat": "primary"}, opts.BucketPins)
	want := []storage.BucketConfig{{ID: "primary", Name: "stac-primary", Driver: "memory"}}
	if diff := cmp.Diff(want, opts.Buckets); diff != "" {
		t.Errorf("buckets mismatch (-want +got):\n%s", diff)
	}
}

func TestMigrateAndList(t *testing.T) {
	path, cfg := sqliteConfig(t)

	out, err := run(t, cfg, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "migrations applied")

	d, err := sqlite.New(path)
	require.NoError(t, err)
	_, err = d.ListCollections(context.Background())
	require.NoError(t, err)
	require.NoError(t, d.Close())

	out, err = run(t, cfg, "uploads", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "0 session(s)")

	_, err = run(t, cfg, "uploads", "list", "--status", "bogus")
	assert.EqualError(t, err, `unknown upload status "bogus"`)

	out, err = run(t, cfg, "aggregates", "rebuild")
	require.NoError(t, err)
	assert.Contains(t, out, "0 collection(s) rebuilt")
}

func TestAbortStaleRequiresPositiveAge(t *testing.T) {
	_, cfg := sqliteConfig(t)
	_, err := run(t, cfg, "uploads", "abort-stale", "--older_than", "0s")
	assert.EqualError(t, err, "--older_than must be positive")
}

func TestVersion(t *testing.T) {
	out, err := run(t, "log_level: error\n", "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "stacasset dev"), out)
}
