// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestPostgresDialect_Placeholder(t *testing.T) {
	d := PostgresDialect{}

	assert.Equal(t, "$1", d.Placeholder(1))
	assert.Equal(t, "$10", d.Placeholder(10))
}

func TestPostgresDialect_ReplacePlaceholders(t *testing.T) {
	d := PostgresDialect{}

	// PostgreSQL dialect should not change placeholders
	query := "SELECT * FROM assets WHERE collection_id = $1 AND name = $2"
	assert.Equal(t, query, d.ReplacePlaceholders(query))
}

func TestMySQLDialect_ReplacePlaceholders(t *testing.T) {
	d := MySQLDialect{}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "simple",
			input:    "SELECT * FROM assets WHERE id = $1",
			expected: "SELECT * FROM assets WHERE id = ?",
		},
		{
			name:     "two digit placeholders",
			input:    "VALUES ($1, $2, $10, $11, $12)",
			expected: "VALUES (?, ?, ?, ?, ?)",
		},
		{
			name:     "no placeholders",
			input:    "SELECT 1",
			expected: "SELECT 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, d.ReplacePlaceholders(tt.input))
		})
	}
}

func TestSQLiteDialect_ReplacePlaceholders(t *testing.T) {
	d := SQLiteDialect{}

	assert.Equal(t, "WHERE a = ?1 AND b = ?12 AND c = ?1", d.ReplacePlaceholders("WHERE a = $1 AND b = $12 AND c = $1"))
	assert.Equal(t, "?3", d.Placeholder(3))
}

func TestDialect_BoolColumn(t *testing.T) {
	assert.Equal(t, "is_external = FALSE", PostgresDialect{}.BoolColumn("is_external", false))
	assert.Equal(t, "is_external = 1", MySQLDialect{}.BoolColumn("is_external", true))
	assert.Equal(t, "is_external = 0", SQLiteDialect{}.BoolColumn("is_external", false))
}

func TestDialect_UpsertSuffix(t *testing.T) {
	cols := []string{"etag", "size"}

	assert.Equal(t,
		" ON CONFLICT (upload_pk, part_number) DO UPDATE SET etag = EXCLUDED.etag, size = EXCLUDED.size",
		PostgresDialect{}.UpsertSuffix("upload_pk, part_number", cols))
	assert.Equal(t,
		" ON DUPLICATE KEY UPDATE etag = VALUES(etag), size = VALUES(size)",
		MySQLDialect{}.UpsertSuffix("upload_pk, part_number", cols))
	assert.Equal(t, "", SQLiteDialect{}.UpsertSuffix("upload_pk", nil))
}

func TestDialect_UpsertIncrementSuffix(t *testing.T) {
	assert.Equal(t,
		" ON CONFLICT (collection_id, value_key) DO UPDATE SET count = gsd_counts.count + EXCLUDED.count",
		PostgresDialect{}.UpsertIncrementSuffix("gsd_counts", "collection_id, value_key", "count"))
	assert.Equal(t,
		" ON DUPLICATE KEY UPDATE count = count + VALUES(count)",
		MySQLDialect{}.UpsertIncrementSuffix("gsd_counts", "collection_id, value_key", "count"))
}

func TestDialect_ForUpdate(t *testing.T) {
	assert.Equal(t, " FOR UPDATE", PostgresDialect{}.ForUpdate())
	assert.Equal(t, " FOR UPDATE", MySQLDialect{}.ForUpdate())
	assert.Equal(t, "", SQLiteDialect{}.ForUpdate())
}

func TestDialect_IsUniqueViolation(t *testing.T) {
	pgDup := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	pgOther := &pgconn.PgError{Code: "23503"}
	myDup := fmt.Errorf("insert: %w", &mysql.MySQLError{Number: 1062})

	assert.True(t, PostgresDialect{}.IsUniqueViolation(pgDup))
	assert.False(t, PostgresDialect{}.IsUniqueViolation(pgOther))
	assert.True(t, MySQLDialect{}.IsUniqueViolation(myDup))
	assert.False(t, MySQLDialect{}.IsUniqueViolation(errors.New("boom")))
	assert.False(t, SQLiteDialect{}.IsUniqueViolation(errors.New("boom")))
}

func TestSplitStatements(t *testing.T) {
	script := `-- header comment
CREATE TABLE a (x TEXT DEFAULT ';');

/* block; comment */
CREATE INDEX a_idx ON a (x);
-- trailing
`
	stmts := SplitStatements(script)
	assert.Equal(t, []string{
		"CREATE TABLE a (x TEXT DEFAULT ';')",
		"/* block; comment */\nCREATE INDEX a_idx ON a (x)",
	}, stmts)
}
