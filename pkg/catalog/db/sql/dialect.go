// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package sql provides a dialect-aware SQL implementation of the catalog
// store. It abstracts the differences between PostgreSQL, MySQL and SQLite,
// allowing a single implementation to support all three databases.
package sql

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect abstracts database-specific SQL syntax differences.
type Dialect interface {
	// Name returns the dialect name (e.g., "postgres", "mysql").
	Name() string

	// Placeholder returns the placeholder for the nth parameter (1-indexed).
	// PostgreSQL: "$1", "$2", "$3"
	// MySQL: "?", "?", "?"
	// SQLite: "?1", "?2", "?3"
	Placeholder(n int) string

	// ReplacePlaceholders converts PostgreSQL-style placeholders ($1, $2, ...)
	// to the dialect's format. This allows writing queries with PostgreSQL
	// syntax and converting them at runtime.
	ReplacePlaceholders(query string) string

	// BoolColumn returns how to reference a boolean column in WHERE clauses.
	// PostgreSQL: "column = TRUE"
	// MySQL/SQLite: "column = 1"
	BoolColumn(column string, value bool) string

	// ScanBool returns a scanner that can read a boolean from a row.
	// PostgreSQL: directly scans to bool
	// MySQL/SQLite: scans to int, then converts
	ScanBool() BoolScanner

	// UpsertSuffix returns the suffix for INSERT statements that should update on conflict.
	// PostgreSQL/SQLite: "ON CONFLICT (conflict_columns) DO UPDATE SET col1 = EXCLUDED.col1, ..."
	// MySQL: "ON DUPLICATE KEY UPDATE col1 = VALUES(col1), ..."
	UpsertSuffix(conflictColumns string, updateColumns []string) string

	// UpsertIncrementSuffix returns the suffix for an INSERT that adds the
	// inserted value to the existing row on conflict.
	UpsertIncrementSuffix(table, conflictColumns, column string) string

	// ForUpdate returns the row-locking clause appended to SELECT statements.
	// SQLite has no row locks; its transactions hold the database write lock.
	ForUpdate() string

	// IsUniqueViolation reports whether err is a unique or primary key violation.
	IsUniqueViolation(err error) bool
}

// BoolScanner scans a boolean value from SQL.
type BoolScanner interface {
	// Dest returns the destination for Scan().
	Dest() any
	// Value returns the scanned boolean value.
	Value() bool
}

// ============================================================================
// PostgreSQL Dialect
// ============================================================================

// PostgresDialect implements Dialect for PostgreSQL and CockroachDB.
type PostgresDialect struct{}

var _ Dialect = PostgresDialect{}

func (d PostgresDialect) Name() string {
	return "postgres"
}

func (d PostgresDialect) Placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func (d PostgresDialect) ReplacePlaceholders(query string) string {
	// PostgreSQL uses $1, $2, etc. - no conversion needed
	return query
}

func (d PostgresDialect) BoolColumn(column string, value bool) string {
	if value {
		return column + " = TRUE"
	}
	return column + " = FALSE"
}

func (d PostgresDialect) ScanBool() BoolScanner {
	return &directBoolScanner{}
}

func (d PostgresDialect) UpsertSuffix(conflictColumns string, updateColumns []string) string {
	return onConflictSuffix(conflictColumns, updateColumns)
}

func (d PostgresDialect) UpsertIncrementSuffix(table, conflictColumns, column string) string {
	return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s = %s.%s + EXCLUDED.%s", conflictColumns, column, table, column, column)
}

func (d PostgresDialect) ForUpdate() string {
	return " FOR UPDATE"
}

func (d PostgresDialect) IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// ============================================================================
// MySQL Dialect
// ============================================================================

// MySQLDialect implements Dialect for MySQL.
type MySQLDialect struct{}

var _ Dialect = MySQLDialect{}

func (d MySQLDialect) Name() string {
	return "mysql"
}

func (d MySQLDialect) Placeholder(n int) string {
	return "?"
}

func (d MySQLDialect) ReplacePlaceholders(query string) string {
	// Positional "?" cannot be reused, so queries passed to a MySQL store
	// reference each $N exactly once, in ascending order.
	return pgPlaceholder.ReplaceAllString(query, "?")
}

func (d MySQLDialect) BoolColumn(column string, value bool) string {
	if value {
		return column + " = 1"
	}
	return column + " = 0"
}

func (d MySQLDialect) ScanBool() BoolScanner {
	return &intBoolScanner{}
}

func (d MySQLDialect) UpsertSuffix(conflictColumns string, updateColumns []string) string {
	if len(updateColumns) == 0 {
		return ""
	}
	updates := make([]string, len(updateColumns))
	for i, col := range updateColumns {
		updates[i] = fmt.Sprintf("%s = VALUES(%s)", col, col)
	}
	return " ON DUPLICATE KEY UPDATE " + strings.Join(updates, ", ")
}

func (d MySQLDialect) UpsertIncrementSuffix(table, conflictColumns, column string) string {
	return fmt.Sprintf(" ON DUPLICATE KEY UPDATE %s = %s + VALUES(%s)", column, column, column)
}

func (d MySQLDialect) ForUpdate() string {
	return " FOR UPDATE"
}

func (d MySQLDialect) IsUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1062
}

// ============================================================================
// SQLite Dialect
// ============================================================================

// SQLiteDialect implements Dialect for SQLite.
type SQLiteDialect struct{}

var _ Dialect = SQLiteDialect{}

func (d SQLiteDialect) Name() string {
	return "sqlite"
}

func (d SQLiteDialect) Placeholder(n int) string {
	return fmt.Sprintf("?%d", n)
}

func (d SQLiteDialect) ReplacePlaceholders(query string) string {
	// ?NNN keeps the parameter index, so placeholders may repeat.
	return pgPlaceholder.ReplaceAllString(query, "?$1")
}

func (d SQLiteDialect) BoolColumn(column string, value bool) string {
	if value {
		return column + " = 1"
	}
	return column + " = 0"
}

func (d SQLiteDialect) ScanBool() BoolScanner {
	return &intBoolScanner{}
}

func (d SQLiteDialect) UpsertSuffix(conflictColumns string, updateColumns []string) string {
	return onConflictSuffix(conflictColumns, updateColumns)
}

func (d SQLiteDialect) UpsertIncrementSuffix(table, conflictColumns, column string) string {
	return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s = %s.%s + excluded.%s", conflictColumns, column, table, column, column)
}

func (d SQLiteDialect) ForUpdate() string {
	return ""
}

func (d SQLiteDialect) IsUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

// pgPlaceholder matches a PostgreSQL-style placeholder and captures its index.
var pgPlaceholder = regexp.MustCompile(`\$(\d+)`)

func onConflictSuffix(conflictColumns string, updateColumns []string) string {
	if len(updateColumns) == 0 {
		return ""
	}
	updates := make([]string, len(updateColumns))
	for i, col := range updateColumns {
		updates[i] = fmt.Sprintf("%s = EXCLUDED.%s", col, col)
	}
	return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", conflictColumns, strings.Join(updates, ", "))
}

// ============================================================================
// Boolean Scanners
// ============================================================================

// directBoolScanner scans boolean directly (for PostgreSQL).
type directBoolScanner struct {
	value bool
}

func (s *directBoolScanner) Dest() any {
	return &s.value
}

func (s *directBoolScanner) Value() bool {
	return s.value
}

// intBoolScanner scans boolean as int (for MySQL and SQLite).
type intBoolScanner struct {
	value int
}

func (s *intBoolScanner) Dest() any {
	return &s.value
}

func (s *intBoolScanner) Value() bool {
	return s.value != 0
}
