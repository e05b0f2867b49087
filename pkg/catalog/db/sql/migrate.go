// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"fmt"
	"strings"

	"github.com/LeeDigitalWorks/stacasset/pkg/catalog/db"
)

// Migrate creates the schema_migrations table and applies pending
// migrations for the given driver.
func (s *Store) Migrate(ctx context.Context, driver db.Driver) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}
	return db.RunMigrations(ctx, &migrator{store: s}, driver)
}

// migrator implements db.Migrator for every SQL dialect.
type migrator struct {
	store *Store
}

func (m *migrator) CurrentVersion(ctx context.Context) (int, error) {
	var version int
	err := m.store.QueryRow(ctx, `
		SELECT COALESCE(MAX(version), 0) FROM schema_migrations
	`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("get current version: %w", err)
	}
	return version, nil
}

func (m *migrator) Apply(ctx context.Context, migration db.Migration) error {
	for _, stmt := range SplitStatements(migration.SQL) {
		if _, err := m.store.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute statement: %w", err)
		}
	}
	return nil
}

func (m *migrator) SetVersion(ctx context.Context, version int) error {
	_, err := m.store.Exec(ctx, `
		INSERT INTO schema_migrations (version) VALUES ($1)
	`, version)
	if err != nil {
		return fmt.Errorf("record migration version: %w", err)
	}
	return nil
}

// SplitStatements splits a SQL script into individual statements, dropping
// leading comment lines and empty statements.
func SplitStatements(script string) []string {
	var out []string
	for _, stmt := range splitSQLStatements(script) {
		if stmt = stripLeadingComments(strings.TrimSpace(stmt)); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// stripLeadingComments removes leading SQL comment lines from a statement.
func stripLeadingComments(stmt string) string {
	lines := strings.Split(stmt, "\n")
	for len(lines) > 0 {
		line := strings.TrimSpace(lines[0])
		if line == "" || strings.HasPrefix(line, "--") {
			lines = lines[1:]
			continue
		}
		break
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// splitSQLStatements splits a SQL script into individual statements.
// It handles semicolons inside strings and comments.
func splitSQLStatements(sql string) []string {
	var statements []string
	var current strings.Builder
	inString := false
	stringChar := byte(0)
	inLineComment := false
	inBlockComment := false

	for i := 0; i < len(sql); i++ {
		c := sql[i]

		if !inString && !inBlockComment && i+1 < len(sql) && c == '-' && sql[i+1] == '-' {
			inLineComment = true
			current.WriteByte(c)
			continue
		}

		if inLineComment {
			current.WriteByte(c)
			if c == '\n' {
				inLineComment = false
			}
			continue
		}

		if !inString && i+1 < len(sql) && c == '/' && sql[i+1] == '*' {
			inBlockComment = true
			current.WriteByte(c)
			continue
		}

		if inBlockComment {
			current.WriteByte(c)
			if c == '*' && i+1 < len(sql) && sql[i+1] == '/' {
				current.WriteByte(sql[i+1])
				i++
				inBlockComment = false
			}
			continue
		}

		if !inString && (c == '\'' || c == '"') {
			inString = true
			stringChar = c
			current.WriteByte(c)
			continue
		}

		if inString {
			current.WriteByte(c)
			if c == stringChar {
				// Doubled quote is an escaped quote
				if i+1 < len(sql) && sql[i+1] == stringChar {
					current.WriteByte(sql[i+1])
					i++
					continue
				}
				inString = false
			}
			continue
		}

		if c == ';' {
			if stmt := strings.TrimSpace(current.String()); stmt != "" {
				statements = append(statements, stmt)
			}
			current.Reset()
			continue
		}

		current.WriteByte(c)
	}

	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		statements = append(statements, stmt)
	}

	return statements
}
