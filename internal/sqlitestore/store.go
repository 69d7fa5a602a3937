// Package sqlitestore implements memorycore.Store against SQLite via
// modernc.org/sqlite (pure-Go, CGO-free), the way internal/data/db.go
// does for the teacher's knowledge store. It embeds its own schema.sql
// rather than the teacher's multi-migration set, since this module's
// table surface is new.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// Store implements memorycore.Store against a single SQLite file.
type Store struct {
	db *sql.DB
}

// Open creates the data directory if needed, opens dbPath with WAL-mode
// pragmas, and applies schema.sql. Grounded on internal/data/db.go's
// NewDB/initPragmas; unlike the teacher, this module deliberately carries
// no package-level global store accessor (SPEC_FULL.md §9).
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "memory.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.initPragmas(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize pragmas: %w", err)
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// DB returns the underlying *sql.DB, for callers (such as metrics.NewStore)
// that attach auxiliary tables to the same database file.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) initPragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA mmap_size = 268435456",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("execute %s: %w", p, err)
		}
	}
	return nil
}

func (s *Store) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range splitSQL(schema) {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute statement %d: %w\nSQL: %s", i+1, err, stmt)
		}
	}
	return tx.Commit()
}

// splitSQL splits schema.sql on statement-terminating semicolons, treating
// a "BEGIN ... END;" trigger body as a single statement. Adapted from
// internal/data/db.go's splitSQL.
func splitSQL(src string) []string {
	var statements []string
	var current strings.Builder
	beginDepth := 0

	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		upper := strings.ToUpper(trimmed)
		if strings.Contains(upper, " BEGIN") || strings.HasPrefix(upper, "BEGIN") {
			beginDepth++
		}

		current.WriteString(line)
		current.WriteString("\n")

		if strings.HasSuffix(trimmed, ";") {
			if beginDepth > 0 {
				if strings.EqualFold(trimmed, "END;") {
					beginDepth--
				} else {
					continue
				}
			}
			statements = append(statements, current.String())
			current.Reset()
		}
	}
	if rest := strings.TrimSpace(current.String()); rest != "" {
		statements = append(statements, rest)
	}
	return statements
}

// Close flushes the WAL and closes the connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "warning: wal checkpoint failed: %v\n", err)
	}
	return s.db.Close()
}

func nowUTC() time.Time { return time.Now().UTC() }

func nowMilli(t time.Time) int64 { return t.UnixMilli() }
func fromMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
