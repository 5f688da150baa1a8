package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/acme/campaign-engine/internal/config"
	"github.com/acme/campaign-engine/migrations"
)

// Migration is one numbered schema file.
type Migration struct {
	Version int
	Name    string
	Body    string
}

// LoadMigrations reads NNNN_name.ext files from dir in fsys, ordered by version.
func LoadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	var out []Migration
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var v int
		if _, err := fmt.Sscanf(e.Name(), "%d_", &v); err != nil {
			return nil, fmt.Errorf("invalid migration filename %s: %w", e.Name(), err)
		}
		data, err := fs.ReadFile(fsys, dir+"/"+e.Name())
		if err != nil {
			return nil, err
		}
		out = append(out, Migration{Version: v, Name: e.Name(), Body: string(data)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// MigratePostgres applies pending embedded migrations in one transaction and
// records the reached version in schema_version.
func MigratePostgres(ctx context.Context, pg *Postgres) (int, error) {
	list, err := LoadMigrations(migrations.Postgres, "postgres")
	if err != nil {
		return 0, fmt.Errorf("migrate: load: %w", err)
	}

	tx, err := pg.DB().BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("migrate: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL)`); err != nil {
		return 0, fmt.Errorf("migrate: create schema_version: %w", err)
	}

	var current int
	err = tx.QueryRowxContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version(version) VALUES (0)`); err != nil {
			return 0, fmt.Errorf("migrate: init schema_version: %w", err)
		}
	} else if err != nil {
		return 0, fmt.Errorf("migrate: read schema_version: %w", err)
	}

	applied := 0
	for _, m := range list {
		if m.Version <= current {
			continue
		}
		if _, err := tx.ExecContext(ctx, m.Body); err != nil {
			return 0, fmt.Errorf("migrate: apply %s: %w", m.Name, err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE schema_version SET version = $1`, m.Version); err != nil {
			return 0, fmt.Errorf("migrate: bump version: %w", err)
		}
		applied++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("migrate: commit: %w", err)
	}
	return applied, nil
}

// MigrateScylla runs the embedded CQL statements. They are all idempotent, so
// every run applies the full set. It connects without a keyspace because the
// first statement creates it.
func MigrateScylla(ctx context.Context, cfg config.ScyllaConfig) error {
	list, err := LoadMigrations(migrations.Scylla, "scylla")
	if err != nil {
		return fmt.Errorf("migrate scylla: load: %w", err)
	}

	session, err := newCluster(cfg, "").CreateSession()
	if err != nil {
		return fmt.Errorf("migrate scylla: create session: %w", err)
	}
	defer session.Close()

	for _, m := range list {
		for _, stmt := range SplitStatements(m.Body) {
			if err := session.Query(stmt).WithContext(ctx).Exec(); err != nil {
				return fmt.Errorf("migrate scylla: %s: %w", m.Name, err)
			}
		}
	}
	return nil
}

// SplitStatements breaks a script on semicolons, dropping blanks and
// comment-only chunks.
func SplitStatements(script string) []string {
	var out []string
	for _, raw := range strings.Split(script, ";") {
		var lines []string
		for _, line := range strings.Split(raw, "\n") {
			if trimmed := strings.TrimSpace(line); trimmed != "" && !strings.HasPrefix(trimmed, "--") {
				lines = append(lines, line)
			}
		}
		if stmt := strings.TrimSpace(strings.Join(lines, "\n")); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
