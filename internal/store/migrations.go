package store

import (
	"context"
	"database/sql"
	_ "embed"
	"strings"

	"github.com/rendis/weft/pkg/schema"
)

//go:embed migrations/001_initial_schema.sql
var initialSchemaSQL string

// revision is one versioned step of the graph schema. Revisions apply in
// order inside their own transaction and are recorded in graph_revisions,
// so reopening a store is always a no-op past the recorded version.
type revision struct {
	version int
	name    string
	script  string
}

var revisions = []revision{
	{version: 1, name: "initial_schema", script: initialSchemaSQL},
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS graph_revisions (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return schema.NewError(schema.ErrCodeStore, "create graph_revisions").WithCause(err)
	}

	var applied int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM graph_revisions`).Scan(&applied); err != nil {
		return schema.NewError(schema.ErrCodeStore, "read graph_revisions").WithCause(err)
	}

	for _, rev := range revisions {
		if rev.version <= applied {
			continue
		}
		if err := applyRevision(ctx, db, rev); err != nil {
			return err
		}
	}
	return nil
}

func applyRevision(ctx context.Context, db *sql.DB, rev revision) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "begin revision %d", rev.version).WithCause(err)
	}
	defer tx.Rollback()

	for _, stmt := range scriptStatements(rev.script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "revision %d (%s)", rev.version, rev.name).WithCause(err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO graph_revisions (version, name) VALUES (?, ?)`, rev.version, rev.name); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "record revision %d", rev.version).WithCause(err)
	}
	if err := tx.Commit(); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "commit revision %d", rev.version).WithCause(err)
	}
	return nil
}

// scriptStatements cuts a SQL script into executable statements, dropping
// fragments that hold nothing but comments.
func scriptStatements(script string) []string {
	var stmts []string
	for _, chunk := range strings.Split(script, ";") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" || onlyComments(chunk) {
			continue
		}
		stmts = append(stmts, chunk)
	}
	return stmts
}

func onlyComments(chunk string) bool {
	for _, line := range strings.Split(chunk, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}
