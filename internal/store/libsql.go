package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/weft/internal/logging"
	"github.com/rendis/weft/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db  *sql.DB
	log *slog.Logger
}

// New opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func New(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db, log: slog.Default()}, nil
}

// SetLogger replaces the store's logger. New defaults to slog.Default.
func (s *LibSQLStore) SetLogger(log *slog.Logger) {
	if log != nil {
		s.log = log
	}
}

// logOp emits one Debug line per committed mutation, carrying the
// correlation ids so a wrapping handler can attach them.
func (s *LibSQLStore) logOp(ctx context.Context, projectID, nodeID, op, msg string) {
	ctx = logging.WithIDs(ctx, projectID, nodeID, op)
	logging.LogWith(ctx, s.log).DebugContext(ctx, msg)
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so row helpers can run inside
// or outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// --- Projects ---

const projectColumns = `id, title, description, settings, schema, owner_id, created_at, updated_at`

func (s *LibSQLStore) CreateProject(ctx context.Context, p *schema.Project) error {
	settings, err := marshalMapOrDefault(p.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	sch, err := marshalMapOrDefault(p.Schema)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	now := timeOrNow(p.CreatedAt)
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO projects (id, title, description, settings, schema, owner_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.Description, string(settings), string(sch), nullStr(p.OwnerID), now, now,
	)
	if err != nil && isUniqueViolation(err) {
		return schema.NewErrorf(schema.ErrCodeConflict, "project %q already exists", p.ID)
	}
	return err
}

func (s *LibSQLStore) GetProject(ctx context.Context, id string) (*schema.Project, error) {
	return getProject(ctx, s.db, id)
}

func getProject(ctx context.Context, q dbtx, id string) (*schema.Project, error) {
	row := q.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, notFound("project", id)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *LibSQLStore) ListProjects(ctx context.Context) ([]*schema.Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*schema.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *LibSQLStore) UpdateProject(ctx context.Context, id string, update ProjectUpdate) error {
	var sets []string
	var args []any

	if update.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *update.Title)
	}
	if update.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *update.Description)
	}
	if update.Settings != nil {
		settings, err := marshalMapOrDefault(*update.Settings)
		if err != nil {
			return fmt.Errorf("marshal settings: %w", err)
		}
		sets = append(sets, "settings = ?")
		args = append(args, string(settings))
	}
	if update.Schema != nil {
		sch, err := marshalMapOrDefault(*update.Schema)
		if err != nil {
			return fmt.Errorf("marshal schema: %w", err)
		}
		sets = append(sets, "schema = ?")
		args = append(args, string(sch))
	}
	if update.OwnerID != nil {
		sets = append(sets, "owner_id = ?")
		args = append(args, nullStr(*update.OwnerID))
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	query := fmt.Sprintf("UPDATE projects SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "project", id)
}

func (s *LibSQLStore) DeleteProject(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := getProject(ctx, tx, id); err != nil {
		return err
	}
	for _, table := range []string{"runs", "assets", "edges", "nodes", "projects"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s = ?", table, projectKeyColumn(table)), id); err != nil {
			return fmt.Errorf("delete from %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func projectKeyColumn(table string) string {
	if table == "projects" {
		return "id"
	}
	return "project_id"
}

// ProjectView assembles the full read model of a project. It is the snapshot
// capability edge and transformer operations use to return the refreshed
// graph after a mutation.
func (s *LibSQLStore) ProjectView(ctx context.Context, id string) (*schema.ProjectView, error) {
	p, err := s.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	nodes, err := s.ListNodes(ctx, id)
	if err != nil {
		return nil, err
	}
	edges, err := s.ListEdges(ctx, id)
	if err != nil {
		return nil, err
	}
	return &schema.ProjectView{Project: p, Nodes: nodes, Edges: edges}, nil
}

func scanProject(scanner interface{ Scan(dest ...any) error }) (*schema.Project, error) {
	p := &schema.Project{}
	var description, settings, sch, owner sql.NullString
	err := scanner.Scan(&p.ID, &p.Title, &description, &settings, &sch, &owner, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Description = description.String
	p.OwnerID = owner.String
	p.Settings = mapOrNil(settings)
	p.Schema = mapOrNil(sch)
	return p, nil
}

// touchProject bumps a project's updated_at inside the caller's transaction
// and returns the new timestamp.
func touchProject(ctx context.Context, q dbtx, id string) (time.Time, error) {
	now := time.Now().UTC()
	res, err := q.ExecContext(ctx, `UPDATE projects SET updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return time.Time{}, err
	}
	if err := checkRowsAffected(res, "project", id); err != nil {
		return time.Time{}, err
	}
	return now, nil
}

// --- Helpers ---

func notFound(resource, id string) *schema.WeftError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(resource, id)
	}
	return nil
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
// libSQL surfaces SQLite error text, so string matching is the stable check.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}

func mapOrNil(ns sql.NullString) map[string]any {
	if !ns.Valid || ns.String == "" || ns.String == "{}" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil
	}
	return m
}
