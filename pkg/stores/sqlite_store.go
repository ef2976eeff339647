package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/matijagrcic/sane-shopify/pkg/engine"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const memoryPath = ":memory:"

// SQLiteStore persists mirrored documents, credentials and run history in SQLite.
// It implements engine.TargetStore.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
	now func() time.Time
}

// NewSQLiteStore returns an unopened store. Call Init and Migrate before use.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("stores: database path is required")
	}
	return &SQLiteStore{cfg: cfg.withDefaults(), now: time.Now}, nil
}

func (c Config) withDefaults() Config {
	if c.Path == memoryPath {
		// Each connection to :memory: opens its own empty database.
		c.MaxOpenConns, c.MaxIdleConns, c.ConnMaxLifetime = 1, 1, 0
		return c
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
	return c
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close releases the connection pool.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck pings the database.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// Query returns the first document matching filter, or nil.
func (s *SQLiteStore) Query(ctx context.Context, filter engine.Filter) (*engine.TargetDocument, error) {
	docs, err := s.queryDocuments(ctx, s.db, filter, 1)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return &docs[0], nil
}

// QueryAll returns every document matching filter in insertion order.
func (s *SQLiteStore) QueryAll(ctx context.Context, filter engine.Filter) ([]engine.TargetDocument, error) {
	return s.queryDocuments(ctx, s.db, filter, 0)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// queryDocuments narrows by the indexed columns in SQL and applies the
// relation filter on the decoded trees.
func (s *SQLiteStore) queryDocuments(ctx context.Context, q queryer, filter engine.Filter, limit int) ([]engine.TargetDocument, error) {
	var where []string
	var args []any
	if filter.ID != "" {
		where = append(where, "id = ?")
		args = append(args, filter.ID)
	}
	if filter.ExternalID != "" {
		where = append(where, "external_id = ?")
		args = append(args, filter.ExternalID)
	}
	if filter.Handle != "" {
		where = append(where, "handle = ?")
		args = append(args, filter.Handle)
	}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, filter.Type)
	}
	if filter.Archived != nil {
		where = append(where, "archived = ?")
		args = append(args, *filter.Archived)
	}

	query := "SELECT tree FROM documents"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	docs := []engine.TargetDocument{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc, err := decodeTree(raw)
		if err != nil {
			return nil, err
		}
		if !filter.Matches(doc) {
			continue
		}
		docs = append(docs, *doc)
		if limit > 0 && len(docs) == limit {
			break
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}

	return docs, nil
}

// Create stores doc under a new internal id.
func (s *SQLiteStore) Create(ctx context.Context, doc *engine.TargetDocument) (*engine.TargetDocument, error) {
	if doc.ExternalID == "" {
		return nil, fmt.Errorf("document external id is required")
	}

	created := doc.Clone()
	created.ID = uuid.New().String()
	now := s.now().UTC()
	created.CreatedAt, created.UpdatedAt = now, now

	var ops engine.PatchOps
	ops.AddSet(created.Tree())
	delete(ops.Sets, "_id")
	tree, err := ops.Apply(engine.Fields{"_id": created.ID})
	if err != nil {
		return nil, err
	}
	stored, err := engine.DocumentFromTree(tree)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}

	query := `
		INSERT INTO documents (id, external_id, type, handle, archived, tree, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		stored.ID,
		stored.ExternalID,
		stored.Type,
		stored.Handle,
		stored.Archived,
		string(raw),
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create document %s: %w", doc.ExternalID, err)
	}

	return stored, nil
}

// Patch starts a partial update of the document with internal id.
func (s *SQLiteStore) Patch(id string) engine.Patch {
	return &documentPatch{store: s, id: id}
}

// CountDocuments returns the number of stored documents by type.
func (s *SQLiteStore) CountDocuments(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM documents GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var docType string
		var n int
		if err := rows.Scan(&docType, &n); err != nil {
			return nil, fmt.Errorf("failed to scan document count: %w", err)
		}
		counts[docType] = n
	}
	return counts, rows.Err()
}

type documentPatch struct {
	store *SQLiteStore
	id    string
	ops   engine.PatchOps
}

func (p *documentPatch) Set(fields engine.Fields) engine.Patch {
	p.ops.AddSet(fields)
	return p
}

func (p *documentPatch) Unset(paths ...string) engine.Patch {
	p.ops.AddUnset(paths...)
	return p
}

// Commit reads, patches and writes the tree in one transaction.
func (p *documentPatch) Commit(ctx context.Context) (*engine.TargetDocument, error) {
	s := p.store
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT tree FROM documents WHERE id = ?`, p.id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document not found: %s", p.id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", p.id, err)
	}

	var tree engine.Fields
	if err := json.Unmarshal([]byte(raw), &tree); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", p.id, err)
	}
	updated, err := p.ops.Apply(tree)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	updated["_updatedAt"] = formatTime(now)

	doc, err := engine.DocumentFromTree(updated)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(updated)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}

	query := `
		UPDATE documents
		SET external_id = ?, type = ?, handle = ?, archived = ?, tree = ?, updated_at = ?
		WHERE id = ?
	`
	_, err = tx.ExecContext(ctx, query,
		doc.ExternalID,
		doc.Type,
		doc.Handle,
		doc.Archived,
		string(encoded),
		formatTime(now),
		p.id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update document %s: %w", p.id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit document %s: %w", p.id, err)
	}
	return doc, nil
}

func decodeTree(raw string) (*engine.TargetDocument, error) {
	var tree engine.Fields
	if err := json.Unmarshal([]byte(raw), &tree); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return engine.DocumentFromTree(tree)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
