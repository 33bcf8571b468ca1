// File path: internal/store/catalog.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Catalog is the SQLite-backed Store. Documents live in a single table
// keyed by (workspace_id, collection, id); the schema is migrated on open.
type Catalog struct {
	db *sqlx.DB
}

// Open constructs a Catalog at the provided path, falling back to the
// environment-derived configuration for pool settings.
func Open(path string) (*Catalog, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		cfg.Path = trimmed
	}
	return OpenWithConfig(cfg)
}

// OpenWithConfig constructs a Catalog using the provided configuration.
func OpenWithConfig(cfg Config) (*Catalog, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("store: catalog path required")
	}
	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve catalog path: %w", err)
	}
	busy := int(cfg.BusyTimeout / time.Millisecond)
	if busy <= 0 {
		busy = 5000
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", abs, busy)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingTimeout := cfg.BusyTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping catalog: %w", err)
	}

	catalog := &Catalog{db: db}
	if err := catalog.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return catalog, nil
}

// Close releases the underlying database resources.
func (c *Catalog) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *Catalog) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS documents (
    workspace_id TEXT NOT NULL,
    collection   TEXT NOT NULL,
    id           TEXT NOT NULL,
    doc          BLOB NOT NULL,
    updated_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (workspace_id, collection, id)
);
CREATE INDEX IF NOT EXISTS idx_documents_collection
    ON documents (workspace_id, collection);
`
	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate catalog: %w", err)
	}
	return nil
}

// Get returns one document or ErrNotFound.
func (c *Catalog) Get(ctx context.Context, workspaceID, collection, id string) ([]byte, error) {
	var doc []byte
	err := c.db.GetContext(ctx, &doc,
		`SELECT doc FROM documents WHERE workspace_id = ? AND collection = ? AND id = ?`,
		workspaceID, collection, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// Put stores or replaces one document.
func (c *Catalog) Put(ctx context.Context, workspaceID, collection, id string, doc []byte) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO documents (workspace_id, collection, id, doc, updated_at)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (workspace_id, collection, id)
		 DO UPDATE SET doc = excluded.doc, updated_at = CURRENT_TIMESTAMP`,
		workspaceID, collection, id, doc)
	if err != nil {
		return fmt.Errorf("put document: %w", err)
	}
	return nil
}

// Delete removes one document. Deleting an absent document is a no-op.
func (c *Catalog) Delete(ctx context.Context, workspaceID, collection, id string) error {
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM documents WHERE workspace_id = ? AND collection = ? AND id = ?`,
		workspaceID, collection, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// List returns every document in a collection ordered by id.
func (c *Catalog) List(ctx context.Context, workspaceID, collection string) ([][]byte, error) {
	var docs [][]byte
	err := c.db.SelectContext(ctx, &docs,
		`SELECT doc FROM documents WHERE workspace_id = ? AND collection = ? ORDER BY id`,
		workspaceID, collection)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}
