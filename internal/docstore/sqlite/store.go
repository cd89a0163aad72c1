// Package sqlite implements docstore.Store on an embedded SQLite database
// for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sudo-init-do/farmhand/internal/docstore"
	"github.com/sudo-init-do/farmhand/internal/docstore/sqlite/migrations"
)

type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

var _ docstore.Store = (*Store)(nil)

// Open opens the database at path and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single writer keeps conditional updates free of SQLITE_BUSY churn.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return docstore.Document{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, version, data, created_at, updated_at FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.Document{}, docstore.ErrNotFound
	}
	if err != nil {
		return docstore.Document{}, fmt.Errorf("get document: %w", err)
	}
	return d, nil
}

func (s *Store) Create(ctx context.Context, collection, id string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := s.now().UnixMilli()
	res, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO documents (collection, id, version, data, created_at, updated_at)
VALUES (?, ?, 0, ?, ?, ?)
ON CONFLICT (collection, id) DO NOTHING
`, collection, id, string(data), now, now)
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	if n == 0 {
		return docstore.ErrDuplicate
	}
	return nil
}

func (s *Store) ConditionalUpdate(ctx context.Context, collection, id string, expectedVersion int64, data []byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE documents SET data = ?, version = version + 1, updated_at = ?
WHERE collection = ? AND id = ? AND version = ?
`, string(data), s.now().UnixMilli(), collection, id, expectedVersion)
	if err != nil {
		return 0, fmt.Errorf("update document: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) Query(ctx context.Context, collection string, q docstore.Query) ([]docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := docstore.ValidateQuery(q); err != nil {
		return nil, err
	}

	var b strings.Builder
	args := []any{collection}
	b.WriteString(`SELECT id, version, data, created_at, updated_at FROM documents WHERE collection = ?`)
	for _, f := range q.Where {
		b.WriteString(` AND CAST(json_extract(data, ?) AS TEXT) = ?`)
		args = append(args, "$."+f.Field, f.Value)
	}
	if q.Newest {
		b.WriteString(` ORDER BY created_at DESC, rowid DESC`)
	} else {
		b.WriteString(` ORDER BY created_at ASC, rowid ASC`)
	}
	if q.Limit > 0 {
		b.WriteString(` LIMIT ` + strconv.Itoa(q.Limit))
	}

	rows, err := s.sqlDB.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var out []docstore.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) Increment(ctx context.Context, collection, id, field string, delta int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := docstore.ValidateField(field); err != nil {
		return err
	}
	return s.increment(ctx, s.sqlDB, collection, id, field, delta)
}

func (s *Store) IncrementOnce(ctx context.Context, collection, id, field string, delta int64, marker docstore.Marker) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := docstore.ValidateField(field); err != nil {
		return err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UnixMilli()
	res, err := tx.ExecContext(ctx, `
INSERT INTO documents (collection, id, version, data, created_at, updated_at)
VALUES (?, ?, 0, ?, ?, ?)
ON CONFLICT (collection, id) DO NOTHING
`, marker.Collection, marker.ID, string(marker.Data), now, now)
	if err != nil {
		return fmt.Errorf("create marker: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create marker: %w", err)
	}
	if n == 0 {
		return docstore.ErrDuplicate
	}
	if err := s.increment(ctx, tx, collection, id, field, delta); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) increment(ctx context.Context, db execer, collection, id, field string, delta int64) error {
	path := "$." + field
	now := s.now().UnixMilli()
	_, err := db.ExecContext(ctx, `
INSERT INTO documents (collection, id, version, data, created_at, updated_at)
VALUES (?, ?, 0, json_object(?, ?), ?, ?)
ON CONFLICT (collection, id) DO UPDATE SET
    data = json_set(documents.data, ?, COALESCE(json_extract(documents.data, ?), 0) + ?),
    version = documents.version + 1,
    updated_at = excluded.updated_at
`, collection, id, field, delta, now, now, path, path, delta)
	if err != nil {
		return fmt.Errorf("increment %s.%s: %w", collection, field, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (docstore.Document, error) {
	var (
		d                docstore.Document
		data             string
		created, updated int64
	)
	if err := row.Scan(&d.ID, &d.Version, &data, &created, &updated); err != nil {
		return docstore.Document{}, err
	}
	d.Data = []byte(data)
	d.CreatedAt = time.UnixMilli(created).UTC()
	d.UpdatedAt = time.UnixMilli(updated).UTC()
	return d, nil
}
