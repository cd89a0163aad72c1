// Package postgres implements docstore.Store on a single JSONB documents
// table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/sudo-init-do/farmhand/internal/docstore"
)

// Config holds the DB_* connection settings.
type Config struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
	SSLMode  string
}

// DSN renders a postgres:// connection string.
func (c Config) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   c.Host + ":" + c.Port,
		Path:   "/" + c.Name,
	}
	if c.SSLMode != "" {
		u.RawQuery = "sslmode=" + url.QueryEscape(c.SSLMode)
	}
	return u.String()
}

type Store struct {
	pool *pgxpool.Pool
	log  logrus.FieldLogger
}

var _ docstore.Store = (*Store)(nil)

// Open connects, pings and ensures the documents schema.
func Open(ctx context.Context, dsn string, log logrus.FieldLogger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{pool: pool, log: log.WithField("component", "docstore_postgres")}
	if err := s.ensureDocumentsTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	s.ensureLookupIndexes(ctx)
	s.log.Info("connected to postgres")
	return s, nil
}

// ensureDocumentsTable creates the documents table if missing.
func (s *Store) ensureDocumentsTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS documents (
            collection TEXT NOT NULL,
            id TEXT NOT NULL,
            version BIGINT NOT NULL DEFAULT 0,
            data JSONB NOT NULL DEFAULT '{}'::jsonb,
            seq BIGSERIAL,
            created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
            PRIMARY KEY (collection, id)
        )`)
	if err != nil {
		return fmt.Errorf("create documents table: %w", err)
	}
	return nil
}

// ensureLookupIndexes adds expression indexes for the hot lookup fields.
// Failures are logged; queries still work without them.
func (s *Store) ensureLookupIndexes(ctx context.Context) {
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_documents_requester ON documents (collection, (data->>'requesterId'))`,
		`CREATE INDEX IF NOT EXISTS idx_documents_fulfiller ON documents (collection, (data->>'fulfillerId'))`,
		`CREATE INDEX IF NOT EXISTS idx_documents_order ON documents (collection, (data->>'orderId'))`,
		`CREATE INDEX IF NOT EXISTS idx_documents_charge_ref ON documents (collection, (data->>'externalChargeRef'))`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_settlements_order ON documents ((data->>'orderId')) WHERE collection = 'settlements'`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			s.log.WithError(err).Warn("failed to ensure index")
		}
	}
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	var d docstore.Document
	err := s.pool.QueryRow(ctx,
		`SELECT id, version, data, created_at, updated_at FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&d.ID, &d.Version, &d.Data, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return docstore.Document{}, docstore.ErrNotFound
		}
		return docstore.Document{}, fmt.Errorf("get document: %w", err)
	}
	return d, nil
}

func (s *Store) Create(ctx context.Context, collection, id string, data []byte) error {
	ct, err := s.pool.Exec(ctx,
		`INSERT INTO documents (collection, id, version, data) VALUES ($1, $2, 0, $3)
         ON CONFLICT DO NOTHING`,
		collection, id, data,
	)
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return docstore.ErrDuplicate
	}
	return nil
}

func (s *Store) ConditionalUpdate(ctx context.Context, collection, id string, expectedVersion int64, data []byte) (int64, error) {
	ct, err := s.pool.Exec(ctx,
		`UPDATE documents SET data = $4, version = version + 1, updated_at = NOW()
         WHERE collection = $1 AND id = $2 AND version = $3`,
		collection, id, expectedVersion, data,
	)
	if err != nil {
		return 0, fmt.Errorf("update document: %w", err)
	}
	return ct.RowsAffected(), nil
}

func (s *Store) Query(ctx context.Context, collection string, q docstore.Query) ([]docstore.Document, error) {
	if err := docstore.ValidateQuery(q); err != nil {
		return nil, err
	}
	sql, args := buildQuery(collection, q)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var out []docstore.Document
	for rows.Next() {
		var d docstore.Document
		if err := rows.Scan(&d.ID, &d.Version, &d.Data, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func buildQuery(collection string, q docstore.Query) (string, []any) {
	var b strings.Builder
	args := []any{collection}
	b.WriteString(`SELECT id, version, data, created_at, updated_at FROM documents WHERE collection = $1`)
	for _, f := range q.Where {
		args = append(args, f.Field, f.Value)
		fmt.Fprintf(&b, ` AND data->>$%d::text = $%d`, len(args)-1, len(args))
	}
	if q.Newest {
		b.WriteString(` ORDER BY seq DESC`)
	} else {
		b.WriteString(` ORDER BY seq ASC`)
	}
	if q.Limit > 0 {
		b.WriteString(` LIMIT ` + strconv.Itoa(q.Limit))
	}
	return b.String(), args
}

const incrementSQL = `
        INSERT INTO documents (collection, id, version, data)
        VALUES ($1, $2, 0, jsonb_build_object($3::text, $4::bigint))
        ON CONFLICT (collection, id) DO UPDATE SET
            data = jsonb_set(documents.data, ARRAY[$3::text],
                to_jsonb(COALESCE((documents.data->>$3::text)::bigint, 0) + $4::bigint)),
            version = documents.version + 1,
            updated_at = NOW()`

func (s *Store) Increment(ctx context.Context, collection, id, field string, delta int64) error {
	if err := docstore.ValidateField(field); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, incrementSQL, collection, id, field, delta); err != nil {
		return fmt.Errorf("increment %s.%s: %w", collection, field, err)
	}
	return nil
}

func (s *Store) IncrementOnce(ctx context.Context, collection, id, field string, delta int64, marker docstore.Marker) error {
	if err := docstore.ValidateField(field); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx,
			`INSERT INTO documents (collection, id, version, data) VALUES ($1, $2, 0, $3)
             ON CONFLICT DO NOTHING`,
			marker.Collection, marker.ID, marker.Data,
		)
		if err != nil {
			return fmt.Errorf("create marker: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return docstore.ErrDuplicate
		}
		if _, err := tx.Exec(ctx, incrementSQL, collection, id, field, delta); err != nil {
			return fmt.Errorf("increment %s.%s: %w", collection, field, err)
		}
		return nil
	})
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
