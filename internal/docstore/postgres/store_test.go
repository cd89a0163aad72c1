package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sudo-init-do/farmhand/internal/docstore"
)

func TestConfigDSN(t *testing.T) {
	cfg := Config{User: "farm", Password: "p@ss", Host: "db", Port: "5432", Name: "farmhand", SSLMode: "disable"}
	got := cfg.DSN()
	want := "postgres://farm:p%40ss@db:5432/farmhand?sslmode=disable"
	if got != want {
		t.Fatalf("DSN() = %q, want %q", got, want)
	}
}

func TestBuildQuery(t *testing.T) {
	sql, args := buildQuery("orders", docstore.Query{
		Where:  []docstore.Filter{{Field: "requesterId", Value: "r1"}, {Field: "status", Value: "pending"}},
		Limit:  20,
		Newest: true,
	})
	if !strings.Contains(sql, "data->>$2::text = $3 AND data->>$4::text = $5") {
		t.Fatalf("sql missing filters: %s", sql)
	}
	if !strings.HasSuffix(sql, "ORDER BY seq DESC LIMIT 20") {
		t.Fatalf("sql tail = %s", sql)
	}
	if len(args) != 5 || args[0] != "orders" || args[4] != "pending" {
		t.Fatalf("args = %v", args)
	}
}

// TestStoreRoundTrip runs against a live database when FARMHAND_TEST_PG_DSN
// is set.
func TestStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("FARMHAND_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("FARMHAND_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn, logrus.New())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	coll := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := s.Create(ctx, coll, "a", []byte(`{"owner":"u1"}`)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(ctx, coll, "a", []byte(`{}`)); !errors.Is(err, docstore.ErrDuplicate) {
		t.Fatalf("duplicate create = %v", err)
	}
	n, err := s.ConditionalUpdate(ctx, coll, "a", 0, []byte(`{"owner":"u2"}`))
	if err != nil || n != 1 {
		t.Fatalf("conditional update = %d, %v", n, err)
	}
	n, _ = s.ConditionalUpdate(ctx, coll, "a", 0, []byte(`{"owner":"u3"}`))
	if n != 0 {
		t.Fatalf("stale update applied")
	}
	docs, err := s.Query(ctx, coll, docstore.Query{Where: []docstore.Filter{{Field: "owner", Value: "u2"}}})
	if err != nil || len(docs) != 1 {
		t.Fatalf("query = %d docs, %v", len(docs), err)
	}
	if err := s.Increment(ctx, coll, "bal", "balance", 40); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := s.Increment(ctx, coll, "bal", "balance", 2); err != nil {
		t.Fatalf("increment: %v", err)
	}
	marker := docstore.Marker{Collection: coll + "_entries", ID: "s1", Data: []byte(`{}`)}
	if err := s.IncrementOnce(ctx, coll, "bal", "balance", 8, marker); err != nil {
		t.Fatalf("increment once: %v", err)
	}
	if err := s.IncrementOnce(ctx, coll, "bal", "balance", 8, marker); !errors.Is(err, docstore.ErrDuplicate) {
		t.Fatalf("repeat increment once = %v", err)
	}
	docs, err = s.Query(ctx, coll, docstore.Query{Where: []docstore.Filter{{Field: "balance", Value: "50"}}})
	if err != nil || len(docs) != 1 {
		t.Fatalf("balance query = %d docs, %v", len(docs), err)
	}
}
