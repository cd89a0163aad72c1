package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sudo-init-do/farmhand/internal/apperr"
)

// Versioned is implemented by document types that record the version they
// were read at.
type Versioned interface {
	SetVersion(v int64)
}

// Policy bounds the optimistic retry loop.
type Policy struct {
	MaxRetries int
	Backoff    time.Duration // linear: Backoff × attempt
}

// DefaultPolicy is three attempts with 100ms, 200ms pauses between them.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, Backoff: 100 * time.Millisecond}
}

type outcome int

const (
	applied outcome = iota
	conflict
	rejected
)

// Get reads and decodes one document into a new T.
func Get[T any, PT interface {
	*T
	Versioned
}](ctx context.Context, s Store, collection, id string) (PT, error) {
	doc, err := s.Get(ctx, collection, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.Wrap(apperr.CodeNotFound, collection+"/"+id+" not found", err)
		}
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return decode[T, PT](doc)
}

// Update runs mutate against a fresh snapshot of the document and writes it
// back only if nobody else wrote in between. Version conflicts are retried up
// to p.MaxRetries attempts; a mutate error aborts at once and is returned
// unchanged. Exhausting the retries returns apperr.ErrConflictExhausted.
func Update[T any, PT interface {
	*T
	Versioned
}](ctx context.Context, s Store, p Policy, collection, id string, mutate func(PT) error) (PT, error) {
	if p.MaxRetries <= 0 {
		p.MaxRetries = 1
	}
	for attempt := 1; attempt <= p.MaxRetries; attempt++ {
		res, doc, err := tryUpdate[T, PT](ctx, s, collection, id, mutate)
		switch res {
		case applied:
			return doc, nil
		case rejected:
			return nil, err
		case conflict:
			if attempt < p.MaxRetries {
				if err := sleep(ctx, p.Backoff*time.Duration(attempt)); err != nil {
					return nil, err
				}
			}
		}
	}
	return nil, apperr.Wrap(apperr.CodeConflictExhausted,
		fmt.Sprintf("%s/%s: version conflict after %d attempts", collection, id, p.MaxRetries), nil)
}

func tryUpdate[T any, PT interface {
	*T
	Versioned
}](ctx context.Context, s Store, collection, id string, mutate func(PT) error) (outcome, PT, error) {
	doc, err := s.Get(ctx, collection, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return rejected, nil, apperr.Wrap(apperr.CodeNotFound, collection+"/"+id+" not found", err)
		}
		return rejected, nil, fmt.Errorf("read %s/%s: %w", collection, id, err)
	}
	snapshot, err := decode[T, PT](doc)
	if err != nil {
		return rejected, nil, err
	}

	if err := mutate(snapshot); err != nil {
		return rejected, nil, err
	}

	next := doc.Version + 1
	snapshot.SetVersion(next)
	data, err := json.Marshal(snapshot)
	if err != nil {
		return rejected, nil, fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}

	n, err := s.ConditionalUpdate(ctx, collection, id, doc.Version, data)
	if err != nil {
		return rejected, nil, fmt.Errorf("write %s/%s: %w", collection, id, err)
	}
	if n == 0 {
		return conflict, nil, nil
	}
	return applied, snapshot, nil
}

// Create encodes v and inserts it at version 0.
func Create(ctx context.Context, s Store, collection, id string, v Versioned) error {
	v.SetVersion(0)
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	return s.Create(ctx, collection, id, data)
}

// Find runs q and decodes each match.
func Find[T any, PT interface {
	*T
	Versioned
}](ctx context.Context, s Store, collection string, q Query) ([]PT, error) {
	docs, err := s.Query(ctx, collection, q)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	out := make([]PT, 0, len(docs))
	for _, d := range docs {
		v, err := decode[T, PT](d)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// FindOne returns the first match of q, or a NotFound error.
func FindOne[T any, PT interface {
	*T
	Versioned
}](ctx context.Context, s Store, collection string, q Query) (PT, error) {
	q.Limit = 1
	found, err := Find[T, PT](ctx, s, collection, q)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, apperr.Wrap(apperr.CodeNotFound, collection+" not found", ErrNotFound)
	}
	return found[0], nil
}

func decode[T any, PT interface {
	*T
	Versioned
}](doc Document) (PT, error) {
	v := PT(new(T))
	if err := json.Unmarshal(doc.Data, v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", doc.ID, err)
	}
	v.SetVersion(doc.Version)
	return v, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
