package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

type memDoc struct {
	Document
	seq int64
}

// MemoryStore is an in-process Store for tests and single-node development.
type MemoryStore struct {
	mu   sync.Mutex
	seq  int64
	docs map[string]map[string]*memDoc
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: map[string]map[string]*memDoc{},
		now:  func() time.Time { return time.Now().UTC() },
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) collection(name string) map[string]*memDoc {
	c, ok := m.docs[name]
	if !ok {
		c = map[string]*memDoc{}
		m.docs[name] = c
	}
	return c
}

func (m *MemoryStore) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.collection(collection)[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return clone(d.Document), nil
}

func (m *MemoryStore) Create(ctx context.Context, collection, id string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("document id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collection(collection)
	if _, ok := c[id]; ok {
		return ErrDuplicate
	}
	m.seq++
	now := m.now()
	c[id] = &memDoc{
		Document: Document{ID: id, Version: 0, Data: append([]byte(nil), data...), CreatedAt: now, UpdatedAt: now},
		seq:      m.seq,
	}
	return nil
}

func (m *MemoryStore) ConditionalUpdate(ctx context.Context, collection, id string, expectedVersion int64, data []byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.collection(collection)[id]
	if !ok || d.Version != expectedVersion {
		return 0, nil
	}
	d.Version = expectedVersion + 1
	d.Data = append([]byte(nil), data...)
	d.UpdatedAt = m.now()
	return 1, nil
}

func (m *MemoryStore) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateQuery(q); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []*memDoc
	for _, d := range m.collection(collection) {
		ok, err := matchAll(d.Data, q.Where)
		if err != nil {
			return nil, err
		}
		if ok {
			matches = append(matches, d)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if q.Newest {
			return matches[i].seq > matches[j].seq
		}
		return matches[i].seq < matches[j].seq
	})
	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}
	out := make([]Document, 0, len(matches))
	for _, d := range matches {
		out = append(out, clone(d.Document))
	}
	return out, nil
}

func (m *MemoryStore) Increment(ctx context.Context, collection, id, field string, delta int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateField(field); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.increment(collection, id, field, delta)
}

func (m *MemoryStore) IncrementOnce(ctx context.Context, collection, id, field string, delta int64, marker Marker) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateField(field); err != nil {
		return err
	}
	if marker.ID == "" {
		return fmt.Errorf("marker id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	markers := m.collection(marker.Collection)
	if _, ok := markers[marker.ID]; ok {
		return ErrDuplicate
	}
	if err := m.increment(collection, id, field, delta); err != nil {
		return err
	}
	m.seq++
	now := m.now()
	markers[marker.ID] = &memDoc{
		Document: Document{ID: marker.ID, Data: append([]byte(nil), marker.Data...), CreatedAt: now, UpdatedAt: now},
		seq:      m.seq,
	}
	return nil
}

// increment expects m.mu to be held.
func (m *MemoryStore) increment(collection, id, field string, delta int64) error {
	c := m.collection(collection)
	d, ok := c[id]
	if !ok {
		m.seq++
		now := m.now()
		d = &memDoc{Document: Document{ID: id, Data: []byte("{}"), CreatedAt: now}, seq: m.seq}
		c[id] = d
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(d.Data, &fields); err != nil {
		return fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	var current int64
	if raw, ok := fields[field]; ok {
		if err := json.Unmarshal(raw, &current); err != nil {
			return fmt.Errorf("field %s is not an integer: %w", field, err)
		}
	}
	fields[field] = json.RawMessage(strconv.FormatInt(current+delta, 10))
	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	d.Data = data
	d.Version++
	d.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (m *MemoryStore) Close() error { return nil }

// matchAll compares filters against top-level fields using the text form of
// the JSON value, as Postgres' ->> operator does.
func matchAll(data []byte, where []Filter) (bool, error) {
	if len(where) == 0 {
		return true, nil
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return false, err
	}
	for _, f := range where {
		raw, ok := fields[f.Field]
		if !ok {
			return false, nil
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			s = string(raw)
		}
		if s != f.Value {
			return false, nil
		}
	}
	return true, nil
}

func clone(d Document) Document {
	d.Data = append([]byte(nil), d.Data...)
	return d
}
