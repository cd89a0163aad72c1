package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sudo-init-do/farmhand/internal/apperr"
	"github.com/sudo-init-do/farmhand/internal/docstore"
)

// Ledger credits balances through the store's atomic increment.
type Ledger struct {
	store docstore.Store
	now   func() time.Time
}

func NewLedger(store docstore.Store) *Ledger {
	return &Ledger{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Credit adds amount to userID's balance and records an entry keyed by
// reference, kind and userID in the same store write. A key already recorded
// is not credited again; a failed credit writes nothing and can be repeated.
func (l *Ledger) Credit(ctx context.Context, userID string, amount int64, kind, reference string) error {
	if userID == "" {
		return apperr.Validation("credit requires a user")
	}
	if amount <= 0 {
		return nil
	}
	entry := &Entry{
		ID:        EntryID(reference, kind, userID),
		UserID:    userID,
		Amount:    amount,
		Kind:      kind,
		Reference: reference,
		CreatedAt: l.now(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode wallet entry: %w", err)
	}
	marker := docstore.Marker{Collection: EntryCollection, ID: entry.ID, Data: data}
	if err := l.store.IncrementOnce(ctx, BalanceCollection, userID, "balance", amount, marker); err != nil {
		if errors.Is(err, docstore.ErrDuplicate) {
			return nil
		}
		return fmt.Errorf("credit balance: %w", err)
	}
	return nil
}

// EntryID keys one credit. A user holding two roles on the same reference
// gets one entry per kind.
func EntryID(reference, kind, userID string) string {
	return reference + ":" + kind + ":" + userID
}

// Balance returns userID's balance; users never credited have zero.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	w, err := docstore.Get[Wallet](ctx, l.store, BalanceCollection, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return w.Balance, nil
}

// Entries lists userID's credits, newest first.
func (l *Ledger) Entries(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	return docstore.Find[Entry](ctx, l.store, EntryCollection, docstore.Query{
		Where:  []docstore.Filter{{Field: "userId", Value: userID}},
		Limit:  limit,
		Newest: true,
	})
}
