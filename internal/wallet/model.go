package wallet

import "time"

const (
	// BalanceCollection holds one balance document per user, keyed by user id.
	BalanceCollection = "balances"
	// EntryCollection holds the credit entries behind each balance.
	EntryCollection = "wallet_entries"
)

type Wallet struct {
	UserID  string `json:"userId"`
	Balance int64  `json:"balance"`
	Version int64  `json:"version"`
}

func (w *Wallet) SetVersion(v int64) { w.Version = v }

// Entry records one credit to a user's balance.
type Entry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Amount    int64     `json:"amount"`
	Kind      string    `json:"kind"` // fulfiller_income | referrer_commission
	Reference string    `json:"reference"`
	CreatedAt time.Time `json:"createdAt"`
	Version   int64     `json:"version"`
}

func (e *Entry) SetVersion(v int64) { e.Version = v }
