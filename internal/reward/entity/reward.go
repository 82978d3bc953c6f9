package entity

import "time"

// Ledger entry types. Amounts are stored positive; the type gives the sign.
const (
	TypeEarned   = "earned"
	TypeRedeemed = "redeemed"
)

// Reward is a catalog item redeemable for points. Stock below zero means
// unlimited.
type Reward struct {
	ID             int64     `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	Description    string    `db:"description" json:"description"`
	Cost           int64     `db:"cost" json:"cost"`
	Stock          int64     `db:"stock" json:"stock"`
	CollectionInfo string    `db:"collection_info" json:"collectionInfo"`
	IsAvailable    bool      `db:"is_available" json:"isAvailable"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}

// Transaction is an append-only ledger row.
type Transaction struct {
	ID          int64     `db:"id" json:"id"`
	UserID      int64     `db:"user_id" json:"userId"`
	RewardID    *int64    `db:"reward_id" json:"rewardId,omitempty"`
	Amount      int64     `db:"amount" json:"amount"`
	Type        string    `db:"type" json:"type"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// Signed returns the balance effect of the entry.
func (t *Transaction) Signed() int64 {
	if t.Type == TypeRedeemed {
		return -t.Amount
	}
	return t.Amount
}

// Balance compares the cached points with the ledger.
type Balance struct {
	UserID    int64 `db:"user_id" json:"userId"`
	Points    int64 `db:"points" json:"points"`
	LedgerSum int64 `db:"ledger_sum" json:"ledgerSum"`
	Earned    int64 `db:"earned" json:"earned"`
	Redeemed  int64 `db:"redeemed" json:"redeemed"`
}

// Consistent reports whether the cached balance matches the ledger.
func (b *Balance) Consistent() bool { return b.Points == b.LedgerSum }

// Drift is a user whose cached points disagree with the ledger.
type Drift struct {
	UserID    int64 `db:"user_id" json:"userId"`
	Points    int64 `db:"points" json:"points"`
	LedgerSum int64 `db:"ledger_sum" json:"ledgerSum"`
}
