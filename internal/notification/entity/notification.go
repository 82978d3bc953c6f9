package entity

import "time"

// Notification types.
const (
	TypeReward     = "reward"
	TypeCollection = "collection"
	TypeEvent      = "event"
	TypeSystem     = "system"
)

type Notification struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"userId"`
	Message   string    `db:"message" json:"message"`
	Type      string    `db:"type" json:"type"`
	IsRead    bool      `db:"is_read" json:"isRead"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
