package entity

import (
	"encoding/json"
	"time"
)

const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusVerified   = "verified"
	StatusCollected  = "collected"
	StatusRejected   = "rejected"
)

// Statuses is the full status vocabulary accepted in filters.
var Statuses = []string{StatusPending, StatusInProgress, StatusVerified, StatusCollected, StatusRejected}

// WasteTypes is the vocabulary offered to reporters and to the vision model.
var WasteTypes = []string{"Plastic", "Paper", "Glass", "Metal", "Organic", "Electronic", "Hazardous", "Mixed"}

// CanTransition reports whether the state machine allows from -> to. Only
// claim and verify are wired; everything else is terminal.
func CanTransition(from, to string) bool {
	switch from {
	case StatusPending:
		return to == StatusInProgress
	case StatusInProgress:
		return to == StatusVerified
	default:
		return false
	}
}

type Report struct {
	ID                 int64            `db:"id" json:"id"`
	UserID             int64            `db:"user_id" json:"userId"`
	Location           string           `db:"location" json:"location"`
	Latitude           *float64         `db:"latitude" json:"latitude,omitempty"`
	Longitude          *float64         `db:"longitude" json:"longitude,omitempty"`
	WasteType          string           `db:"waste_type" json:"wasteType"`
	Amount             string           `db:"amount" json:"amount"`
	ImageURL           *string          `db:"image_url" json:"imageUrl,omitempty"`
	VerificationResult *json.RawMessage `db:"verification_result" json:"verificationResult,omitempty"`
	Status             string           `db:"status" json:"status"`
	CollectorID        *int64           `db:"collector_id" json:"collectorId"`
	Version            int64            `db:"version" json:"version"`
	CreatedAt          time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time        `db:"updated_at" json:"updatedAt"`
}

// CollectedWaste closes out a report. There is at most one per report.
type CollectedWaste struct {
	ID             int64     `db:"id" json:"id"`
	ReportID       int64     `db:"report_id" json:"reportId"`
	CollectorID    int64     `db:"collector_id" json:"collectorId"`
	CollectionDate time.Time `db:"collection_date" json:"collectionDate"`
	Comment        *string   `db:"comment" json:"comment,omitempty"`
}

// Filter narrows List. Zero values mean "any".
type Filter struct {
	Status      string
	UserID      int64
	CollectorID int64
	WasteType   string
	Limit       int
	Offset      int
}
