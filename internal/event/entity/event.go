package entity

import "time"

// Event categories.
const (
	CategoryCleanup   = "cleanup"
	CategoryRecycling = "recycling"
	CategoryPlanting  = "planting"
	CategoryAwareness = "awareness"
	CategoryWorkshop  = "workshop"
)

var Categories = []string{CategoryCleanup, CategoryRecycling, CategoryPlanting, CategoryAwareness, CategoryWorkshop}

const (
	StatusUpcoming  = "upcoming"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Event is an organizer-owned community activity. IDs are snowflakes.
type Event struct {
	ID               string    `db:"id" json:"id"`
	OrganizerID      int64     `db:"organizer_id" json:"organizerId"`
	Title            string    `db:"title" json:"title"`
	Description      string    `db:"description" json:"description"`
	Date             string    `db:"date" json:"date"`
	Time             string    `db:"time" json:"time"`
	Location         string    `db:"location" json:"location"`
	Latitude         *float64  `db:"latitude" json:"latitude,omitempty"`
	Longitude        *float64  `db:"longitude" json:"longitude,omitempty"`
	Category         string    `db:"category" json:"category"`
	MaxParticipants  int       `db:"max_participants" json:"maxParticipants"`
	ImageURL         *string   `db:"image_url" json:"imageUrl,omitempty"`
	Status           string    `db:"status" json:"status"`
	ParticipantCount int64     `db:"participant_count" json:"participantCount"`
	CreatedAt        time.Time `db:"created_at" json:"createdAt"`
}

// Full reports whether the event has no seats left. Zero capacity means
// unlimited.
func (e *Event) Full() bool {
	return e.MaxParticipants > 0 && e.ParticipantCount >= int64(e.MaxParticipants)
}

type Registration struct {
	ID           string    `db:"id" json:"id"`
	EventID      string    `db:"event_id" json:"eventId"`
	UserID       int64     `db:"user_id" json:"userId"`
	QRCode       string    `db:"qr_code" json:"qrCode"`
	RegisteredAt time.Time `db:"registered_at" json:"registeredAt"`
}

type Attendance struct {
	ID         int64     `db:"id" json:"id"`
	EventID    string    `db:"event_id" json:"eventId"`
	UserID     int64     `db:"user_id" json:"userId"`
	VerifiedBy int64     `db:"verified_by" json:"verifiedBy"`
	VerifiedAt time.Time `db:"verified_at" json:"verifiedAt"`
}

// Attendee is a registration joined with its participant and check-in.
type Attendee struct {
	UserID       int64      `db:"user_id" json:"userId"`
	Name         string     `db:"name" json:"name"`
	Email        string     `db:"email" json:"email"`
	RegisteredAt time.Time  `db:"registered_at" json:"registeredAt"`
	VerifiedAt   *time.Time `db:"verified_at" json:"verifiedAt,omitempty"`
}

// Filter narrows List.
type Filter struct {
	UpcomingFrom string
	Category     string
	OrganizerID  int64
	Limit        int
	Offset       int
}
