package entity

import "time"

// User is the local projection of an auth-provider account. Rows are created
// lazily the first time a signed-in caller touches the API.
type User struct {
	ID        int64     `db:"id" json:"id"`
	ClerkID   string    `db:"clerk_id" json:"clerkId"`
	Email     string    `db:"email" json:"email"`
	Name      string    `db:"name" json:"name"`
	AvatarURL *string   `db:"avatar_url" json:"avatarUrl,omitempty"`
	Points    int64     `db:"points" json:"points"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// DisplayName falls back to the email when the profile has no name.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

// Stats summarizes a user's activity for the profile page.
type Stats struct {
	UserID           int64 `db:"user_id" json:"userId"`
	Points           int64 `db:"points" json:"points"`
	ReportsSubmitted int64 `db:"reports_submitted" json:"reportsSubmitted"`
	ReportsCollected int64 `db:"reports_collected" json:"reportsCollected"`
	PointsEarned     int64 `db:"points_earned" json:"pointsEarned"`
	PointsRedeemed   int64 `db:"points_redeemed" json:"pointsRedeemed"`
	EventsAttended   int64 `db:"events_attended" json:"eventsAttended"`
}

type LeaderboardEntry struct {
	Rank        int64   `db:"rank" json:"rank"`
	UserID      int64   `db:"user_id" json:"userId"`
	Name        string  `db:"name" json:"name"`
	AvatarURL   *string `db:"avatar_url" json:"avatarUrl,omitempty"`
	Points      int64   `db:"points" json:"points"`
	Reports     int64   `db:"reports" json:"reports"`
	Collections int64   `db:"collections" json:"collections"`
}
