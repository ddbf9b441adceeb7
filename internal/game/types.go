// internal/game/types.go
//
// Core type definitions shared by the client and the reference authority.
// Defines:
//   - Coordinate / Bounds: points on the map and the region that frames them.
//   - Session: one play-through, authoritative on the server.
//   - PhotoRef / Round: the round currently materialized on the client.
//   - RoundResult / RoundSummary: outcome of a guess and its historical record.
//   - LeaderboardEntry / Profile: read-only views for display.

package game

import "time"

// Coordinate is a WGS84 latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64
	Lng float64
}

// Status is the coarse lifecycle of a Session.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Session holds the authority's snapshot of a single game.
// The client never derives these numbers; it only copies them from responses
// (plus the score delta reported for a submitted guess).
type Session struct {
	ID              int64      // Authority-assigned identifier.
	RoundsCompleted int        // Rounds already guessed (non-negative).
	TotalScore      int        // Sum of round scores so far.
	Status          Status     // active | completed
	StartedAt       time.Time  // When the authority created the game.
	CompletedAt     *time.Time // Set once the last round was scored.
}

// NextRound returns the 1-based number of the round that would be played next.
func (s Session) NextRound() int { return s.RoundsCompleted + 1 }

// Completed reports whether the authority considers the session finished.
func (s Session) Completed() bool { return s.Status == StatusCompleted }

// PhotoRef points at the photo for the current round. URL is relative to the
// authority and must be fetched with credentials.
type PhotoRef struct {
	PhotoID     string
	URL         string
	RoundNumber int
}

// Round is the client-side view of the round being played.
type Round struct {
	Number int
	Photo  PhotoRef
}

// RoundResult is the authority's verdict on a submitted guess.
type RoundResult struct {
	DistanceKm    float64
	Score         int
	Actual        Coordinate
	GameCompleted bool
	ExternalURL   string // optional link to the photo in its library
}

// RoundSummary is one entry of a session's round history.
type RoundSummary struct {
	RoundNumber int
	PhotoID     string
	DistanceKm  *float64
	Score       int
	Actual      *Coordinate
	Guess       *Coordinate
}

// LeaderboardEntry is a ranked completed session.
type LeaderboardEntry struct {
	Rank        int // 1-based, derived from position
	Username    string
	TotalScore  int
	CompletedAt time.Time
}

// Profile is the authenticated identity.
type Profile struct {
	ID        int64
	Username  string
	Email     string
	CreatedAt time.Time
}
