// internal/wire/wire.go
//
// JSON payloads of the authority's HTTP contract. Both the client (internal/api)
// and the reference authority (internal/authority) encode/decode these, so the
// field names here are the wire format.

package wire

import (
	"time"

	"github.com/robalobadob/photoguess/internal/game"
)

// CodeNoMoreRounds marks an error response meaning every round of the current
// session was already played.
const CodeNoMoreRounds = "no_more_rounds"

// ErrorBody is the shape of every non-2xx JSON response.
type ErrorBody struct {
	Error  string `json:"error,omitempty"`
	Detail string `json:"detail,omitempty"`
	Code   string `json:"code,omitempty"`
}

type LoginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterReq struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func (u User) Profile() game.Profile {
	return game.Profile{ID: u.ID, Username: u.Username, Email: u.Email, CreatedAt: u.CreatedAt}
}

type Session struct {
	ID              int64      `json:"id"`
	TotalScore      int        `json:"total_score"`
	RoundsCompleted int        `json:"rounds_completed"`
	IsCompleted     bool       `json:"is_completed"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

func (s Session) Game() game.Session {
	st := game.StatusActive
	if s.IsCompleted {
		st = game.StatusCompleted
	}
	return game.Session{
		ID:              s.ID,
		RoundsCompleted: s.RoundsCompleted,
		TotalScore:      s.TotalScore,
		Status:          st,
		StartedAt:       s.StartedAt,
		CompletedAt:     s.CompletedAt,
	}
}

type Photo struct {
	PhotoID     string `json:"photo_id"`
	PhotoURL    string `json:"photo_url"`
	RoundNumber int    `json:"round_number"`
}

func (p Photo) Ref() game.PhotoRef {
	return game.PhotoRef{PhotoID: p.PhotoID, URL: p.PhotoURL, RoundNumber: p.RoundNumber}
}

type GuessReq struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type GuessRes struct {
	DistanceKm      float64 `json:"distance_km"`
	Score           int     `json:"score"`
	ActualLatitude  float64 `json:"actual_latitude"`
	ActualLongitude float64 `json:"actual_longitude"`
	RoundCompleted  bool    `json:"round_completed"`
	GameCompleted   bool    `json:"game_completed"`
	ImmichURL       *string `json:"immich_url,omitempty"`
}

func (g GuessRes) Result() game.RoundResult {
	r := game.RoundResult{
		DistanceKm:    g.DistanceKm,
		Score:         g.Score,
		Actual:        game.Coordinate{Lat: g.ActualLatitude, Lng: g.ActualLongitude},
		GameCompleted: g.GameCompleted,
	}
	if g.ImmichURL != nil {
		r.ExternalURL = *g.ImmichURL
	}
	return r
}

type Round struct {
	RoundNumber     int      `json:"round_number"`
	PhotoID         string   `json:"photo_id"`
	DistanceKm      *float64 `json:"distance_km"`
	Score           int      `json:"score"`
	ActualLatitude  *float64 `json:"actual_latitude"`
	ActualLongitude *float64 `json:"actual_longitude"`
	GuessLatitude   *float64 `json:"guess_latitude"`
	GuessLongitude  *float64 `json:"guess_longitude"`
}

func (r Round) Summary() game.RoundSummary {
	s := game.RoundSummary{RoundNumber: r.RoundNumber, PhotoID: r.PhotoID, DistanceKm: r.DistanceKm, Score: r.Score}
	if r.ActualLatitude != nil && r.ActualLongitude != nil {
		s.Actual = &game.Coordinate{Lat: *r.ActualLatitude, Lng: *r.ActualLongitude}
	}
	if r.GuessLatitude != nil && r.GuessLongitude != nil {
		s.Guess = &game.Coordinate{Lat: *r.GuessLatitude, Lng: *r.GuessLongitude}
	}
	return s
}

type LeaderboardEntry struct {
	Username    string    `json:"username"`
	TotalScore  int       `json:"total_score"`
	CompletedAt time.Time `json:"completed_at"`
}

type Leaderboard struct {
	Entries []LeaderboardEntry `json:"entries"`
}
