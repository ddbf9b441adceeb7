// internal/round/types.go
//
// State, errors and collaborator contracts of the Round Controller.

package round

import (
	"context"
	"errors"

	"github.com/robalobadob/photoguess/internal/game"
	"github.com/robalobadob/photoguess/internal/photo"
)

// State is the controller's position in a game session.
type State int

const (
	NoSession State = iota
	RoundLoading
	AwaitingGuess
	GuessSubmitted
	Completed
)

func (s State) String() string {
	switch s {
	case NoSession:
		return "no_session"
	case RoundLoading:
		return "round_loading"
	case AwaitingGuess:
		return "awaiting_guess"
	case GuessSubmitted:
		return "guess_submitted"
	case Completed:
		return "completed"
	}
	return "unknown"
}

// Active reports whether s is one of the in-game states.
func (s State) Active() bool {
	return s == RoundLoading || s == AwaitingGuess || s == GuessSubmitted
}

var (
	ErrBusy              = errors.New("another game action is in progress")
	ErrInvalidState      = errors.New("invalid state for action")
	ErrNoGuess           = errors.New("no pending guess")
	ErrInvalidCoordinate = errors.New("coordinate out of range")
	ErrStale             = errors.New("game changed while the request was in flight")
)

// Authority is the slice of the Resource Client the controller drives.
type Authority interface {
	CurrentSession(ctx context.Context) (game.Session, error)
	StartSession(ctx context.Context) (game.Session, error)
	DeleteSession(ctx context.Context) error
	CurrentRoundPhoto(ctx context.Context) (game.PhotoRef, error)
	FetchPhoto(ctx context.Context, url string) ([]byte, string, error)
	SubmitGuess(ctx context.Context, at game.Coordinate) (game.RoundResult, error)
	RoundHistory(ctx context.Context) ([]game.RoundSummary, error)
}

// Photos materializes and releases PhotoAsset handles.
type Photos interface {
	Materialize(data []byte, contentType string) *photo.Handle
	Release(h *photo.Handle) bool
}

// SessionStore receives every authoritative session snapshot.
type SessionStore interface {
	SetSession(s game.Session)
	ClearSession()
}

// Summary is what the Completed state shows.
type Summary struct {
	Session game.Session
	Rounds  []game.RoundSummary
}

// Snapshot is an immutable view of the controller after a transition.
type Snapshot struct {
	Seq   uint64 // strictly increasing per delivered snapshot
	State State

	Session  *game.Session
	Round    *game.Round
	PhotoURL string // live handle URL; empty when the photo failed to load
	PhotoErr error  // why the photo is unavailable, if it is

	Guess      *game.Coordinate
	Result     *game.RoundResult
	Finishable bool

	Summary *Summary
}

// CanSubmit reports whether a guess can be submitted in this snapshot.
func (s Snapshot) CanSubmit() bool { return s.State == AwaitingGuess && s.Guess != nil }
