// internal/ui/capture.go
//
// Guess capture on the game map.
// Responsibilities:
//   - Turn map clicks into the pending guess.
//   - Keep at most one guess marker, present only while a guess is awaited.

package ui

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/robalobadob/photoguess/internal/game"
	"github.com/robalobadob/photoguess/internal/round"
)

// GuessTaker is the part of the Round Controller the capture surface uses.
type GuessTaker interface {
	SetGuess(at game.Coordinate) error
	Subscribe(fn func(round.Snapshot)) func()
}

// CaptureSurface turns map clicks into the pending guess. At most one marker
// is shown; a new click replaces it. The marker exists only while the round
// awaits a guess.
type CaptureSurface struct {
	surface Surface
	ctrl    GuessTaker
	log     zerolog.Logger
	unsub   func()

	mu     sync.Mutex
	state  round.State
	guess  *game.Coordinate
	marker OverlayID
}

// NewCaptureSurface registers the click callback and follows ctrl's snapshots.
func NewCaptureSurface(surface Surface, ctrl GuessTaker, logger zerolog.Logger) *CaptureSurface {
	c := &CaptureSurface{surface: surface, ctrl: ctrl, log: logger.With().Str("component", "capture").Logger()}
	c.unsub = ctrl.Subscribe(c.onSnapshot)
	surface.OnClick(c.Click)
	return c
}

// Click handles a map click. Outside AwaitingGuess it is ignored.
func (c *CaptureSurface) Click(at game.Coordinate) {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state != round.AwaitingGuess {
		return
	}
	if err := c.ctrl.SetGuess(at); err != nil {
		c.log.Debug().Err(err).Msg("guess ignored")
	}
}

// CanSubmit reports whether a pending guess exists.
func (c *CaptureSurface) CanSubmit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == round.AwaitingGuess && c.guess != nil
}

// Pending returns the pending guess, if any.
func (c *CaptureSurface) Pending() (game.Coordinate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.guess == nil {
		return game.Coordinate{}, false
	}
	return *c.guess, true
}

func (c *CaptureSurface) onSnapshot(s round.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s.State

	if s.State != round.AwaitingGuess || s.Guess == nil {
		c.guess = nil
		c.dropMarkerLocked()
		return
	}
	if c.guess != nil && *c.guess == *s.Guess && c.marker != "" {
		return
	}
	g := *s.Guess
	c.guess = &g
	c.dropMarkerLocked()
	c.marker = c.surface.AddPoint(g, "guess")
}

func (c *CaptureSurface) dropMarkerLocked() {
	if c.marker != "" {
		c.surface.Remove(c.marker)
		c.marker = ""
	}
}

// Close unregisters from the map and the controller and removes the marker.
func (c *CaptureSurface) Close() {
	c.surface.OnClick(nil)
	if c.unsub != nil {
		c.unsub()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.guess = nil
	c.dropMarkerLocked()
}
