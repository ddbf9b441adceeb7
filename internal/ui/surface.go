// internal/ui/surface.go
//
// Contracts between the game core and whatever renders it.
//   - Surface: an interactive map (click events, point/path overlays, framing).
//   - Navigator: switches between named screens.
//   - Notifier: shows dismissable transient messages.
//
// The core never draws directly; the terminal front-end implements these and
// tests use recording fakes.

package ui

import "github.com/robalobadob/photoguess/internal/game"

// OverlayID names one drawn overlay so its owner can remove it.
type OverlayID string

// Surface is an interactive map.
type Surface interface {
	// OnClick registers the click callback; nil unregisters it.
	OnClick(fn func(at game.Coordinate))
	AddPoint(at game.Coordinate, label string) OverlayID
	AddPath(from, to game.Coordinate) OverlayID
	Remove(id OverlayID)
	// FitBounds frames the view on b. Only meaningful once the surface has
	// been laid out (see Invalidate).
	FitBounds(b game.Bounds)
	// Invalidate forces the surface to recompute its size after becoming
	// visible.
	Invalidate()
}

// Screen is a named top-level view.
type Screen string

const (
	ScreenAuth        Screen = "auth"
	ScreenMenu        Screen = "menu"
	ScreenGame        Screen = "game"
	ScreenResults     Screen = "results"
	ScreenLeaderboard Screen = "leaderboard"
)

// Menu holds the options the menu screen offers.
type Menu struct {
	// CanContinue is set only when the authority reports an active session.
	CanContinue bool
}

// Navigator shows one screen at a time. The menu screen is shown through
// ShowMenu so its options can follow the authority's state.
type Navigator interface {
	Show(s Screen)
	ShowMenu(m Menu)
}

// Notifier surfaces transient failures to the player.
type Notifier interface {
	Notify(msg string)
}

// overlays is a tagged collection of the overlays one owner has drawn.
type overlays struct {
	surface Surface
	ids     []OverlayID
}

func (o *overlays) point(at game.Coordinate, label string) {
	o.ids = append(o.ids, o.surface.AddPoint(at, label))
}

func (o *overlays) path(from, to game.Coordinate) {
	o.ids = append(o.ids, o.surface.AddPath(from, to))
}

func (o *overlays) clear() {
	for _, id := range o.ids {
		o.surface.Remove(id)
	}
	o.ids = o.ids[:0]
}

func (o *overlays) len() int { return len(o.ids) }
