// internal/ui/result.go
//
// Result view for a scored round.
// Responsibilities:
//   - Draw guess, actual location and the line between them, framed.
//   - Clear the drawing once the player moves on.

package ui

import (
	"context"
	"sync"

	"github.com/robalobadob/photoguess/internal/game"
	"github.com/robalobadob/photoguess/internal/round"
)

// FrameMargin is the share of the guess/actual span added around the result.
const FrameMargin = 0.2

// Advancer leaves the result view.
type Advancer interface {
	Advance(ctx context.Context) error
}

// ResultView is the display data of one scored round.
type ResultView struct {
	Round       int
	DistanceKm  float64
	Score       int
	TotalScore  int
	Guess       game.Coordinate
	Actual      game.Coordinate
	ExternalURL string
	Finishable  bool
}

// BuildResultView extracts the result of a GuessSubmitted snapshot.
func BuildResultView(s round.Snapshot) (ResultView, bool) {
	if s.State != round.GuessSubmitted || s.Result == nil || s.Guess == nil {
		return ResultView{}, false
	}
	v := ResultView{
		DistanceKm:  s.Result.DistanceKm,
		Score:       s.Result.Score,
		Guess:       *s.Guess,
		Actual:      s.Result.Actual,
		ExternalURL: s.Result.ExternalURL,
		Finishable:  s.Finishable,
	}
	if s.Round != nil {
		v.Round = s.Round.Number
	}
	if s.Session != nil {
		v.TotalScore = s.Session.TotalScore
	}
	return v, true
}

// ResultPresenter draws a scored round on its own map surface: the guess, the
// actual location and the line between them. Framing waits until the surface
// is visible, because fitting bounds on a surface that has not been laid out
// yet frames the wrong area.
type ResultPresenter struct {
	surface Surface
	ctrl    Advancer

	mu      sync.Mutex
	drawn   overlays
	pending *game.Bounds
}

// NewResultPresenter binds a presenter to surface; Close advances ctrl.
func NewResultPresenter(surface Surface, ctrl Advancer) *ResultPresenter {
	return &ResultPresenter{surface: surface, ctrl: ctrl, drawn: overlays{surface: surface}}
}

// Show replaces whatever was drawn with guess, actual and the path between.
func (p *ResultPresenter) Show(guess game.Coordinate, res game.RoundResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drawn.clear()
	p.drawn.point(guess, "guess")
	p.drawn.point(res.Actual, "actual")
	p.drawn.path(guess, res.Actual)
	b := game.BoundsOf(guess, res.Actual).Pad(FrameMargin)
	p.pending = &b
}

// Visible must be called once the surface is on screen. It forces a relayout
// and then frames the pending bounds.
func (p *ResultPresenter) Visible() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil {
		return
	}
	p.surface.Invalidate()
	p.surface.FitBounds(*p.pending)
	p.pending = nil
}

// Close advances the controller and then clears the drawn overlays. It is the
// only way the result view triggers the next round or completion. When Advance
// fails the drawing stays, matching the controller still in GuessSubmitted.
func (p *ResultPresenter) Close(ctx context.Context) error {
	if err := p.ctrl.Advance(ctx); err != nil {
		return err
	}
	p.Clear()
	return nil
}

// Clear drops the drawn overlays without advancing the controller.
func (p *ResultPresenter) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drawn.clear()
	p.pending = nil
}

// Overlays returns how many overlays the presenter currently owns.
func (p *ResultPresenter) Overlays() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.drawn.len()
}
