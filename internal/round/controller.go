// internal/round/controller.go
//
// Round Controller: the state machine for one game session.
//
//	NoSession → RoundLoading → AwaitingGuess → GuessSubmitted → RoundLoading → … → Completed → NoSession
//
// Rules:
//   - The authority owns every number (round counter, scores). The controller
//     copies them from responses; the only local arithmetic is adding the
//     score delta of a submitted guess.
//   - One transition in flight at a time (ErrBusy). Network calls run without
//     the lock held.
//   - Quit/Reset bump the epoch. A response that comes back under an older
//     epoch is dropped, and any photo handle it produced is released.
//   - A transition either completes and emits a Snapshot, or fails and leaves
//     state untouched so the caller can retry.
//   - At most one PhotoAsset handle is live; the previous one is released as
//     soon as the next is in place.

package round

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/robalobadob/photoguess/internal/api"
	"github.com/robalobadob/photoguess/internal/game"
	"github.com/robalobadob/photoguess/internal/photo"
)

// Controller drives one game session end to end.
type Controller struct {
	api    Authority
	photos Photos
	store  SessionStore
	log    zerolog.Logger

	mu       sync.Mutex
	state    State
	epoch    uint64 // bumped by Quit/Reset
	opSeq    uint64
	op       uint64 // in-flight transition, 0 when idle
	seq      uint64 // snapshot sequence
	session  *game.Session
	round    *game.Round
	asset    *photo.Handle
	photoErr error
	guess    *game.Coordinate
	result   *game.RoundResult
	finish   bool
	summary  *Summary

	emitMu    sync.Mutex
	delivered uint64
	subs      map[int]func(Snapshot)
	nextSub   int
}

// New builds a controller in NoSession.
func New(authority Authority, photos Photos, store SessionStore, logger zerolog.Logger) *Controller {
	return &Controller{
		api:    authority,
		photos: photos,
		store:  store,
		log:    logger.With().Str("component", "round").Logger(),
		subs:   make(map[int]func(Snapshot)),
	}
}

// Subscribe registers fn for every snapshot and returns an unsubscribe func.
// Subscribers run synchronously and must not call transition methods.
func (c *Controller) Subscribe(fn func(Snapshot)) func() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.emitMu.Lock()
		defer c.emitMu.Unlock()
		delete(c.subs, id)
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns the current view without emitting it.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(c.seq)
}

// Finishable reports whether the last result closed the session.
func (c *Controller) Finishable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finish
}

// ---------------------------------------------------------------------------
// transitions

// Start discards any existing session on the authority and begins a new one.
// On success the controller is in RoundLoading; call LoadRound next.
func (c *Controller) Start(ctx context.Context) error {
	tok, err := c.begin(NoSession, RoundLoading, AwaitingGuess, GuessSubmitted, Completed)
	if err != nil {
		return err
	}
	defer c.end(tok)

	if err := c.api.DeleteSession(ctx); err != nil && !errors.Is(err, api.ErrNotFound) {
		return err
	}
	sess, err := c.api.StartSession(ctx)
	if err != nil {
		return err
	}

	return c.apply(tok, func() {
		c.dropRoundLocked()
		c.summary = nil
		c.session = &sess
		c.state = RoundLoading
		c.store.SetSession(sess)
		c.log.Info().Int64("session", sess.ID).Msg("session started")
	})
}

// Resume re-enters an existing session without discarding it. A session the
// authority already considers completed goes straight to Completed. A missing
// session is returned as an error matching api.ErrNotFound.
func (c *Controller) Resume(ctx context.Context) error {
	tok, err := c.begin(NoSession, Completed)
	if err != nil {
		return err
	}
	defer c.end(tok)

	sess, err := c.api.CurrentSession(ctx)
	if err != nil {
		return err
	}
	if sess.Completed() {
		return c.complete(ctx, tok)
	}
	return c.apply(tok, func() {
		c.dropRoundLocked()
		c.summary = nil
		c.session = &sess
		c.state = RoundLoading
		c.store.SetSession(sess)
		c.log.Info().Int64("session", sess.ID).Int("rounds_completed", sess.RoundsCompleted).Msg("session resumed")
	})
}

// LoadRound fetches the session snapshot and the current round's photo.
// ErrNoMoreRounds from the authority moves to Completed; any other failure is
// returned with state untouched. A photo that cannot be downloaded does not
// block the round: the snapshot carries PhotoErr instead of PhotoURL.
func (c *Controller) LoadRound(ctx context.Context) error {
	tok, err := c.begin(RoundLoading, AwaitingGuess)
	if err != nil {
		return err
	}
	defer c.end(tok)

	sess, err := c.api.CurrentSession(ctx)
	if err != nil {
		return err
	}
	ref, err := c.api.CurrentRoundPhoto(ctx)
	if errors.Is(err, api.ErrNoMoreRounds) {
		c.log.Info().Msg("no more rounds, completing session")
		return c.complete(ctx, tok)
	}
	if err != nil {
		return err
	}

	var h *photo.Handle
	data, contentType, photoErr := c.api.FetchPhoto(ctx, ref.URL)
	switch {
	case errors.Is(photoErr, api.ErrUnauthorized):
		return photoErr
	case photoErr != nil:
		c.log.Warn().Err(photoErr).Str("photo", ref.PhotoID).Msg("photo unavailable")
	default:
		h = c.photos.Materialize(data, contentType)
	}

	number := ref.RoundNumber
	if number <= 0 {
		number = sess.NextRound()
	}

	var old *photo.Handle
	err = c.apply(tok, func() {
		old = c.asset
		c.asset = h
		c.photoErr = photoErr
		c.round = &game.Round{Number: number, Photo: ref}
		c.guess = nil
		c.result = nil
		c.finish = false
		c.session = &sess
		c.state = AwaitingGuess
		c.store.SetSession(sess)
	})
	if err != nil {
		c.photos.Release(h)
		return err
	}
	if old != h {
		c.photos.Release(old)
	}
	c.log.Debug().Int("round", number).Str("photo", ref.PhotoID).Msg("round loaded")
	return nil
}

// SetGuess records the pending guess for the current round, replacing any
// previous one.
func (c *Controller) SetGuess(at game.Coordinate) error {
	if !at.Valid() {
		return ErrInvalidCoordinate
	}
	c.mu.Lock()
	if c.state != AwaitingGuess || c.op != 0 {
		c.mu.Unlock()
		return ErrInvalidState
	}
	c.guess = &at
	c.seq++
	snap := c.snapshotLocked(c.seq)
	c.mu.Unlock()

	c.emit(snap)
	return nil
}

// ClearGuess discards the pending guess, if any.
func (c *Controller) ClearGuess() {
	c.mu.Lock()
	if c.guess == nil || c.state != AwaitingGuess {
		c.mu.Unlock()
		return
	}
	c.guess = nil
	c.seq++
	snap := c.snapshotLocked(c.seq)
	c.mu.Unlock()

	c.emit(snap)
}

// SubmitGuess sends the pending guess. It is rejected with ErrNoGuess when
// nothing is pending and ErrInvalidState outside AwaitingGuess.
func (c *Controller) SubmitGuess(ctx context.Context) (game.RoundResult, error) {
	c.mu.Lock()
	if c.op != 0 {
		c.mu.Unlock()
		return game.RoundResult{}, ErrBusy
	}
	if c.state != AwaitingGuess {
		c.mu.Unlock()
		return game.RoundResult{}, ErrInvalidState
	}
	if c.guess == nil {
		c.mu.Unlock()
		return game.RoundResult{}, ErrNoGuess
	}
	at := *c.guess
	tok := c.beginLocked()
	c.mu.Unlock()
	defer c.end(tok)

	res, err := c.api.SubmitGuess(ctx, at)
	if err != nil {
		return game.RoundResult{}, err
	}

	err = c.apply(tok, func() {
		c.result = &res
		c.finish = res.GameCompleted
		if c.session != nil {
			s := *c.session
			s.TotalScore += res.Score
			c.session = &s
			c.store.SetSession(s)
		}
		c.state = GuessSubmitted
	})
	if err != nil {
		return game.RoundResult{}, err
	}
	c.log.Info().Float64("distance_km", res.DistanceKm).Int("score", res.Score).
		Bool("game_completed", res.GameCompleted).Msg("guess scored")
	return res, nil
}

// Advance leaves the result view: back to RoundLoading for the next round, or
// to Completed when the last result closed the session.
func (c *Controller) Advance(ctx context.Context) error {
	tok, err := c.begin(GuessSubmitted)
	if err != nil {
		return err
	}
	defer c.end(tok)

	if c.Finishable() {
		return c.complete(ctx, tok)
	}
	return c.apply(tok, func() {
		c.guess = nil
		c.result = nil
		c.state = RoundLoading
	})
}

// Finish is Advance for a finishable result, kept as a separate entry point
// for the "finish" affordance.
func (c *Controller) Finish(ctx context.Context) error {
	if !c.Finishable() {
		return ErrInvalidState
	}
	return c.Advance(ctx)
}

// Quit abandons the session: local state is discarded immediately and the
// authority is asked (best effort) to delete the session.
func (c *Controller) Quit(ctx context.Context) error {
	c.mu.Lock()
	if c.state == NoSession {
		c.mu.Unlock()
		return nil
	}
	active := c.state.Active()
	snap := c.resetLocked()
	c.mu.Unlock()

	c.emit(snap)

	if active {
		if err := c.api.DeleteSession(ctx); err != nil {
			c.log.Warn().Err(err).Msg("delete session on quit")
		}
	}
	c.log.Info().Msg("session quit")
	return nil
}

// Reset discards all local state without contacting the authority. Used on
// logout and when the credential is rejected.
func (c *Controller) Reset() {
	c.mu.Lock()
	snap := c.resetLocked()
	c.mu.Unlock()

	c.emit(snap)
}

// ---------------------------------------------------------------------------
// internals

type token struct {
	op    uint64
	epoch uint64
}

func (c *Controller) begin(allowed ...State) (token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.op != 0 {
		return token{}, ErrBusy
	}
	ok := false
	for _, s := range allowed {
		if c.state == s {
			ok = true
			break
		}
	}
	if !ok {
		return token{}, ErrInvalidState
	}
	return c.beginLocked(), nil
}

func (c *Controller) beginLocked() token {
	c.opSeq++
	c.op = c.opSeq
	return token{op: c.op, epoch: c.epoch}
}

func (c *Controller) end(t token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.op == t.op {
		c.op = 0
	}
}

// apply runs mutate under the lock if t is still current, then emits the new
// snapshot. Stale tokens get ErrStale and no mutation.
func (c *Controller) apply(t token, mutate func()) error {
	c.mu.Lock()
	if t.epoch != c.epoch || c.op != t.op {
		c.mu.Unlock()
		c.log.Debug().Msg("dropping stale response")
		return ErrStale
	}
	mutate()
	c.seq++
	snap := c.snapshotLocked(c.seq)
	c.mu.Unlock()

	c.emit(snap)
	return nil
}

// complete fetches the final snapshot and round history and enters Completed.
func (c *Controller) complete(ctx context.Context, t token) error {
	sess, err := c.api.CurrentSession(ctx)
	if err != nil {
		return err
	}
	rounds, err := c.api.RoundHistory(ctx)
	if err != nil {
		return err
	}
	sess.Status = game.StatusCompleted

	err = c.apply(t, func() {
		c.dropRoundLocked()
		c.session = &sess
		c.summary = &Summary{Session: sess, Rounds: rounds}
		c.state = Completed
		c.store.SetSession(sess)
	})
	if err != nil {
		return err
	}
	c.log.Info().Int64("session", sess.ID).Int("total_score", sess.TotalScore).Msg("session completed")
	return nil
}

// dropRoundLocked forgets round-local state and releases the live handle.
func (c *Controller) dropRoundLocked() {
	c.photos.Release(c.asset)
	c.asset = nil
	c.photoErr = nil
	c.round = nil
	c.guess = nil
	c.result = nil
	c.finish = false
}

func (c *Controller) resetLocked() Snapshot {
	c.epoch++
	c.op = 0
	c.dropRoundLocked()
	c.session = nil
	c.summary = nil
	c.state = NoSession
	c.store.ClearSession()
	c.seq++
	return c.snapshotLocked(c.seq)
}

func (c *Controller) snapshotLocked(seq uint64) Snapshot {
	s := Snapshot{Seq: seq, State: c.state, PhotoErr: c.photoErr, Finishable: c.finish, Summary: c.summary}
	if c.session != nil {
		cp := *c.session
		s.Session = &cp
	}
	if c.round != nil {
		cp := *c.round
		s.Round = &cp
	}
	if c.asset != nil {
		s.PhotoURL = c.asset.URL
	}
	if c.guess != nil {
		cp := *c.guess
		s.Guess = &cp
	}
	if c.result != nil {
		cp := *c.result
		s.Result = &cp
	}
	return s
}

// emit delivers snap unless a newer snapshot was already delivered.
func (c *Controller) emit(snap Snapshot) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	if snap.Seq <= c.delivered {
		return
	}
	c.delivered = snap.Seq
	for _, fn := range c.subs {
		fn(snap)
	}
}
