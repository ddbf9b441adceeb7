package round

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/robalobadob/photoguess/internal/api"
	"github.com/robalobadob/photoguess/internal/game"
	"github.com/robalobadob/photoguess/internal/photo"
	"github.com/robalobadob/photoguess/internal/store"
	"github.com/robalobadob/photoguess/internal/wire"
)

// fakeAuthority is an in-memory authority with a fixed number of rounds.
type fakeAuthority struct {
	mu       sync.Mutex
	total    int
	session  *game.Session
	history  []game.RoundSummary
	deletes  int
	starts   int
	nextID   int64
	result   *game.RoundResult // overrides the computed result when set
	fetchErr error
	curErr   error
	guessErr error

	// When set, FetchPhoto/SubmitGuess signal entered and wait for release.
	fetchEntered  chan struct{}
	fetchRelease  chan struct{}
	submitEntered chan struct{}
	submitRelease chan struct{}
}

func newFake(total int) *fakeAuthority { return &fakeAuthority{total: total} }

func notFound() error { return &api.DomainError{Status: http.StatusNotFound, Message: "No active game found."} }

func (f *fakeAuthority) CurrentSession(context.Context) (game.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.curErr != nil {
		return game.Session{}, f.curErr
	}
	if f.session == nil {
		return game.Session{}, notFound()
	}
	return *f.session, nil
}

func (f *fakeAuthority) StartSession(context.Context) (game.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session != nil && !f.session.Completed() {
		return game.Session{}, &api.DomainError{Status: http.StatusBadRequest, Message: "active game"}
	}
	f.starts++
	f.nextID++
	f.session = &game.Session{ID: f.nextID, Status: game.StatusActive, StartedAt: time.Now()}
	f.history = nil
	return *f.session, nil
}

func (f *fakeAuthority) DeleteSession(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil || f.session.Completed() {
		return notFound()
	}
	f.deletes++
	f.session = nil
	return nil
}

func (f *fakeAuthority) CurrentRoundPhoto(context.Context) (game.PhotoRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil {
		return game.PhotoRef{}, notFound()
	}
	if f.session.RoundsCompleted >= f.total {
		return game.PhotoRef{}, &api.DomainError{Status: http.StatusConflict, Code: wire.CodeNoMoreRounds, Message: "All rounds completed."}
	}
	n := f.session.RoundsCompleted + 1
	return game.PhotoRef{PhotoID: "p", URL: "/game/photo/p/preview", RoundNumber: n}, nil
}

func (f *fakeAuthority) FetchPhoto(context.Context, string) ([]byte, string, error) {
	if f.fetchEntered != nil {
		f.fetchEntered <- struct{}{}
		<-f.fetchRelease
	}
	if f.fetchErr != nil {
		return nil, "", f.fetchErr
	}
	return []byte("jpeg"), "image/jpeg", nil
}

func (f *fakeAuthority) SubmitGuess(_ context.Context, at game.Coordinate) (game.RoundResult, error) {
	if f.submitEntered != nil {
		f.submitEntered <- struct{}{}
		<-f.submitRelease
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.guessErr != nil {
		return game.RoundResult{}, f.guessErr
	}
	res := game.RoundResult{DistanceKm: 12, Score: 1900, Actual: game.Coordinate{Lat: at.Lat + 0.1, Lng: at.Lng}}
	if f.result != nil {
		res = *f.result
	}
	f.session.RoundsCompleted++
	f.session.TotalScore += res.Score
	res.GameCompleted = f.session.RoundsCompleted >= f.total
	if res.GameCompleted {
		f.session.Status = game.StatusCompleted
	}
	d := res.DistanceKm
	f.history = append(f.history, game.RoundSummary{RoundNumber: f.session.RoundsCompleted, DistanceKm: &d, Score: res.Score, Guess: &at})
	return res, nil
}

func (f *fakeAuthority) RoundHistory(context.Context) ([]game.RoundSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]game.RoundSummary{}, f.history...), nil
}

type fixture struct {
	auth   *fakeAuthority
	photos *photo.Registry
	store  *store.Store
	ctrl   *Controller
	snaps  []Snapshot
}

func newFixture(t *testing.T, total int) *fixture {
	t.Helper()
	f := &fixture{auth: newFake(total), photos: photo.NewRegistry("http://local/photos"), store: store.New()}
	f.ctrl = New(f.auth, f.photos, f.store, zerolog.Nop())
	f.ctrl.Subscribe(func(s Snapshot) { f.snaps = append(f.snaps, s) })
	return f
}

func (f *fixture) last() Snapshot { return f.snaps[len(f.snaps)-1] }

func mustNil(t *testing.T, err error, what string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", what, err)
	}
}

func TestController_StartAndLoadRound(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	mustNil(t, f.ctrl.Start(ctx), "start")
	if f.ctrl.State() != RoundLoading {
		t.Fatalf("expected round_loading, got %s", f.ctrl.State())
	}
	mustNil(t, f.ctrl.LoadRound(ctx), "load")

	snap := f.last()
	if snap.State != AwaitingGuess {
		t.Fatalf("expected awaiting_guess, got %s", snap.State)
	}
	if snap.Round == nil || snap.Round.Number != 1 {
		t.Fatalf("expected round 1, got %+v", snap.Round)
	}
	if snap.PhotoURL == "" || f.photos.Live() != 1 {
		t.Fatalf("expected one live photo handle, url=%q live=%d", snap.PhotoURL, f.photos.Live())
	}
	if s := f.store.Session(); s == nil || s.ID != 1 {
		t.Fatalf("store not updated: %+v", s)
	}
}

func TestController_StartDiscardsExistingSession(t *testing.T) {
	f := newFixture(t, 5)
	f.auth.session = &game.Session{ID: 42, RoundsCompleted: 2, Status: game.StatusActive}

	mustNil(t, f.ctrl.Start(context.Background()), "start")
	if f.auth.deletes != 1 || f.auth.starts != 1 {
		t.Fatalf("expected delete then start, got deletes=%d starts=%d", f.auth.deletes, f.auth.starts)
	}
	if s := f.store.Session(); s == nil || s.RoundsCompleted != 0 {
		t.Fatalf("expected fresh session, got %+v", s)
	}
}

func TestController_StartWithoutExistingSession(t *testing.T) {
	f := newFixture(t, 5)
	mustNil(t, f.ctrl.Start(context.Background()), "start with nothing to delete")
	if f.auth.deletes != 0 {
		t.Fatalf("nothing should have been deleted, got %d", f.auth.deletes)
	}
}

func TestController_ResumeKeepsSession(t *testing.T) {
	f := newFixture(t, 5)
	f.auth.session = &game.Session{ID: 9, RoundsCompleted: 3, TotalScore: 7000, Status: game.StatusActive}
	ctx := context.Background()

	mustNil(t, f.ctrl.Resume(ctx), "resume")
	mustNil(t, f.ctrl.LoadRound(ctx), "load")

	if f.auth.deletes != 0 {
		t.Fatal("resume must not delete the session")
	}
	if r := f.last().Round; r == nil || r.Number != 4 {
		t.Fatalf("expected round 4, got %+v", r)
	}
}

func TestController_ResumeWithoutSession(t *testing.T) {
	f := newFixture(t, 5)
	err := f.ctrl.Resume(context.Background())
	if !errors.Is(err, api.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if f.ctrl.State() != NoSession {
		t.Fatalf("state changed: %s", f.ctrl.State())
	}
}

func TestController_OneLiveHandleAcrossRounds(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	mustNil(t, f.ctrl.Start(ctx), "start")

	for i := 0; i < 5; i++ {
		mustNil(t, f.ctrl.LoadRound(ctx), "load")
		if f.photos.Live() != 1 {
			t.Fatalf("round %d: expected 1 live handle, got %d", i+1, f.photos.Live())
		}
		mustNil(t, f.ctrl.SetGuess(game.Coordinate{Lat: 1, Lng: 2}), "guess")
		_, err := f.ctrl.SubmitGuess(ctx)
		mustNil(t, err, "submit")
		mustNil(t, f.ctrl.Advance(ctx), "advance")
	}

	if f.ctrl.State() != Completed {
		t.Fatalf("expected completed, got %s", f.ctrl.State())
	}
	if f.photos.Live() != 0 {
		t.Fatalf("completed session must not keep a photo handle, %d live", f.photos.Live())
	}
	st := f.photos.Stats()
	if st.Created != 5 || st.Released != 5 {
		t.Fatalf("unexpected handle stats %+v", st)
	}
}

func TestController_ReloadingSameRoundReleasesPrevious(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	mustNil(t, f.ctrl.Start(ctx), "start")
	mustNil(t, f.ctrl.LoadRound(ctx), "load")
	mustNil(t, f.ctrl.LoadRound(ctx), "reload")

	if f.photos.Live() != 1 {
		t.Fatalf("expected 1 live handle after reload, got %d", f.photos.Live())
	}
}

func TestController_LoadRoundClearsGuess(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	mustNil(t, f.ctrl.Start(ctx), "start")
	mustNil(t, f.ctrl.LoadRound(ctx), "load")
	mustNil(t, f.ctrl.SetGuess(game.Coordinate{Lat: 5, Lng: 5}), "guess")

	mustNil(t, f.ctrl.LoadRound(ctx), "reload")
	if f.last().Guess != nil {
		t.Fatal("pending guess must be cleared by LoadRound")
	}
	if _, err := f.ctrl.SubmitGuess(ctx); !errors.Is(err, ErrNoGuess) {
		t.Fatalf("expected ErrNoGuess, got %v", err)
	}
}

func TestController_SubmitWithoutGuessRejected(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	if _, err := f.ctrl.SubmitGuess(ctx); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState without session, got %v", err)
	}
	mustNil(t, f.ctrl.Start(ctx), "start")
	mustNil(t, f.ctrl.LoadRound(ctx), "load")
	if _, err := f.ctrl.SubmitGuess(ctx); !errors.Is(err, ErrNoGuess) {
		t.Fatalf("expected ErrNoGuess, got %v", err)
	}
	if f.ctrl.State() != AwaitingGuess {
		t.Fatalf("state changed on rejected submit: %s", f.ctrl.State())
	}
}

func TestController_SetGuessReplaces(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	if err := f.ctrl.SetGuess(game.Coordinate{Lat: 1, Lng: 1}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("guess outside a round must be rejected, got %v", err)
	}
	mustNil(t, f.ctrl.Start(ctx), "start")
	mustNil(t, f.ctrl.LoadRound(ctx), "load")

	mustNil(t, f.ctrl.SetGuess(game.Coordinate{Lat: 1, Lng: 1}), "first guess")
	mustNil(t, f.ctrl.SetGuess(game.Coordinate{Lat: 2, Lng: 3}), "second guess")
	if g := f.last().Guess; g == nil || g.Lat != 2 || g.Lng != 3 {
		t.Fatalf("expected replaced guess, got %+v", g)
	}
	if err := f.ctrl.SetGuess(game.Coordinate{Lat: 91, Lng: 0}); !errors.Is(err, ErrInvalidCoordinate) {
		t.Fatalf("expected ErrInvalidCoordinate, got %v", err)
	}
}

func TestController_ClearGuess(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	mustNil(t, f.ctrl.Start(ctx), "start")
	mustNil(t, f.ctrl.LoadRound(ctx), "load")
	mustNil(t, f.ctrl.SetGuess(game.Coordinate{Lat: 4, Lng: 4}), "guess")

	f.ctrl.ClearGuess()
	if f.last().Guess != nil {
		t.Fatal("guess still pending after ClearGuess")
	}
	if _, err := f.ctrl.SubmitGuess(ctx); !errors.Is(err, ErrNoGuess) {
		t.Fatalf("expected ErrNoGuess, got %v", err)
	}

	seq := f.last().Seq
	f.ctrl.ClearGuess()
	if f.last().Seq != seq {
		t.Fatal("clearing with nothing pending emitted a snapshot")
	}
}

func TestController_FinalRoundScenario(t *testing.T) {
	f := newFixture(t, 5)
	f.auth.session = &game.Session{ID: 3, RoundsCompleted: 4, TotalScore: 12000, Status: game.StatusActive}
	f.auth.result = &game.RoundResult{DistanceKm: 3.4, Score: 850, Actual: game.Coordinate{Lat: 10.01, Lng: 20.02}}
	ctx := context.Background()

	mustNil(t, f.ctrl.Resume(ctx), "resume")
	mustNil(t, f.ctrl.LoadRound(ctx), "load")
	if r := f.last().Round; r == nil || r.Number != 5 {
		t.Fatalf("expected round 5, got %+v", r)
	}

	mustNil(t, f.ctrl.SetGuess(game.Coordinate{Lat: 10, Lng: 20}), "guess")
	res, err := f.ctrl.SubmitGuess(ctx)
	mustNil(t, err, "submit")

	if !res.GameCompleted || !f.ctrl.Finishable() {
		t.Fatal("expected the finish affordance")
	}
	snap := f.last()
	if snap.State != GuessSubmitted || !snap.Finishable {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Session.TotalScore != 12850 {
		t.Fatalf("expected total 12850, got %d", snap.Session.TotalScore)
	}
	if s := f.store.Session(); s.TotalScore != 12850 || s.RoundsCompleted != 4 {
		t.Fatalf("store should carry the score delta and the authority's round count: %+v", s)
	}

	mustNil(t, f.ctrl.Finish(ctx), "finish")
	final := f.last()
	if final.State != Completed || final.Summary == nil {
		t.Fatalf("expected completed with summary, got %+v", final)
	}
	if !final.Summary.Session.Completed() {
		t.Fatal("final session should be completed")
	}
	if final.Summary.Session.RoundsCompleted != 5 {
		t.Fatalf("round count should come from the authority, got %d", final.Summary.Session.RoundsCompleted)
	}
}

func TestController_NoMoreRoundsCompletes(t *testing.T) {
	f := newFixture(t, 5)
	f.auth.session = &game.Session{ID: 4, RoundsCompleted: 5, TotalScore: 9000, Status: game.StatusActive}
	ctx := context.Background()

	mustNil(t, f.ctrl.Resume(ctx), "resume")
	if err := f.ctrl.LoadRound(ctx); err != nil {
		t.Fatalf("no more rounds must not surface an error, got %v", err)
	}
	if f.ctrl.State() != Completed {
		t.Fatalf("expected completed, got %s", f.ctrl.State())
	}
}

func TestController_LoadRoundFailureLeavesState(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	mustNil(t, f.ctrl.Start(ctx), "start")
	before := f.ctrl.Snapshot()

	f.auth.curErr = &api.TransportError{Op: "GET /game/current", Err: errors.New("connection reset")}
	if err := f.ctrl.LoadRound(ctx); err == nil {
		t.Fatal("expected error")
	}
	after := f.ctrl.Snapshot()
	if after.State != before.State || after.Seq != before.Seq {
		t.Fatalf("state changed on failure: %+v → %+v", before, after)
	}

	f.auth.curErr = nil
	mustNil(t, f.ctrl.LoadRound(ctx), "retry")
	if f.ctrl.State() != AwaitingGuess {
		t.Fatalf("retry should succeed, got %s", f.ctrl.State())
	}
}

func TestController_PhotoFailureDoesNotBlockRound(t *testing.T) {
	f := newFixture(t, 5)
	f.auth.fetchErr = &api.TransportError{Op: "read photo", Err: errors.New("eof")}
	ctx := context.Background()
	mustNil(t, f.ctrl.Start(ctx), "start")
	mustNil(t, f.ctrl.LoadRound(ctx), "load")

	snap := f.last()
	if snap.State != AwaitingGuess || snap.PhotoErr == nil || snap.PhotoURL != "" {
		t.Fatalf("expected failure indicator, got %+v", snap)
	}
	if f.photos.Live() != 0 {
		t.Fatal("no handle should exist for a failed photo")
	}
}

func TestController_QuitResets(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	mustNil(t, f.ctrl.Start(ctx), "start")
	mustNil(t, f.ctrl.LoadRound(ctx), "load")
	mustNil(t, f.ctrl.SetGuess(game.Coordinate{Lat: 1, Lng: 1}), "guess")

	mustNil(t, f.ctrl.Quit(ctx), "quit")

	if f.ctrl.State() != NoSession {
		t.Fatalf("expected no_session, got %s", f.ctrl.State())
	}
	if f.store.Session() != nil {
		t.Fatal("store session should be cleared")
	}
	if f.photos.Live() != 0 {
		t.Fatal("photo handle leaked on quit")
	}
	if _, err := f.auth.CurrentSession(ctx); !errors.Is(err, api.ErrNotFound) {
		t.Fatalf("authority should have no session after quit, got %v", err)
	}
	if last := f.last(); last.Guess != nil || last.Round != nil {
		t.Fatalf("quit snapshot should carry no round data: %+v", last)
	}
}

func TestController_QuitIsNoopWithoutSession(t *testing.T) {
	f := newFixture(t, 5)
	mustNil(t, f.ctrl.Quit(context.Background()), "quit")
	if len(f.snaps) != 0 {
		t.Fatal("quit without a session should not emit")
	}
}

func TestController_UnauthorizedResets(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	mustNil(t, f.ctrl.Start(ctx), "start")
	mustNil(t, f.ctrl.LoadRound(ctx), "load")

	f.auth.guessErr = api.ErrUnauthorized
	mustNil(t, f.ctrl.SetGuess(game.Coordinate{Lat: 1, Lng: 1}), "guess")
	f.auth.submitEntered = make(chan struct{})
	f.auth.submitRelease = make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := f.ctrl.SubmitGuess(ctx)
		done <- err
	}()
	<-f.auth.submitEntered
	// what the app does from the client's unauthorized hook
	f.ctrl.Reset()
	close(f.auth.submitRelease)

	if err := <-done; !errors.Is(err, api.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if f.ctrl.State() != NoSession || f.store.Session() != nil || f.photos.Live() != 0 {
		t.Fatal("unauthorized must leave no session state behind")
	}
}

func TestController_SecondSubmitWhileInFlightRejected(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	mustNil(t, f.ctrl.Start(ctx), "start")
	mustNil(t, f.ctrl.LoadRound(ctx), "load")
	mustNil(t, f.ctrl.SetGuess(game.Coordinate{Lat: 1, Lng: 1}), "guess")

	f.auth.submitEntered = make(chan struct{})
	f.auth.submitRelease = make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := f.ctrl.SubmitGuess(ctx)
		done <- err
	}()
	<-f.auth.submitEntered

	if _, err := f.ctrl.SubmitGuess(ctx); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if err := f.ctrl.LoadRound(ctx); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for load, got %v", err)
	}
	if err := f.ctrl.SetGuess(game.Coordinate{Lat: 4, Lng: 4}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("guess must be frozen while submitting, got %v", err)
	}

	close(f.auth.submitRelease)
	mustNil(t, <-done, "first submit")
	if f.ctrl.State() != GuessSubmitted {
		t.Fatalf("expected guess_submitted, got %s", f.ctrl.State())
	}
}

func TestController_StaleLoadAfterQuitReleasesHandle(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	mustNil(t, f.ctrl.Start(ctx), "start")

	f.auth.fetchEntered = make(chan struct{})
	f.auth.fetchRelease = make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- f.ctrl.LoadRound(ctx) }()
	<-f.auth.fetchEntered

	mustNil(t, f.ctrl.Quit(ctx), "quit")
	close(f.auth.fetchRelease)

	if err := <-done; !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	if f.ctrl.State() != NoSession {
		t.Fatalf("stale response overwrote state: %s", f.ctrl.State())
	}
	if f.photos.Live() != 0 {
		t.Fatal("abandoned round's handle was not released")
	}
	st := f.photos.Stats()
	if st.Created != st.Released {
		t.Fatalf("handles created=%d released=%d", st.Created, st.Released)
	}
	if f.last().State != NoSession {
		t.Fatalf("last delivered snapshot should be no_session, got %s", f.last().State)
	}
}

func TestController_AdvanceLoops(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	mustNil(t, f.ctrl.Start(ctx), "start")
	mustNil(t, f.ctrl.LoadRound(ctx), "load")

	if err := f.ctrl.Advance(ctx); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("advance before submitting must fail, got %v", err)
	}
	mustNil(t, f.ctrl.SetGuess(game.Coordinate{Lat: 1, Lng: 1}), "guess")
	_, err := f.ctrl.SubmitGuess(ctx)
	mustNil(t, err, "submit")
	if err := f.ctrl.Finish(ctx); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("finish must need a completed game, got %v", err)
	}
	mustNil(t, f.ctrl.Advance(ctx), "advance")

	snap := f.last()
	if snap.State != RoundLoading || snap.Guess != nil || snap.Result != nil {
		t.Fatalf("advance should clear guess/result and reload: %+v", snap)
	}
}
