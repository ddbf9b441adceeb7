// internal/app/app.go
//
// Application context for `photoguess play`. Built once at startup and passed
// explicitly; there are no package-level singletons.
//
// Wiring order:
//
//	config → Session Store → credentials → Resource Client → photo handles
//	       → Round Controller → capture surface / result presenter / leaderboard
//
// Responsibilities:
//   - Sign-in flows (Login, Register, Restore, Logout) with persisted credentials.
//   - The process-wide unauthorized handler: forget the credential, reset the
//     controller, show the auth screen.
//   - Screen navigation driven by controller snapshots.
//   - Game actions for the front-end, reporting failures through the Notifier.

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/robalobadob/photoguess/internal/api"
	"github.com/robalobadob/photoguess/internal/config"
	"github.com/robalobadob/photoguess/internal/game"
	"github.com/robalobadob/photoguess/internal/photo"
	"github.com/robalobadob/photoguess/internal/round"
	"github.com/robalobadob/photoguess/internal/store"
	"github.com/robalobadob/photoguess/internal/ui"
)

// Deps are the collaborators the front-end provides.
type Deps struct {
	Config      config.Client
	Credentials store.Credentials
	HTTP        *http.Client // nil: a client with Config.RequestTimeout
	Map         ui.Surface   // guess map
	ResultMap   ui.Surface   // result map
	Navigator   ui.Navigator
	Notifier    ui.Notifier
	Logger      zerolog.Logger
}

// App owns every long-lived piece of the client.
type App struct {
	cfg    config.Client
	store  *store.Store
	creds  store.Credentials
	api    *api.Client
	photos *photo.Registry
	server *photo.Server
	ctrl   *round.Controller

	capture *ui.CaptureSurface
	results *ui.ResultPresenter
	board   *ui.LeaderboardView

	nav    ui.Navigator
	notify ui.Notifier
	log    zerolog.Logger

	screenMu sync.Mutex
	screen   ui.Screen

	closeOnce sync.Once
}

// New wires the application. The photo handle server is bound but not yet
// serving; call Serve.
func New(d Deps) (*App, error) {
	log := d.Logger.With().Str("component", "app").Logger()

	httpClient := d.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: d.Config.RequestTimeout}
	}

	a := &App{
		cfg:    d.Config,
		store:  store.New(),
		creds:  d.Credentials,
		nav:    d.Navigator,
		notify: d.Notifier,
		log:    log,
	}
	if a.creds == nil {
		a.creds = &store.MemoryCredentials{}
	}

	client, err := api.New(d.Config.AuthorityURL, a.store, httpClient, d.Logger)
	if err != nil {
		return nil, err
	}
	a.api = client
	a.api.OnUnauthorized(a.unauthorized)

	a.photos = photo.NewRegistry("")
	a.server, err = photo.Listen(d.Config.PhotoAddr, a.photos, d.Logger)
	if err != nil {
		return nil, fmt.Errorf("photo handle server: %w", err)
	}

	a.ctrl = round.New(a.api, a.photos, a.store, d.Logger)
	a.ctrl.Subscribe(a.route)

	a.capture = ui.NewCaptureSurface(d.Map, a.ctrl, d.Logger)
	a.results = ui.NewResultPresenter(d.ResultMap, a.ctrl)
	a.board = ui.NewLeaderboardView(a.api, d.Config.LeaderboardLimit)
	return a, nil
}

// Serve publishes photo handles until Close.
func (a *App) Serve(ctx context.Context) error { return a.server.Run(ctx) }

// Close tears everything down: the controller is reset locally (the
// authority keeps the session for a later "continue"), surfaces unregister,
// and every remaining handle is released.
func (a *App) Close(ctx context.Context) error {
	var err error
	a.closeOnce.Do(func() {
		a.ctrl.Reset()
		a.capture.Close()
		err = a.server.Shutdown(ctx)
	})
	return err
}

// AuthorityURL is the root of the authority this client talks to.
func (a *App) AuthorityURL() string { return a.api.BaseURL() }

// Store exposes the session store (read-only use).
func (a *App) Store() *store.Store { return a.store }

// Controller exposes the round controller for snapshot subscriptions.
func (a *App) Controller() *round.Controller { return a.ctrl }

// Capture exposes the guess capture surface.
func (a *App) Capture() *ui.CaptureSurface { return a.capture }

// PhotoHandles reports how many photo handles are live.
func (a *App) PhotoHandles() int { return a.photos.Live() }

// ---------------------------------------------------------------------------
// identity

// Restore signs in with a persisted credential. It reports false (and shows
// the auth screen) when there is none or the authority rejects it.
func (a *App) Restore(ctx context.Context) (bool, error) {
	c, err := a.creds.Load(ctx)
	if errors.Is(err, store.ErrNoCredential) {
		a.show(ui.ScreenAuth)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	a.store.SetCredential(c.Token, nil)
	p, err := a.api.CurrentIdentity(ctx)
	if errors.Is(err, api.ErrUnauthorized) {
		return false, nil
	}
	if err != nil {
		a.store.Invalidate()
		a.show(ui.ScreenAuth)
		a.report(err)
		return false, err
	}
	a.store.SetCredential(c.Token, &p)
	a.log.Info().Str("user", p.Username).Msg("credential restored")
	a.Menu(ctx)
	return true, nil
}

// Login exchanges credentials for a token, persists it and shows the menu.
func (a *App) Login(ctx context.Context, username, password string) error {
	tok, err := a.api.Login(ctx, username, password)
	if errors.Is(err, api.ErrUnauthorized) {
		a.notify.Notify("Incorrect username or password")
		return err
	}
	if err != nil {
		a.report(err)
		return err
	}

	a.store.SetCredential(tok, nil)
	p, err := a.api.CurrentIdentity(ctx)
	if err != nil {
		a.store.Invalidate()
		a.report(err)
		return err
	}
	a.store.SetCredential(tok, &p)
	if err := a.creds.Save(ctx, store.Credential{Token: tok, Username: p.Username}); err != nil {
		a.log.Warn().Err(err).Msg("persist credential")
	}
	a.log.Info().Str("user", p.Username).Msg("signed in")
	a.Menu(ctx)
	return nil
}

// Register creates the account and signs in with it.
func (a *App) Register(ctx context.Context, username, email, password string) error {
	if err := a.api.Register(ctx, username, email, password); err != nil {
		a.report(err)
		return err
	}
	return a.Login(ctx, username, password)
}

// Logout forgets everything local. The authority keeps any unfinished session.
func (a *App) Logout(ctx context.Context) {
	a.signOut(ctx)
	a.log.Info().Msg("signed out")
}

// unauthorized is the Resource Client's 401 hook. A 401 while signed out
// (a failed login) is left to the caller.
func (a *App) unauthorized() {
	if a.store.Token() == "" {
		return
	}
	a.log.Warn().Msg("credential rejected, signing out")
	a.signOut(context.Background())
	a.notify.Notify(api.UserMessage(api.ErrUnauthorized))
}

func (a *App) signOut(ctx context.Context) {
	a.store.Invalidate()
	a.ctrl.Reset()
	a.results.Clear()
	if err := a.creds.Clear(ctx); err != nil {
		a.log.Warn().Err(err).Msg("clear persisted credential")
	}
	a.show(ui.ScreenAuth)
}

// ---------------------------------------------------------------------------
// game

// HasActiveSession reports whether the menu should offer "continue".
func (a *App) HasActiveSession(ctx context.Context) (bool, error) {
	s, err := a.api.CurrentSession(ctx)
	if errors.Is(err, api.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		a.report(err)
		return false, err
	}
	return !s.Completed(), nil
}

// NewGame discards any unfinished session and plays the first round.
func (a *App) NewGame(ctx context.Context) error {
	if err := a.ctrl.Start(ctx); err != nil {
		a.report(err)
		return err
	}
	return a.loadRound(ctx)
}

// Continue resumes the unfinished session.
func (a *App) Continue(ctx context.Context) error {
	if err := a.ctrl.Resume(ctx); err != nil {
		if errors.Is(err, api.ErrNotFound) {
			a.notify.Notify("No game to continue")
		} else {
			a.report(err)
		}
		return err
	}
	if a.ctrl.State() == round.Completed {
		return nil
	}
	return a.loadRound(ctx)
}

// Retry reloads the current round after a failure.
func (a *App) Retry(ctx context.Context) error { return a.loadRound(ctx) }

func (a *App) loadRound(ctx context.Context) error {
	if err := a.ctrl.LoadRound(ctx); err != nil {
		a.report(err)
		return err
	}
	if s := a.ctrl.Snapshot(); s.PhotoErr != nil {
		a.notify.Notify("Photo unavailable for this round")
	}
	return nil
}

// Guess places the pending guess, as a map click would.
func (a *App) Guess(at game.Coordinate) error {
	if !at.Valid() {
		a.notify.Notify("Coordinates out of range")
		return round.ErrInvalidCoordinate
	}
	a.capture.Click(at)
	if _, ok := a.capture.Pending(); !ok {
		return round.ErrInvalidState
	}
	return nil
}

// ClearGuess withdraws the pending guess; the map marker goes with it.
func (a *App) ClearGuess() { a.ctrl.ClearGuess() }

// Submit sends the pending guess and presents the result.
func (a *App) Submit(ctx context.Context) (ui.ResultView, error) {
	if !a.capture.CanSubmit() {
		a.notify.Notify("Place a guess on the map first")
		return ui.ResultView{}, round.ErrNoGuess
	}
	if _, err := a.ctrl.SubmitGuess(ctx); err != nil {
		a.report(err)
		return ui.ResultView{}, err
	}
	snap := a.ctrl.Snapshot()
	view, ok := ui.BuildResultView(snap)
	if !ok {
		return ui.ResultView{}, round.ErrStale
	}
	a.results.Show(*snap.Guess, *snap.Result)
	a.results.Visible()
	return view, nil
}

// Next closes the result view: the next round loads, or the session
// completes when the last result was final.
func (a *App) Next(ctx context.Context) error {
	if err := a.results.Close(ctx); err != nil {
		a.report(err)
		return err
	}
	if a.ctrl.State() == round.RoundLoading {
		return a.loadRound(ctx)
	}
	return nil
}

// Summary returns the final summary once the session is completed.
func (a *App) Summary() (round.Summary, bool) {
	s := a.ctrl.Snapshot()
	if s.State != round.Completed || s.Summary == nil {
		return round.Summary{}, false
	}
	return *s.Summary, true
}

// Quit abandons the session on the authority and returns to the menu.
func (a *App) Quit(ctx context.Context) error {
	a.results.Clear()
	if err := a.ctrl.Quit(ctx); err != nil {
		return err
	}
	a.Menu(ctx)
	return nil
}

// Leave returns to the menu keeping the session on the authority; the photo
// handle and overlays are released.
func (a *App) Leave(ctx context.Context) {
	a.results.Clear()
	a.ctrl.Reset()
	a.Menu(ctx)
}

// Menu shows the menu, offering "continue" only when the authority reports
// an active session. Signed out, it shows the auth screen instead.
func (a *App) Menu(ctx context.Context) {
	if a.store.Token() == "" {
		a.show(ui.ScreenAuth)
		return
	}
	active, err := a.HasActiveSession(ctx)
	if err != nil && a.store.Token() == "" {
		return
	}
	a.screenMu.Lock()
	a.screen = ui.ScreenMenu
	a.screenMu.Unlock()
	a.nav.ShowMenu(ui.Menu{CanContinue: active})
}

// Leaderboard renders a freshly fetched leaderboard to w.
func (a *App) Leaderboard(ctx context.Context, w io.Writer) error {
	a.show(ui.ScreenLeaderboard)
	if err := a.board.Render(ctx, w); err != nil {
		a.report(err)
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// internals

// route keeps the visible screen in step with the controller. Leaving a
// session is navigated by the action that left it (Leave, Quit, sign-out).
func (a *App) route(s round.Snapshot) {
	switch s.State {
	case round.RoundLoading, round.AwaitingGuess, round.GuessSubmitted:
		a.show(ui.ScreenGame)
	case round.Completed:
		a.show(ui.ScreenResults)
	}
}

// show navigates to sc unless it is already on screen.
func (a *App) show(sc ui.Screen) {
	a.screenMu.Lock()
	if a.screen == sc {
		a.screenMu.Unlock()
		return
	}
	a.screen = sc
	a.screenMu.Unlock()
	a.nav.Show(sc)
}

// report notifies the player of a failure. Unauthorized failures were already
// handled by the hook; busy/stale ones are not the player's concern.
func (a *App) report(err error) {
	switch {
	case err == nil,
		errors.Is(err, api.ErrUnauthorized),
		errors.Is(err, round.ErrStale),
		errors.Is(err, round.ErrBusy):
		return
	case errors.Is(err, round.ErrInvalidState):
		a.notify.Notify("That action is not available right now")
	default:
		a.log.Debug().Err(err).Msg("action failed")
		a.notify.Notify(api.UserMessage(err))
	}
}
