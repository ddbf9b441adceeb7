package terminal

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/robalobadob/photoguess/assets"
	"github.com/robalobadob/photoguess/internal/app"
	"github.com/robalobadob/photoguess/internal/authority"
	"github.com/robalobadob/photoguess/internal/catalog"
	"github.com/robalobadob/photoguess/internal/config"
	"github.com/robalobadob/photoguess/internal/database"
	"github.com/robalobadob/photoguess/internal/game"
)

// newAuthority serves a fresh authority. While failPhotos is set, photo
// bytes answer 502.
func newAuthority(t *testing.T, failPhotos *atomic.Bool) string {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "authority.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := database.Migrate(db, assets.AuthorityMigrations()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cat, err := catalog.Load("")
	if err != nil {
		t.Fatal(err)
	}
	srv := authority.New(db, cat, config.Authority{
		JWTSecret: "test-secret", AccessTokenTTL: time.Hour, RoundsPerGame: 2, MaxPoints: 5000,
	})
	h := srv.Handler()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failPhotos != nil && failPhotos.Load() && strings.HasPrefix(r.URL.Path, "/api/game/photo/") {
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		h.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)
	return ts.URL
}

func newShell(t *testing.T, script string) (*Shell, *bytes.Buffer) {
	t.Helper()
	return newShellAt(t, newAuthority(t, nil), script)
}

func newShellAt(t *testing.T, authorityURL, script string) (*Shell, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	con := NewConsole(&out)
	guess := NewMap("map", con)
	a, err := app.New(app.Deps{
		Config: config.Client{
			AuthorityURL:     authorityURL,
			PhotoAddr:        "127.0.0.1:0",
			RequestTimeout:   5 * time.Second,
			LeaderboardLimit: 10,
		},
		Map:       guess,
		ResultMap: NewMap("result", con),
		Navigator: con,
		Notifier:  con,
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return NewShell(a, con, guess, strings.NewReader(script)), &out
}

func TestScriptedGame(t *testing.T) {
	script := strings.Join([]string{
		"register ivan ivan@example.com secret-password",
		"guess 1 1",
		"start",
		"submit",
		"guess 48.8584, 2.2945",
		"submit",
		"next",
		"guess -33.8568 151.2153",
		"submit",
		"finish",
		"leaderboard",
		"exit",
	}, "\n")
	sh, out := newShell(t, script)
	if err := sh.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := out.String()

	for _, want := range []string{
		"Authority: http://127.0.0.1",
		"Signed in as ivan",
		"== menu ==",
		"! No round is waiting for a guess",
		"Round 1: where was this taken? http://127.0.0.1",
		"! Place a guess on the map first",
		"[map] + guess at 48.8584,2.2945",
		"[result] + line",
		"Type next for the next round.",
		"Round 2: where was this taken?",
		"Last round. Type finish for the summary.",
		"== results ==",
		"Final score:",
		"ROUND",
		"ivan",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q\n%s", want, got)
		}
	}
	if strings.Count(got, "where was this taken?") != 2 {
		t.Errorf("rounds announced %d times, want 2\n%s", strings.Count(got, "where was this taken?"), got)
	}
}

func TestUnknownCommandAndUsage(t *testing.T) {
	sh, out := newShell(t, "")
	ctx := context.Background()

	_ = sh.Exec(ctx, "dance")
	if err := sh.Exec(ctx, "login onlyuser"); err == nil {
		t.Fatal("login with one argument accepted")
	}
	if err := sh.Exec(ctx, "guess north east"); err == nil {
		t.Fatal("non-numeric guess accepted")
	}
	if err := sh.Exec(ctx, "guess 91 0"); err == nil {
		t.Fatal("out of range guess accepted")
	}
	_ = sh.Exec(ctx, "menu")

	got := out.String()
	for _, want := range []string{
		`! Unknown command "dance"; type help`,
		"! usage: login <user> <password>",
		"! usage: guess <lat> <lng>",
		"! Coordinates out of range",
		"== auth ==",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q\n%s", want, got)
		}
	}
}

func TestMapOverlays(t *testing.T) {
	var out bytes.Buffer
	m := NewMap("m", NewConsole(&out))
	var clicked *game.Coordinate
	m.OnClick(func(at game.Coordinate) { clicked = &at })

	m.Click(game.Coordinate{Lat: 1, Lng: 2})
	if clicked == nil || clicked.Lat != 1 {
		t.Fatalf("click not delivered: %v", clicked)
	}
	a := m.AddPoint(game.Coordinate{Lat: 1, Lng: 2}, "guess")
	m.AddPath(game.Coordinate{}, game.Coordinate{Lat: 1, Lng: 2})
	if m.Overlays() != 2 {
		t.Fatalf("overlays = %d", m.Overlays())
	}
	m.Remove(a)
	if m.Overlays() != 1 {
		t.Fatalf("overlays after remove = %d", m.Overlays())
	}

	m.OnClick(nil)
	clicked = nil
	m.Click(game.Coordinate{})
	if clicked != nil {
		t.Fatal("click delivered after unregistering")
	}
	if !strings.Contains(out.String(), "[m] + guess at 1.0000,2.0000") {
		t.Fatalf("output = %q", out.String())
	}
}

const (
	menuWithContinue    = "start | continue | leaderboard | logout | exit"
	menuWithoutContinue = "start | leaderboard | logout | exit"
)

func TestMenuListsContinueOnlyForActiveGame(t *testing.T) {
	sh, out := newShell(t, "")
	ctx := context.Background()

	if err := sh.Exec(ctx, "register ivan ivan@example.com secret-password"); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	if !strings.Contains(got, menuWithoutContinue) || strings.Contains(got, menuWithContinue) {
		t.Fatalf("fresh account menu:\n%s", got)
	}

	out.Reset()
	if err := sh.Exec(ctx, "start"); err != nil {
		t.Fatal(err)
	}
	_ = sh.Exec(ctx, "menu")
	if got := out.String(); !strings.Contains(got, menuWithContinue) {
		t.Fatalf("menu with a game in progress:\n%s", got)
	}

	out.Reset()
	if err := sh.Exec(ctx, "continue"); err != nil {
		t.Fatal(err)
	}
	if err := sh.Exec(ctx, "quit"); err != nil {
		t.Fatal(err)
	}
	got = out.String()
	if !strings.Contains(got, menuWithoutContinue) || strings.Contains(got, menuWithContinue) {
		t.Fatalf("menu after quitting:\n%s", got)
	}

	out.Reset()
	_ = sh.Exec(ctx, "logout")
	if got := out.String(); !strings.Contains(got, "Signed out") || !strings.Contains(got, "== auth ==") {
		t.Fatalf("logout:\n%s", got)
	}
}

func TestRetryAnnouncesRecoveredPhoto(t *testing.T) {
	var failPhotos atomic.Bool
	sh, out := newShellAt(t, newAuthority(t, &failPhotos), "")
	ctx := context.Background()

	if err := sh.Exec(ctx, "register ivan ivan@example.com secret-password"); err != nil {
		t.Fatal(err)
	}
	failPhotos.Store(true)
	if err := sh.Exec(ctx, "start"); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	if !strings.Contains(got, "Round 1: where was this taken? (unavailable, type retry)") {
		t.Fatalf("failed photo not announced:\n%s", got)
	}

	failPhotos.Store(false)
	out.Reset()
	if err := sh.Exec(ctx, "retry"); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); !strings.Contains(got, "Round 1: where was this taken? http://127.0.0.1") {
		t.Fatalf("recovered photo not announced:\n%s", got)
	}

	out.Reset()
	if err := sh.Exec(ctx, "guess 1 1"); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out.String(), "where was this taken?") {
		t.Fatalf("unchanged round announced again:\n%s", out.String())
	}
}

func TestClearRemovesGuessMarker(t *testing.T) {
	sh, _ := newShell(t, "")
	ctx := context.Background()

	for _, line := range []string{"register ivan ivan@example.com secret-password", "start", "guess 10 20"} {
		if err := sh.Exec(ctx, line); err != nil {
			t.Fatalf("%s: %v", line, err)
		}
	}
	if sh.guess.Overlays() != 1 {
		t.Fatalf("overlays after guess = %d", sh.guess.Overlays())
	}
	if err := sh.Exec(ctx, "clear"); err != nil {
		t.Fatal(err)
	}
	if sh.guess.Overlays() != 0 {
		t.Fatalf("overlays after clear = %d", sh.guess.Overlays())
	}
	if _, ok := sh.app.Capture().Pending(); ok {
		t.Fatal("guess still pending after clear")
	}
	if _, err := sh.app.Submit(ctx); err == nil {
		t.Fatal("submit accepted with no guess")
	}
}
