// internal/terminal/terminal.go
//
// Line-oriented front-end for `photoguess play`.
// Responsibilities:
//   - Text renditions of the map surfaces, screens and notifications.
//   - A command loop that turns typed commands into app actions.
//
// Notes:
//   - A "map click" is the `guess <lat> <lng>` command.
//   - Photo handles are printed as local URLs; open one in any viewer.

package terminal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/robalobadob/photoguess/internal/app"
	"github.com/robalobadob/photoguess/internal/game"
	"github.com/robalobadob/photoguess/internal/round"
	"github.com/robalobadob/photoguess/internal/store"
	"github.com/robalobadob/photoguess/internal/ui"
)

// Console serializes writes from the command loop and from callbacks.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsole wraps out.
func NewConsole(out io.Writer) *Console { return &Console{out: out} }

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// Write lets tables render straight to the console.
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Write(p)
}

// Show prints the screen header and the commands valid on it.
func (c *Console) Show(s ui.Screen) {
	c.printf("\n== %s ==\n%s\n", s, hints[s])
}

// ShowMenu prints the menu, listing continue only when it is offered.
func (c *Console) ShowMenu(m ui.Menu) {
	hint := "start | leaderboard | logout | exit"
	if m.CanContinue {
		hint = "start | continue | leaderboard | logout | exit"
	}
	c.printf("\n== %s ==\n%s\n", ui.ScreenMenu, hint)
}

// Notify prints a dismissable notice.
func (c *Console) Notify(msg string) { c.printf("! %s\n", msg) }

var hints = map[ui.Screen]string{
	ui.ScreenAuth:        "login <user> <password> | register <user> <email> <password> | exit",
	ui.ScreenGame:        "guess <lat> <lng> | clear | submit | next | retry | quit | menu",
	ui.ScreenResults:     "start | leaderboard | menu",
	ui.ScreenLeaderboard: "menu",
}

// Map is a text map surface: overlays are printed as they change.
type Map struct {
	name string
	con  *Console

	mu      sync.Mutex
	next    int
	live    map[ui.OverlayID]string
	onClick func(game.Coordinate)
}

// NewMap creates a named map surface printing to con.
func NewMap(name string, con *Console) *Map {
	return &Map{name: name, con: con, live: make(map[ui.OverlayID]string)}
}

func (m *Map) OnClick(fn func(game.Coordinate)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClick = fn
}

// Click simulates a click at at.
func (m *Map) Click(at game.Coordinate) {
	m.mu.Lock()
	fn := m.onClick
	m.mu.Unlock()
	if fn != nil {
		fn(at)
	}
}

func (m *Map) add(desc string) ui.OverlayID {
	m.mu.Lock()
	m.next++
	id := ui.OverlayID(m.name + "-" + strconv.Itoa(m.next))
	m.live[id] = desc
	m.mu.Unlock()
	m.con.printf("[%s] + %s\n", m.name, desc)
	return id
}

func (m *Map) AddPoint(at game.Coordinate, label string) ui.OverlayID {
	return m.add(fmt.Sprintf("%s at %s", label, formatCoord(at)))
}

func (m *Map) AddPath(from, to game.Coordinate) ui.OverlayID {
	return m.add(fmt.Sprintf("line %s -> %s", formatCoord(from), formatCoord(to)))
}

func (m *Map) Remove(id ui.OverlayID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.live, id)
}

func (m *Map) FitBounds(b game.Bounds) {
	m.con.printf("[%s] view %.2f,%.2f .. %.2f,%.2f\n", m.name, b.MinLat, b.MinLng, b.MaxLat, b.MaxLng)
}

func (m *Map) Invalidate() {}

// Overlays returns the number of live overlays.
func (m *Map) Overlays() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

func formatCoord(c game.Coordinate) string {
	return strconv.FormatFloat(c.Lat, 'f', 4, 64) + "," + strconv.FormatFloat(c.Lng, 'f', 4, 64)
}

// Shell reads commands from in and drives a.
type Shell struct {
	app   *app.App
	con   *Console
	guess *Map
	in    io.Reader

	lastRound int
	lastPhoto string
}

// NewShell builds a shell; guessMap must be the surface a was built with.
func NewShell(a *app.App, con *Console, guessMap *Map, in io.Reader) *Shell {
	s := &Shell{app: a, con: con, guess: guessMap, in: in}
	a.Controller().Subscribe(s.onSnapshot)
	a.Store().Observe(s.onStore)
	return s
}

// errExit ends the loop.
var errExit = errors.New("exit")

// Run executes commands until exit, end of input or ctx is done.
func (s *Shell) Run(ctx context.Context) error {
	s.con.printf("Authority: %s (type help for commands)\n", s.app.AuthorityURL())
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(s.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := s.Exec(ctx, line); errors.Is(err, errExit) {
				return nil
			}
		}
	}
}

// Exec runs one command line. Failures were already reported to the player.
func (s *Shell) Exec(ctx context.Context, line string) error {
	f := strings.Fields(line)
	if len(f) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(f[0]), f[1:]

	switch cmd {
	case "exit", "q":
		return errExit
	case "help", "?":
		s.con.printf("commands: login register start continue guess clear submit next finish retry quit menu leaderboard logout exit\n")
		return nil
	case "login":
		if len(args) != 2 {
			return s.usage("login <user> <password>")
		}
		return s.app.Login(ctx, args[0], args[1])
	case "register":
		if len(args) != 3 {
			return s.usage("register <user> <email> <password>")
		}
		return s.app.Register(ctx, args[0], args[1], args[2])
	case "logout":
		s.app.Logout(ctx)
		return nil
	case "start":
		return s.app.NewGame(ctx)
	case "continue":
		return s.app.Continue(ctx)
	case "retry":
		return s.app.Retry(ctx)
	case "guess":
		at, err := parseCoord(args)
		if err != nil {
			return s.usage("guess <lat> <lng>")
		}
		if !at.Valid() {
			s.con.Notify("Coordinates out of range")
			return round.ErrInvalidCoordinate
		}
		s.guess.Click(at)
		if _, ok := s.app.Capture().Pending(); !ok {
			s.con.Notify("No round is waiting for a guess")
			return round.ErrInvalidState
		}
		return nil
	case "clear":
		s.app.ClearGuess()
		return nil
	case "submit":
		view, err := s.app.Submit(ctx)
		if err != nil {
			return err
		}
		s.printResult(view)
		return nil
	case "next", "finish":
		if err := s.app.Next(ctx); err != nil {
			return err
		}
		if sum, ok := s.app.Summary(); ok {
			return ui.RenderSummary(s.con, sum)
		}
		return nil
	case "quit":
		return s.app.Quit(ctx)
	case "menu":
		if s.app.Controller().State() != round.NoSession {
			s.app.Leave(ctx)
			return nil
		}
		s.app.Menu(ctx)
		return nil
	case "leaderboard":
		return s.app.Leaderboard(ctx, s.con)
	default:
		s.con.Notify("Unknown command " + strconv.Quote(cmd) + "; type help")
		return nil
	}
}

func (s *Shell) usage(u string) error {
	s.con.Notify("usage: " + u)
	return errUsage
}

var errUsage = errors.New("usage")

func (s *Shell) printResult(v ui.ResultView) {
	s.con.printf("Round %d: %s away, %d points (total %d)\n", v.Round, ui.FormatDistance(v.DistanceKm), v.Score, v.TotalScore)
	if v.ExternalURL != "" {
		s.con.printf("Photo in library: %s\n", v.ExternalURL)
	}
	if v.Finishable {
		s.con.printf("Last round. Type finish for the summary.\n")
	} else {
		s.con.printf("Type next for the next round.\n")
	}
}

// onStore reports sign-in and sign-out.
func (s *Shell) onStore(c store.Change) {
	switch c {
	case store.ChangeCredential:
		if p := s.app.Store().Identity(); p != nil {
			s.con.printf("Signed in as %s\n", p.Username)
		}
	case store.ChangeInvalidated:
		s.con.printf("Signed out\n")
	}
}

// onSnapshot announces each newly loaded round, and again when a retry
// changed its photo.
func (s *Shell) onSnapshot(snap round.Snapshot) {
	if snap.State != round.AwaitingGuess || snap.Round == nil {
		if snap.State == round.NoSession {
			s.lastRound, s.lastPhoto = 0, ""
		}
		return
	}
	if snap.Round.Number == s.lastRound && snap.PhotoURL == s.lastPhoto {
		return
	}
	s.lastRound, s.lastPhoto = snap.Round.Number, snap.PhotoURL
	photo := snap.PhotoURL
	if photo == "" {
		photo = "(unavailable, type retry)"
	}
	s.con.printf("Round %d: where was this taken? %s\n", snap.Round.Number, photo)
}

func parseCoord(args []string) (game.Coordinate, error) {
	if len(args) != 2 {
		return game.Coordinate{}, errUsage
	}
	lat, err := strconv.ParseFloat(strings.TrimSuffix(args[0], ","), 64)
	if err != nil {
		return game.Coordinate{}, err
	}
	lng, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return game.Coordinate{}, err
	}
	return game.Coordinate{Lat: lat, Lng: lng}, nil
}
