// main.go
//
// Entry point for the photoguess binary.
//
//	photoguess serve   run the reference game authority (HTTP API on $PORT)
//	photoguess play    play against $AUTHORITY_URL in the terminal
//
// Both modes read configuration from the environment (plus an optional .env)
// and stop cleanly on SIGINT/SIGTERM.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/robalobadob/photoguess/assets"
	"github.com/robalobadob/photoguess/internal/app"
	"github.com/robalobadob/photoguess/internal/authority"
	"github.com/robalobadob/photoguess/internal/catalog"
	"github.com/robalobadob/photoguess/internal/config"
	"github.com/robalobadob/photoguess/internal/database"
	"github.com/robalobadob/photoguess/internal/store"
	"github.com/robalobadob/photoguess/internal/terminal"
)

const usage = `usage: photoguess <command>

commands:
  serve   run the reference game authority
  play    play in the terminal
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("photoguess", flag.ContinueOnError)
	envFile := fs.String("env", ".env", "optional dotenv file")
	fs.Usage = func() { fmt.Fprint(fs.Output(), usage); fs.PrintDefaults() }
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", *envFile, err)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	setupLogging(cfg.LogLevel)

	switch fs.Arg(0) {
	case "serve":
		return serve(ctx, cfg.Authority)
	case "play":
		return play(ctx, cfg.Client, stdin, stdout)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", fs.Arg(0))
	}
}

func setupLogging(level string) {
	if lvl, err := zerolog.ParseLevel(level); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if isatty.IsTerminal(os.Stderr.Fd()) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func serve(ctx context.Context, cfg config.Authority) error {
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	if err := database.Migrate(db, assets.AuthorityMigrations()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	cat, err := catalog.Load(cfg.CatalogFile)
	if err != nil {
		return fmt.Errorf("loading photo catalog: %w", err)
	}
	if cat.Len() < cfg.RoundsPerGame {
		log.Warn().Int("photos", cat.Len()).Int("rounds_per_game", cfg.RoundsPerGame).
			Msg("catalog too small, games cannot start")
	}
	log.Info().Int("photos", cat.Len()).Str("db", cfg.DatabasePath).Msg("authority ready")

	srv := authority.New(db, cat, cfg)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down authority")
		return srv.Shutdown(context.Background())
	})
	return g.Wait()
}

func play(ctx context.Context, cfg config.Client, stdin io.Reader, stdout io.Writer) error {
	db, err := database.Open(cfg.StateDB)
	if err != nil {
		return fmt.Errorf("opening state database: %w", err)
	}
	defer db.Close()
	if err := database.Migrate(db, assets.ClientMigrations()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	con := terminal.NewConsole(stdout)
	guessMap := terminal.NewMap("map", con)
	a, err := app.New(app.Deps{
		Config:      cfg,
		Credentials: store.NewSQLCredentials(db, cfg.AuthorityURL),
		Map:         guessMap,
		ResultMap:   terminal.NewMap("result", con),
		Navigator:   con,
		Notifier:    con,
		Logger:      log.Logger,
	})
	if err != nil {
		return err
	}
	shell := terminal.NewShell(a, con, guessMap, stdin)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Serve(gctx) })
	g.Go(func() error {
		defer cancel()
		if _, err := a.Restore(gctx); err != nil {
			log.Warn().Err(err).Msg("restore credential")
		}
		return shell.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.Close(context.Background())
	})
	return g.Wait()
}
