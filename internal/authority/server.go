// internal/authority/server.go
//
// HTTP server wiring for the reference game authority.
// Responsibilities:
//   - Router + middleware (request IDs, real IP, panic recovery, timeouts,
//     JSON content type, access log).
//   - Public endpoints: "/", "/api/health", "/api/auth/register",
//     "/api/auth/login", "/api/game/leaderboard".
//   - Authenticated endpoints: "/api/auth/me" and the rest of "/api/game/*".
//
// Notes:
//   - Every error body is {"error": "...", "code": "..."}; code is only set for
//     conditions clients must detect structurally (no_more_rounds).
//   - The authority owns every number a client displays: round counter,
//     distances, scores, totals.

package authority

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/photoguess/internal/catalog"
	"github.com/robalobadob/photoguess/internal/config"
	"github.com/robalobadob/photoguess/internal/wire"
)

// Server bundles router, store, catalog and settings.
type Server struct {
	r      *chi.Mux
	store  *Store
	cat    *catalog.Catalog
	cfg    config.Authority
	now    func() time.Time
	photos *photoSource
	srv    *http.Server
}

// New constructs a Server over a migrated database and registers routes.
func New(db *sql.DB, cat *catalog.Catalog, cfg config.Authority) *Server {
	s := &Server{
		r:      chi.NewRouter(),
		store:  NewStore(db),
		cat:    cat,
		cfg:    cfg,
		now:    time.Now,
		photos: newPhotoSource(cfg.PhotoDir),
	}

	// --- middleware ---
	s.r.Use(chimw.RequestID)
	s.r.Use(chimw.RealIP)
	s.r.Use(accessLog)
	s.r.Use(chimw.Recoverer)
	s.r.Use(chimw.Timeout(10 * time.Second))
	s.r.Use(jsonContentType)

	s.r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"service": "photoguess-authority", "health": "/api/health"})
	})

	s.r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		})

		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)
		r.With(s.requireAuth).Get("/auth/me", s.handleMe)

		r.Route("/game", func(r chi.Router) {
			r.Get("/leaderboard", s.handleLeaderboard)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)
				r.Post("/start", s.handleStart)
				r.Get("/current", s.handleCurrent)
				r.Delete("/current", s.handleDelete)
				r.Get("/photo", s.handlePhoto)
				r.Get("/photo/{id}/{quality}", s.handlePhotoBytes)
				r.Post("/guess", s.handleGuess)
				r.Get("/rounds", s.handleRounds)
			})
		})
	})

	s.r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not Found", "")
	})
	s.r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed", "")
	})

	s.srv = &http.Server{Addr: ":" + cfg.Port, Handler: s.r, ReadHeaderTimeout: 5 * time.Second}
	return s
}

// Handler exposes the router (also used by tests).
func (s *Server) Handler() http.Handler { return s.r }

// Run serves on ":"+PORT until Shutdown.
func (s *Server) Run(_ context.Context) error {
	log.Info().Str("addr", s.srv.Addr).Msg("authority listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// ----------------------------- middleware ----------------------------------

// jsonContentType sets a default JSON Content-Type header on all responses.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

// accessLog writes one debug line per request.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("request_id", chimw.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

// ------------------------------ responses ----------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, wire.ErrorBody{Error: msg, Code: code})
}
