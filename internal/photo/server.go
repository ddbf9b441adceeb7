// internal/photo/server.go
//
// Local HTTP publisher for photo handles.
// Responsibilities:
//   - Mount the registry's routes on a bound local address.
//   - Release every handle on shutdown.

package photo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Server publishes a Registry's handles over HTTP on a local address so any
// viewer (browser, image tool) can dereference handle URLs.
type Server struct {
	reg *Registry
	srv *http.Server
	ln  net.Listener
	log zerolog.Logger
}

// Listen binds addr (use "127.0.0.1:0" for an ephemeral port) and points the
// registry's handle URLs at it.
func Listen(addr string, reg *Registry, logger zerolog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Mount("/photos", reg.Routes())

	reg.SetBase("http://" + ln.Addr().String() + "/photos")
	return &Server{
		reg: reg,
		ln:  ln,
		srv: &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second},
		log: logger.With().Str("component", "photo-server").Logger(),
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Run serves until Shutdown.
func (s *Server) Run(_ context.Context) error {
	s.log.Debug().Str("addr", s.Addr()).Msg("serving photo handles")
	err := s.srv.Serve(s.ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops serving and releases every remaining handle.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	n := s.reg.ReleaseAll()
	if n > 0 {
		s.log.Debug().Int("released", n).Msg("released handles on shutdown")
	}
	err := s.srv.Shutdown(ctx)
	// Run may never have been called; the listener is still ours then.
	_ = s.ln.Close()
	return err
}
