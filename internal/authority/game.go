package authority

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/robalobadob/photoguess/internal/catalog"
	"github.com/robalobadob/photoguess/internal/game"
	"github.com/robalobadob/photoguess/internal/wire"
)

const (
	msgNoActiveGame  = "No active game found. Start a new game."
	msgAllRoundsDone = "All rounds completed. Game is finished."
	maxLeaderboard   = 100
)

// handleStart creates a session with its rounds already drawn from the
// catalog. An unfinished session must be completed or deleted first.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	me := currentUser(r)
	active, err := s.store.ActiveSession(r.Context(), me.ID)
	if err != nil {
		s.internal(w, err, "load active session")
		return
	}
	if active != nil {
		writeError(w, http.StatusBadRequest, "You already have an active game. Complete it or delete it first.", "")
		return
	}

	photos, err := s.cat.Pick(s.cfg.RoundsPerGame)
	if errors.Is(err, catalog.ErrNotEnoughPhotos) {
		writeError(w, http.StatusServiceUnavailable, "Not enough photos to start a game", "")
		return
	}
	if err != nil {
		s.internal(w, err, "pick photos")
		return
	}
	seeds := make([]roundSeed, 0, len(photos))
	for _, p := range photos {
		seeds = append(seeds, roundSeed{
			PhotoID:     p.ID,
			PhotoURL:    "/game/photo/" + p.ID + "/preview",
			ExternalURL: s.externalURL(p.ID),
			Actual:      p.Location,
		})
	}

	sess, err := s.store.CreateSession(r.Context(), me.ID, seeds)
	if err != nil {
		s.internal(w, err, "create session")
		return
	}
	log.Info().Str("user", me.Username).Int64("session", sess.ID).Msg("game started")
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) externalURL(photoID string) string {
	if s.cfg.LibraryURL == "" {
		return ""
	}
	return strings.TrimRight(s.cfg.LibraryURL, "/") + "/" + photoID
}

// handleCurrent returns the active session, else the most recently completed.
func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.LatestSession(r.Context(), currentUser(r).ID)
	if err != nil {
		s.internal(w, err, "load session")
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, msgNoActiveGame, "")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleDelete discards the active session: 204, or 404 when there is none.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	ok, err := s.store.DeleteActive(r.Context(), currentUser(r).ID)
	if err != nil {
		s.internal(w, err, "delete session")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "No active game found.", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePhoto returns the photo of the next unplayed round, without its
// location. When every round was played the response carries the
// no_more_rounds code.
func (s *Server) handlePhoto(w http.ResponseWriter, r *http.Request) {
	me := currentUser(r)
	active, err := s.store.ActiveSession(r.Context(), me.ID)
	if err != nil {
		s.internal(w, err, "load active session")
		return
	}
	if active == nil {
		latest, err := s.store.LatestSession(r.Context(), me.ID)
		if err != nil {
			s.internal(w, err, "load session")
			return
		}
		if latest != nil {
			writeError(w, http.StatusConflict, msgAllRoundsDone, wire.CodeNoMoreRounds)
			return
		}
		writeError(w, http.StatusNotFound, msgNoActiveGame, "")
		return
	}

	next, err := s.store.NextRound(r.Context(), active.ID)
	if err != nil {
		s.internal(w, err, "load round")
		return
	}
	if next == nil {
		writeError(w, http.StatusConflict, msgAllRoundsDone, wire.CodeNoMoreRounds)
		return
	}
	writeJSON(w, http.StatusOK, wire.Photo{PhotoID: next.PhotoID, PhotoURL: next.PhotoURL, RoundNumber: next.Number})
}

// handleGuess scores a guess against the next unplayed round.
func (s *Server) handleGuess(w http.ResponseWriter, r *http.Request) {
	var body wire.GuessReq
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", "")
		return
	}
	guess := game.Coordinate{Lat: body.Latitude, Lng: body.Longitude}
	if !guess.Valid() {
		writeError(w, http.StatusBadRequest, "Coordinate out of range", "")
		return
	}

	me := currentUser(r)
	active, err := s.store.ActiveSession(r.Context(), me.ID)
	if err != nil {
		s.internal(w, err, "load active session")
		return
	}
	if active == nil {
		writeError(w, http.StatusNotFound, "No active game found.", "")
		return
	}
	round, err := s.store.NextRound(r.Context(), active.ID)
	if err != nil {
		s.internal(w, err, "load round")
		return
	}
	if round == nil {
		writeError(w, http.StatusConflict, msgAllRoundsDone, wire.CodeNoMoreRounds)
		return
	}

	dist := game.Distance(guess, round.Actual)
	score := game.Score(dist, s.cfg.MaxPoints)
	sess, err := s.store.RecordGuess(r.Context(), active.ID, round.ID, guess, dist, score, s.cfg.RoundsPerGame)
	if errors.Is(err, errRoundPlayed) {
		writeError(w, http.StatusConflict, "Round already played", "")
		return
	}
	if err != nil {
		s.internal(w, err, "record guess")
		return
	}

	res := wire.GuessRes{
		DistanceKm:      dist,
		Score:           score,
		ActualLatitude:  round.Actual.Lat,
		ActualLongitude: round.Actual.Lng,
		RoundCompleted:  true,
		GameCompleted:   sess.IsCompleted,
	}
	if round.ExternalURL.Valid {
		u := round.ExternalURL.String
		res.ImmichURL = &u
	}
	log.Info().Str("user", me.Username).Int("round", round.Number).
		Float64("distance_km", dist).Int("score", score).Bool("game_completed", sess.IsCompleted).Msg("guess scored")
	writeJSON(w, http.StatusOK, res)
}

// handleRounds lists the rounds of the active or most recent session.
func (s *Server) handleRounds(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.LatestSession(r.Context(), currentUser(r).ID)
	if err != nil {
		s.internal(w, err, "load session")
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "No active game found.", "")
		return
	}
	rows, err := s.store.Rounds(r.Context(), sess.ID)
	if err != nil {
		s.internal(w, err, "load rounds")
		return
	}
	out := make([]wire.Round, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.wire())
	}
	writeJSON(w, http.StatusOK, out)
}

// handleLeaderboard lists the best completed sessions (?limit=, default 10).
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", "")
			return
		}
		limit = min(n, maxLeaderboard)
	}
	entries, err := s.store.Leaderboard(r.Context(), limit)
	if err != nil {
		s.internal(w, err, "load leaderboard")
		return
	}
	writeJSON(w, http.StatusOK, wire.Leaderboard{Entries: entries})
}

func (s *Server) internal(w http.ResponseWriter, err error, what string) {
	log.Error().Err(err).Msg(what)
	writeError(w, http.StatusInternalServerError, "Internal server error", "")
}
