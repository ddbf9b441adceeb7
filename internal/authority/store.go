// internal/authority/store.go
//
// SQLite persistence for the reference authority.
// Responsibilities:
//   - Users, game sessions and rounds tables.
//   - Leaderboard query.

package authority

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/robalobadob/photoguess/internal/game"
	"github.com/robalobadob/photoguess/internal/wire"
)

// tsLayout keeps timestamps lexically sortable in TEXT columns.
const tsLayout = "2006-01-02T15:04:05.000000Z07:00"

var (
	errNoUser        = errors.New("user not found")
	errUsernameTaken = errors.New("username already registered")
	errEmailTaken    = errors.New("email already registered")
)

// Store is the authority's SQLite persistence.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore wraps a migrated database.
func NewStore(db *sql.DB) *Store { return &Store{db: db, now: time.Now} }

func (s *Store) stamp() string { return s.now().UTC().Format(tsLayout) }

func parseTS(v string) time.Time {
	t, _ := time.Parse(tsLayout, v)
	return t
}

func parseNullTS(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t := parseTS(v.String)
	return &t
}

// ----------------------------------------------------------------------------
// users

type userRow struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

func (u userRow) wire() wire.User {
	return wire.User{ID: u.ID, Username: u.Username, Email: u.Email, CreatedAt: u.CreatedAt}
}

func (s *Store) CreateUser(ctx context.Context, username, email, hash string) (userRow, error) {
	for _, c := range []struct {
		query, arg string
		taken      error
	}{
		{`SELECT 1 FROM users WHERE username=?`, username, errUsernameTaken},
		{`SELECT 1 FROM users WHERE email=?`, email, errEmailTaken},
	} {
		var exists int
		err := s.db.QueryRowContext(ctx, c.query, c.arg).Scan(&exists)
		switch {
		case err == nil:
			return userRow{}, c.taken
		case !errors.Is(err, sql.ErrNoRows):
			return userRow{}, err
		}
	}

	now := s.stamp()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, email, hashed_password, created_at) VALUES (?,?,?,?)`,
		username, email, hash, now)
	if err != nil {
		return userRow{}, uniqueViolation(err)
	}
	id, _ := res.LastInsertId()
	return userRow{ID: id, Username: username, Email: email, PasswordHash: hash, CreatedAt: parseTS(now)}, nil
}

// uniqueViolation maps a UNIQUE failure on users to the matching taken error.
// A concurrent insert between the existence check and ours lands here.
func uniqueViolation(err error) error {
	var se sqlite3.Error
	if !errors.As(err, &se) || se.ExtendedCode != sqlite3.ErrConstraintUnique {
		return err
	}
	switch {
	case strings.Contains(se.Error(), "users.email"):
		return errEmailTaken
	case strings.Contains(se.Error(), "users.username"):
		return errUsernameTaken
	}
	return err
}

func (s *Store) UserByUsername(ctx context.Context, username string) (userRow, error) {
	var u userRow
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, email, hashed_password, created_at FROM users WHERE username=?`, username,
	).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return userRow{}, errNoUser
	}
	if err != nil {
		return userRow{}, err
	}
	u.CreatedAt = parseTS(created)
	return u, nil
}

// ----------------------------------------------------------------------------
// sessions

const sessionCols = `id, total_score, rounds_completed, is_completed, started_at, completed_at`

type rowScanner interface{ Scan(dest ...any) error }

func scanSession(row rowScanner) (wire.Session, error) {
	var out wire.Session
	var started string
	var completed sql.NullString
	if err := row.Scan(&out.ID, &out.TotalScore, &out.RoundsCompleted, &out.IsCompleted, &started, &completed); err != nil {
		return wire.Session{}, err
	}
	out.StartedAt = parseTS(started)
	out.CompletedAt = parseNullTS(completed)
	return out, nil
}

// ActiveSession returns the user's unfinished session, if any.
func (s *Store) ActiveSession(ctx context.Context, userID int64) (*wire.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionCols+` FROM game_sessions WHERE user_id=? AND is_completed=0 LIMIT 1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// LatestSession returns the active session, else the most recently
// completed one.
func (s *Store) LatestSession(ctx context.Context, userID int64) (*wire.Session, error) {
	if active, err := s.ActiveSession(ctx, userID); err != nil || active != nil {
		return active, err
	}
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionCols+` FROM game_sessions WHERE user_id=?
		 ORDER BY completed_at DESC, id DESC LIMIT 1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// roundSeed is one planned round of a new session.
type roundSeed struct {
	PhotoID     string
	PhotoURL    string
	ExternalURL string
	Actual      game.Coordinate
}

// CreateSession inserts a session and all of its rounds.
func (s *Store) CreateSession(ctx context.Context, userID int64, seeds []roundSeed) (wire.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wire.Session{}, err
	}
	defer func() { _ = tx.Rollback() }()

	now := s.stamp()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO game_sessions (user_id, started_at) VALUES (?,?)`, userID, now)
	if err != nil {
		return wire.Session{}, err
	}
	id, _ := res.LastInsertId()

	for i, seed := range seeds {
		var ext any
		if seed.ExternalURL != "" {
			ext = seed.ExternalURL
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO game_rounds (game_session_id, round_number, photo_id, photo_url, immich_url,
			                          actual_latitude, actual_longitude, started_at)
			 VALUES (?,?,?,?,?,?,?,?)`,
			id, i+1, seed.PhotoID, seed.PhotoURL, ext, seed.Actual.Lat, seed.Actual.Lng, now); err != nil {
			return wire.Session{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return wire.Session{}, err
	}
	return wire.Session{ID: id, StartedAt: parseTS(now)}, nil
}

// DeleteActive removes the user's unfinished session. It reports false when
// there was none.
func (s *Store) DeleteActive(ctx context.Context, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM game_sessions WHERE user_id=? AND is_completed=0`, userID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ----------------------------------------------------------------------------
// rounds

type roundRow struct {
	ID          int64
	Number      int
	PhotoID     string
	PhotoURL    string
	ExternalURL sql.NullString
	Actual      game.Coordinate
	GuessLat    sql.NullFloat64
	GuessLng    sql.NullFloat64
	DistanceKm  sql.NullFloat64
	Score       int
	CompletedAt sql.NullString
}

const roundCols = `id, round_number, photo_id, photo_url, immich_url, actual_latitude, actual_longitude,
	guess_latitude, guess_longitude, distance_km, score, completed_at`

func scanRound(row rowScanner) (roundRow, error) {
	var r roundRow
	err := row.Scan(&r.ID, &r.Number, &r.PhotoID, &r.PhotoURL, &r.ExternalURL, &r.Actual.Lat, &r.Actual.Lng,
		&r.GuessLat, &r.GuessLng, &r.DistanceKm, &r.Score, &r.CompletedAt)
	return r, err
}

// wire reports a round of the history. The actual location is only revealed
// once the round has been guessed.
func (r roundRow) wire() wire.Round {
	out := wire.Round{RoundNumber: r.Number, PhotoID: r.PhotoID, Score: r.Score}
	if r.DistanceKm.Valid {
		d := r.DistanceKm.Float64
		out.DistanceKm = &d
	}
	if r.CompletedAt.Valid {
		lat, lng := r.Actual.Lat, r.Actual.Lng
		out.ActualLatitude, out.ActualLongitude = &lat, &lng
	}
	if r.GuessLat.Valid && r.GuessLng.Valid {
		lat, lng := r.GuessLat.Float64, r.GuessLng.Float64
		out.GuessLatitude, out.GuessLongitude = &lat, &lng
	}
	return out
}

// NextRound returns the first unplayed round of a session, or nil.
func (s *Store) NextRound(ctx context.Context, sessionID int64) (*roundRow, error) {
	r, err := scanRound(s.db.QueryRowContext(ctx,
		`SELECT `+roundCols+` FROM game_rounds
		 WHERE game_session_id=? AND completed_at IS NULL
		 ORDER BY round_number LIMIT 1`, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Rounds lists every round of a session in order.
func (s *Store) Rounds(ctx context.Context, sessionID int64) ([]roundRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+roundCols+` FROM game_rounds WHERE game_session_id=? ORDER BY round_number`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []roundRow
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordGuess scores a round and rolls the session forward in one
// transaction. The returned session reflects the new totals.
func (s *Store) RecordGuess(ctx context.Context, sessionID, roundID int64, guess game.Coordinate,
	distanceKm float64, score, roundsPerGame int) (wire.Session, error) {

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wire.Session{}, err
	}
	defer func() { _ = tx.Rollback() }()

	now := s.stamp()
	res, err := tx.ExecContext(ctx,
		`UPDATE game_rounds SET guess_latitude=?, guess_longitude=?, distance_km=?, score=?, completed_at=?
		 WHERE id=? AND completed_at IS NULL`,
		guess.Lat, guess.Lng, distanceKm, score, now, roundID)
	if err != nil {
		return wire.Session{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wire.Session{}, errRoundPlayed
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE game_sessions SET total_score = total_score + ?, rounds_completed = rounds_completed + 1
		 WHERE id=?`, score, sessionID); err != nil {
		return wire.Session{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE game_sessions SET is_completed=1, completed_at=?
		 WHERE id=? AND rounds_completed >= ? AND is_completed=0`, now, sessionID, roundsPerGame); err != nil {
		return wire.Session{}, err
	}

	sess, err := scanSession(tx.QueryRowContext(ctx,
		`SELECT `+sessionCols+` FROM game_sessions WHERE id=?`, sessionID))
	if err != nil {
		return wire.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return wire.Session{}, err
	}
	return sess, nil
}

var errRoundPlayed = errors.New("round already played")

// ----------------------------------------------------------------------------
// leaderboard

// Leaderboard returns the best completed sessions, highest score first.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]wire.LeaderboardEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.username, g.total_score, g.completed_at
		 FROM game_sessions g JOIN users u ON u.id = g.user_id
		 WHERE g.is_completed = 1
		 ORDER BY g.total_score DESC, g.completed_at ASC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []wire.LeaderboardEntry{}
	for rows.Next() {
		var e wire.LeaderboardEntry
		var completed sql.NullString
		if err := rows.Scan(&e.Username, &e.TotalScore, &completed); err != nil {
			return nil, err
		}
		if t := parseNullTS(completed); t != nil {
			e.CompletedAt = *t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
