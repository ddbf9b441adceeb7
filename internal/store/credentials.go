// internal/store/credentials.go
//
// Credential persistence so a restarted client keeps its sign-in.
//   - Credentials: Load / Save / Clear, keyed by authority URL.
//   - SQLCredentials: SQLite-backed implementation (credentials table).
//   - TokenExpiry: reads the JWT `exp` claim without verifying the signature;
//     the authority stays the only verifier, this only avoids replaying a token
//     that is already known to be dead.

package store

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoCredential is returned by Load when nothing is stored.
var ErrNoCredential = errors.New("no stored credential")

// Credential is a persisted bearer token.
type Credential struct {
	Token    string
	Username string
	SavedAt  time.Time
}

// Credentials persists a token between runs.
type Credentials interface {
	Load(ctx context.Context) (Credential, error)
	Save(ctx context.Context, c Credential) error
	Clear(ctx context.Context) error
}

// SQLCredentials stores one credential per authority URL.
type SQLCredentials struct {
	db        *sql.DB
	authority string
	now       func() time.Time
}

// NewSQLCredentials binds a credential store to db (already migrated with the
// client schema) for the given authority.
func NewSQLCredentials(db *sql.DB, authority string) *SQLCredentials {
	return &SQLCredentials{db: db, authority: authority, now: time.Now}
}

// Load returns the stored credential. Expired tokens are deleted and reported
// as ErrNoCredential.
func (s *SQLCredentials) Load(ctx context.Context) (Credential, error) {
	var c Credential
	var saved string
	err := s.db.QueryRowContext(ctx,
		`SELECT token, username, saved_at FROM credentials WHERE authority=?`, s.authority,
	).Scan(&c.Token, &c.Username, &saved)
	if errors.Is(err, sql.ErrNoRows) {
		return Credential{}, ErrNoCredential
	}
	if err != nil {
		return Credential{}, err
	}
	c.SavedAt, _ = time.Parse(time.RFC3339, saved)

	if exp, ok := TokenExpiry(c.Token); ok && !exp.After(s.now()) {
		if err := s.Clear(ctx); err != nil {
			return Credential{}, err
		}
		return Credential{}, ErrNoCredential
	}
	return c, nil
}

// Save upserts the credential for this authority.
func (s *SQLCredentials) Save(ctx context.Context, c Credential) error {
	if c.SavedAt.IsZero() {
		c.SavedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO credentials (authority, token, username, saved_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(authority) DO UPDATE SET
            token=excluded.token, username=excluded.username, saved_at=excluded.saved_at`,
		s.authority, c.Token, c.Username, c.SavedAt.Format(time.RFC3339),
	)
	return err
}

// Clear removes the credential for this authority. Clearing nothing is not an error.
func (s *SQLCredentials) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE authority=?`, s.authority)
	return err
}

// TokenExpiry returns the `exp` claim of a JWT. ok is false when the token is
// not a JWT or carries no expiry.
func TokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// MemoryCredentials keeps the credential in process memory only.
type MemoryCredentials struct {
	mu sync.Mutex
	c  *Credential
}

func (m *MemoryCredentials) Load(context.Context) (Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.c == nil {
		return Credential{}, ErrNoCredential
	}
	return *m.c, nil
}

func (m *MemoryCredentials) Save(_ context.Context, c Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c = &c
	return nil
}

func (m *MemoryCredentials) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c = nil
	return nil
}
