// internal/authority/auth.go
//
// Accounts and bearer tokens for the reference authority.
// Responsibilities:
//   - POST /auth/register: validate, bcrypt-hash, insert.
//   - POST /auth/login: verify password, issue an HS256 JWT (sub = username).
//   - GET  /auth/me: the profile bound to the presented token.
//   - requireAuth middleware: reject missing/invalid/expired tokens with 401
//     and place the user row in the request context.

package authority

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/robalobadob/photoguess/internal/wire"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body wire.RegisterReq
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", "")
		return
	}
	username := normalizeUsername(body.Username)
	email := strings.ToLower(strings.TrimSpace(body.Email))
	if err := validateSignup(username, email, body.Password); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(body.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Error().Err(err).Msg("hash password")
		writeError(w, http.StatusInternalServerError, "Registration failed", "")
		return
	}
	u, err := s.store.CreateUser(r.Context(), username, email, string(hash))
	switch {
	case errors.Is(err, errUsernameTaken):
		writeError(w, http.StatusBadRequest, "Username already registered", "")
		return
	case errors.Is(err, errEmailTaken):
		writeError(w, http.StatusBadRequest, "Email already registered", "")
		return
	case err != nil:
		log.Error().Err(err).Msg("create user")
		writeError(w, http.StatusInternalServerError, "Registration failed", "")
		return
	}
	log.Info().Str("user", u.Username).Msg("registered")
	writeJSON(w, http.StatusCreated, u.wire())
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body wire.LoginReq
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", "")
		return
	}
	u, err := s.store.UserByUsername(r.Context(), normalizeUsername(body.Username))
	if err != nil || !checkPassword(u.PasswordHash, body.Password) {
		if err != nil && !errors.Is(err, errNoUser) {
			log.Error().Err(err).Msg("load user")
		}
		writeError(w, http.StatusUnauthorized, "Incorrect username or password", "")
		return
	}
	tok, err := s.signToken(u.Username)
	if err != nil {
		log.Error().Err(err).Msg("sign token")
		writeError(w, http.StatusInternalServerError, "Login failed", "")
		return
	}
	writeJSON(w, http.StatusOK, wire.Token{AccessToken: tok, TokenType: "bearer"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currentUser(r).wire())
}

// ------------------------------ tokens --------------------------------------

func (s *Server) signToken(username string) (string, error) {
	now := s.now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTokenTTL)),
	})
	return t.SignedString([]byte(s.cfg.JWTSecret))
}

// parseToken verifies signature, algorithm and expiry and returns the subject.
func (s *Server) parseToken(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// bearer extracts the token from an Authorization: Bearer header.
func bearer(r *http.Request) string {
	if a := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(a), "bearer ") {
		return strings.TrimSpace(a[7:])
	}
	return ""
}

// ---------------------------- middleware ------------------------------------

type ctxUserKey struct{}

// requireAuth enforces a valid token whose user still exists.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearer(r)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "Not authenticated", "")
			return
		}
		username, err := s.parseToken(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Could not validate credentials", "")
			return
		}
		u, err := s.store.UserByUsername(r.Context(), username)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Could not validate credentials", "")
			return
		}
		ctx := context.WithValue(r.Context(), ctxUserKey{}, &u)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// currentUser returns the user placed by requireAuth.
func currentUser(r *http.Request) *userRow {
	u, _ := r.Context().Value(ctxUserKey{}).(*userRow)
	return u
}

// ------------------------------ helpers -------------------------------------

func checkPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

func normalizeUsername(u string) string { return strings.TrimSpace(u) }

// validateSignup enforces basic username/email/password rules.
func validateSignup(u, email, p string) error {
	if len(u) < 3 || len(u) > 50 {
		return errors.New("username must be 3-50 characters")
	}
	for _, r := range u {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return errors.New("username: letters, numbers, underscore only")
		}
	}
	if a, err := mail.ParseAddress(email); err != nil || a.Address != email {
		return errors.New("invalid email address")
	}
	if len(p) < 8 || len(p) > 100 {
		return errors.New("password must be 8-100 characters")
	}
	return nil
}
