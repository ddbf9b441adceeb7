package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/robalobadob/photoguess/internal/game"
	"github.com/robalobadob/photoguess/internal/wire"
)

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	tok, err := must[wire.Token](ctx, c, http.MethodPost, "/auth/login",
		wire.LoginReq{Username: username, Password: password})
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Register creates an account. It does not sign in.
func (c *Client) Register(ctx context.Context, username, email, password string) error {
	_, err := call[wire.User](ctx, c, http.MethodPost, "/auth/register",
		wire.RegisterReq{Username: username, Email: email, Password: password})
	return err
}

// CurrentIdentity returns the profile bound to the current token.
func (c *Client) CurrentIdentity(ctx context.Context) (game.Profile, error) {
	u, err := must[wire.User](ctx, c, http.MethodGet, "/auth/me", nil)
	if err != nil {
		return game.Profile{}, err
	}
	return u.Profile(), nil
}

// CurrentSession returns the active (or most recently completed) session.
// A missing session is reported as an error matching ErrNotFound.
func (c *Client) CurrentSession(ctx context.Context) (game.Session, error) {
	s, err := must[wire.Session](ctx, c, http.MethodGet, "/game/current", nil)
	if err != nil {
		return game.Session{}, err
	}
	return s.Game(), nil
}

// StartSession asks the authority for a fresh session.
func (c *Client) StartSession(ctx context.Context) (game.Session, error) {
	s, err := must[wire.Session](ctx, c, http.MethodPost, "/game/start", struct{}{})
	if err != nil {
		return game.Session{}, err
	}
	return s.Game(), nil
}

// DeleteSession discards the active session. Deleting when there is none
// succeeds.
func (c *Client) DeleteSession(ctx context.Context) error {
	_, err := call[struct{}](ctx, c, http.MethodDelete, "/game/current", nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// CurrentRoundPhoto returns the reference of the photo to guess. When every
// round has been played the error matches ErrNoMoreRounds.
func (c *Client) CurrentRoundPhoto(ctx context.Context) (game.PhotoRef, error) {
	p, err := must[wire.Photo](ctx, c, http.MethodGet, "/game/photo", nil)
	if err != nil {
		return game.PhotoRef{}, err
	}
	return p.Ref(), nil
}

// SubmitGuess sends a coordinate for the current round.
func (c *Client) SubmitGuess(ctx context.Context, at game.Coordinate) (game.RoundResult, error) {
	r, err := must[wire.GuessRes](ctx, c, http.MethodPost, "/game/guess",
		wire.GuessReq{Latitude: at.Lat, Longitude: at.Lng})
	if err != nil {
		return game.RoundResult{}, err
	}
	return r.Result(), nil
}

// RoundHistory returns every round of the current (or last) session in order.
func (c *Client) RoundHistory(ctx context.Context) ([]game.RoundSummary, error) {
	rs, err := call[[]wire.Round](ctx, c, http.MethodGet, "/game/rounds", nil)
	if err != nil {
		return nil, err
	}
	if rs == nil {
		return []game.RoundSummary{}, nil
	}
	out := make([]game.RoundSummary, 0, len(*rs))
	for _, r := range *rs {
		out = append(out, r.Summary())
	}
	return out, nil
}

// Leaderboard returns up to limit ranked completed sessions.
func (c *Client) Leaderboard(ctx context.Context, limit int) ([]game.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	lb, err := call[wire.Leaderboard](ctx, c, http.MethodGet, fmt.Sprintf("/game/leaderboard?limit=%d", limit), nil)
	if err != nil {
		return nil, err
	}
	out := []game.LeaderboardEntry{}
	if lb == nil {
		return out, nil
	}
	for i, e := range lb.Entries {
		out = append(out, game.LeaderboardEntry{
			Rank:        i + 1,
			Username:    e.Username,
			TotalScore:  e.TotalScore,
			CompletedAt: e.CompletedAt,
		})
	}
	return out, nil
}

// Health pings the authority.
func (c *Client) Health(ctx context.Context) error {
	_, err := call[map[string]any](ctx, c, http.MethodGet, "/health", nil)
	return err
}
