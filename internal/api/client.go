// internal/api/client.go
//
// Resource Client for the game authority.
// Responsibilities:
//   - Attach the current bearer token (when present) to every request sent to
//     the authority's own origin; absolute URLs on other hosts go out bare.
//   - Translate responses into typed failures:
//       401            → unauthorized hook fires, ErrUnauthorized returned
//       other non-2xx  → *DomainError (server message or DefaultErrorMessage)
//       network errors → *TransportError
//   - Treat a 2xx response without body as a nil result, not an error.
//   - Fetch photo bytes with the same credentials (see photo.go).
//
// Notes:
//   - Retries/backoff are left to the http.Client transport supplied by the caller.
//   - The client holds no game state; the token is read from a TokenSource on
//     every call so a logout takes effect immediately.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/robalobadob/photoguess/internal/wire"
)

const codeNoMoreRounds = wire.CodeNoMoreRounds

// TokenSource returns the current bearer token, or "" when signed out.
type TokenSource interface {
	Token() string
}

// Client talks to one authority.
type Client struct {
	base   *url.URL
	http   *http.Client
	tokens TokenSource
	log    zerolog.Logger

	mu             sync.RWMutex
	onUnauthorized func()
}

// New builds a Client for the authority rooted at baseURL (e.g.
// http://localhost:8000). A nil httpClient uses http.DefaultClient.
func New(baseURL string, tokens TokenSource, httpClient *http.Client, logger zerolog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse authority url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("authority url %q must be absolute", baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		base:   u,
		http:   httpClient,
		tokens: tokens,
		log:    logger.With().Str("component", "api").Logger(),
	}, nil
}

// OnUnauthorized registers the process-wide handler fired on any 401.
func (c *Client) OnUnauthorized(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnauthorized = fn
}

func (c *Client) unauthorized() {
	c.mu.RLock()
	fn := c.onUnauthorized
	c.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// BaseURL returns the authority root.
func (c *Client) BaseURL() string { return c.base.String() }

// resolve joins an API path ("/game/current") or an authority-relative URL
// ("/game/photo/x/preview") onto the base. Absolute URLs pass through.
func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/api/") {
		path = "/api" + path
	}
	return c.base.String() + path
}

// sameOrigin reports whether u points at the authority. Only those requests
// carry the credential.
func (c *Client) sameOrigin(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, c.base.Scheme) && strings.EqualFold(u.Host, c.base.Host)
}

// send performs the request and returns the successful response. The caller
// owns resp.Body.
func (c *Client) send(ctx context.Context, method, path string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path), body)
	if err != nil {
		return nil, &TransportError{Op: method + " " + path, Err: err}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	own := c.sameOrigin(req.URL)
	if own && c.tokens != nil {
		if tok := c.tokens.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("method", method).Str("path", path).Msg("request failed")
		return nil, &TransportError{Op: method + " " + path, Err: err}
	}
	c.log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("response")

	if resp.StatusCode == http.StatusUnauthorized && own {
		resp.Body.Close()
		c.log.Warn().Str("path", path).Msg("credential rejected")
		c.unauthorized()
		return nil, ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp, nil
}

// decodeError builds a DomainError from an error response body.
func decodeError(resp *http.Response) error {
	de := &DomainError{Status: resp.StatusCode, Message: DefaultErrorMessage}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || len(bytes.TrimSpace(raw)) == 0 {
		return de
	}
	var eb wire.ErrorBody
	if json.Unmarshal(raw, &eb) != nil {
		return de
	}
	switch {
	case eb.Error != "":
		de.Message = eb.Error
	case eb.Detail != "":
		de.Message = eb.Detail
	}
	de.Code = eb.Code
	return de
}

// call performs a JSON request. A successful response without body yields
// (nil, nil).
func call[T any](ctx context.Context, c *Client, method, path string, in any) (*T, error) {
	resp, err := c.send(ctx, method, path, in)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: method + " " + path, Err: err}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &TransportError{Op: "decode " + path, Err: err}
	}
	return &out, nil
}

// errEmpty is returned when an operation needs a body and got none.
var errEmpty = errors.New("empty response")

// must is call for operations whose success always carries a body.
func must[T any](ctx context.Context, c *Client, method, path string, in any) (*T, error) {
	v, err := call[T](ctx, c, method, path, in)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, &TransportError{Op: method + " " + path, Err: errEmpty}
	}
	return v, nil
}
