// internal/api/errors.go
//
// Typed failures of the Resource Client.
// Responsibilities:
//   - Sentinels matched with errors.Is (unauthorized, not found, no more rounds).
//   - DomainError for non-success responses, TransportError for network faults.
//   - UserMessage: the short text shown in a notification.

package api

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized means the credential was rejected. The client has already
	// fired its unauthorized hook by the time a caller sees it.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound matches any 404 DomainError (e.g. no active session).
	ErrNotFound = errors.New("not found")

	// ErrNoMoreRounds matches the authority's "every round played" condition.
	ErrNoMoreRounds = errors.New("no more rounds")
)

// DefaultErrorMessage is used when the authority gives no message.
const DefaultErrorMessage = "Request failed"

// DomainError is a non-success response from the authority.
type DomainError struct {
	Status  int
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s (%d)", e.Message, e.Status)
}

// Is lets errors.Is match the structural conditions.
func (e *DomainError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrNoMoreRounds:
		return e.Code == codeNoMoreRounds
	}
	return false
}

// TransportError is a request that never produced a usable response.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

// UserMessage returns a short message suitable for a dismissable notification.
func UserMessage(err error) string {
	var de *DomainError
	var te *TransportError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return "Your session expired. Please sign in again."
	case errors.As(err, &de):
		return de.Message
	case errors.As(err, &te):
		return "Network error. Please try again."
	default:
		return DefaultErrorMessage
	}
}
