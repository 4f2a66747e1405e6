// Package pan provides an HTTP client for the netdisk web API: share
// verification, transfers into the account's own storage, directory listing
// and direct-link resolution. Every call is stateless given a *Session.
package pan

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for failure classification.
// Use errors.Is(err, pan.ErrTransfer) to check.
var (
	ErrAuth        = errors.New("pan: not authenticated")
	ErrParse       = errors.New("pan: unexpected response shape")
	ErrNetwork     = errors.New("pan: network failure")
	ErrShareVerify = errors.New("pan: share verification failed")
	ErrTransfer    = errors.New("pan: transfer failed")
	ErrProvider    = errors.New("pan: provider error")
)

// Provider error numbers observed in responses.
const (
	errnoOK             = 0
	errnoNotLoggedIn    = -6
	errnoWrongPassword  = -9
	errnoNeedsPassword  = -12
	errnoFileNotFound   = 12
	errnoTooFrequent    = 9019
	errnoRateLimited    = 31034
	errnoShareCancelled = 105
)

// ProviderError wraps a sentinel error with the HTTP status, the provider's
// errno and its human-readable message.
type ProviderError struct {
	Op         string
	StatusCode int
	Errno      int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 && e.StatusCode != http.StatusOK {
		return fmt.Sprintf("pan: %s: HTTP %d: %s", e.Op, e.StatusCode, e.Message)
	}

	if e.Message != "" {
		return fmt.Sprintf("pan: %s: errno %d: %s", e.Op, e.Errno, e.Message)
	}

	return fmt.Sprintf("pan: %s: errno %d", e.Op, e.Errno)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is lets a not-logged-in errno match ErrAuth regardless of which operation
// produced it.
func (e *ProviderError) Is(target error) bool {
	return target == ErrAuth && e.Errno == errnoNotLoggedIn
}

// IsTransient reports whether err is worth retrying: network failures,
// provider rate limiting, and 429/5xx responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrNetwork) {
		return true
	}

	var pe *ProviderError
	if !errors.As(err, &pe) {
		return false
	}

	switch pe.Errno {
	case errnoTooFrequent, errnoRateLimited:
		return true
	}

	return pe.StatusCode == http.StatusTooManyRequests || pe.StatusCode >= http.StatusInternalServerError
}

// errnoMessage maps the errno values the provider commonly returns without a
// show_msg to something readable.
func errnoMessage(errno int) string {
	switch errno {
	case errnoNotLoggedIn:
		return "not logged in"
	case errnoWrongPassword:
		return "wrong extraction code"
	case errnoNeedsPassword:
		return "extraction code required"
	case errnoFileNotFound:
		return "file not found"
	case errnoShareCancelled:
		return "share link cancelled or expired"
	case errnoTooFrequent, errnoRateLimited:
		return "too many requests"
	default:
		return ""
	}
}

// statusError builds a ProviderError for a non-2xx HTTP response.
func statusError(op string, code int, body []byte, sentinel error) *ProviderError {
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		sentinel = ErrAuth
	}

	msg := string(body)
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody] + "..."
	}

	return &ProviderError{Op: op, StatusCode: code, Message: msg, Err: sentinel}
}

// errnoError builds a ProviderError for a 200 response carrying errno != 0.
func errnoError(op string, errno int, msg string, sentinel error) *ProviderError {
	if msg == "" {
		msg = errnoMessage(errno)
	}

	return &ProviderError{Op: op, StatusCode: http.StatusOK, Errno: errno, Message: msg, Err: sentinel}
}

const maxErrorBody = 256

func asProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}

	return nil, false
}
