package tts

import (
	"errors"
	"fmt"
)

// Failure kinds surfaced by the catalog and speech clients.
var (
	// ErrInvalidInput means the request was rejected locally and no call was made.
	ErrInvalidInput = errors.New("invalid input")
	// ErrCatalogUnavailable means the voice list could not be fetched.
	ErrCatalogUnavailable = errors.New("voice catalog unavailable")
	// ErrNetwork means the call could not complete and no status was received.
	ErrNetwork = errors.New("network error")
	// ErrDecode means the response body could not be turned into audio.
	ErrDecode = errors.New("decode error")
)

// BackendError is returned when the backend answers with a non-success status.
type BackendError struct {
	StatusCode int
	Detail     string
}

func (e *BackendError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}

	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Detail)
}

// Retryable reports whether the user can retry without changing the input.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, ErrInvalidInput) {
		return false
	}

	var backendErr *BackendError

	return errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrDecode) ||
		errors.Is(err, ErrCatalogUnavailable) ||
		errors.As(err, &backendErr)
}

func invalidInput(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, reason)
}
