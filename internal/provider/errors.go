package provider

import (
	"errors"
	"fmt"

	"github.com/antoniostano/durmah/internal/reliability"
)

var (
	ErrProviderUnavailable  = errors.New("provider unavailable")
	ErrIncompleteGeneration = errors.New("incomplete generation")
	ErrSynthesisFailed      = errors.New("synthesis failed")
	ErrVoiceNotFound        = errors.New("voice not found")
	ErrUnknownSession       = errors.New("unknown provider session")
)

// APIError is a non-2xx response from a vendor HTTP API.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: http status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return reliability.RetryableStatus(e.StatusCode)
}
