package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by matchers, providers and the dispatcher.
var (
	// ErrProviderUnavailable is fatal to the current discovery call.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrProviderTimeout is recovered locally with partial or no results.
	ErrProviderTimeout = errors.New("provider timeout")
	// ErrChannelSendFailure is retried with backoff, then the attempt is failed.
	ErrChannelSendFailure = errors.New("channel send failure")
	// ErrDuplicateCandidate is absorbed by deduplication and assignment.
	ErrDuplicateCandidate = errors.New("duplicate candidate")
)

// ProviderError attaches the provider name to one of the taxonomy errors.
type ProviderError struct {
	Provider string
	Kind     error
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Provider, e.Kind, e.Err)
}

// Is matches the taxonomy kind.
func (e *ProviderError) Is(target error) bool { return target == e.Kind }

func (e *ProviderError) Unwrap() error { return e.Err }

// Unavailable wraps err as ErrProviderUnavailable for provider.
func Unavailable(provider string, err error) error {
	return &ProviderError{Provider: provider, Kind: ErrProviderUnavailable, Err: err}
}

// Timeout wraps err as ErrProviderTimeout for provider.
func Timeout(provider string, err error) error {
	return &ProviderError{Provider: provider, Kind: ErrProviderTimeout, Err: err}
}

// SendFailure wraps err as ErrChannelSendFailure for a channel provider.
func SendFailure(provider string, err error) error {
	return &ProviderError{Provider: provider, Kind: ErrChannelSendFailure, Err: err}
}
