package secrets

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateIdentifier is returned when registering a username that already exists
	ErrDuplicateIdentifier = errors.New("identifier already registered")

	// ErrInvalidCredentials is returned when a username/password pair does not verify
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUnauthenticated means the request carries no usable session.  It is a
	// routing fallback rather than a failure.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrStoreUnavailable wraps any backend failure of the credential store
	ErrStoreUnavailable = errors.New("credential store unavailable")

	ErrUserNotFound    = errors.New("user not found")
	ErrExternalIDTaken = errors.New("external id already linked to another user")
	ErrInvalidUser     = errors.New("user needs a password or an external id")
	ErrUnknownProvider = errors.New("unknown oauth provider")
	ErrInvalidInput    = errors.New("invalid input")

	// ErrProvider matches any *ProviderError via errors.Is
	ErrProvider = errors.New("oauth provider error")
)

// ProviderError reports a failed or denied external authentication
type ProviderError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Reason)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

// NewProviderError creates a ProviderError
func NewProviderError(provider, reason string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Reason: reason, Err: err}
}

// StoreError wraps a backend error so it matches ErrStoreUnavailable while
// keeping the original cause in the message.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
