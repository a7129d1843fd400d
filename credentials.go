package secrets

import (
	"fmt"
	"strings"
)

// Credentials represents user credentials for signup or login
type Credentials struct {
	Username string
	Password string
}

// SignupPolicy defines what a registration must satisfy.  The zero value only
// requires a non-empty username and password.
type SignupPolicy struct {
	MinPasswordLength int
	MaxUsernameLength int
}

// DefaultSignupPolicy returns the policy used when LocalAuth has none set
func DefaultSignupPolicy() SignupPolicy {
	return SignupPolicy{MaxUsernameLength: 254}
}

// Validate checks credentials against the policy
func (p SignupPolicy) Validate(creds *Credentials) error {
	if creds == nil || strings.TrimSpace(creds.Username) == "" {
		return fmt.Errorf("%w: username required", ErrInvalidInput)
	}
	if creds.Password == "" {
		return fmt.Errorf("%w: password required", ErrInvalidInput)
	}
	if p.MaxUsernameLength > 0 && len(creds.Username) > p.MaxUsernameLength {
		return fmt.Errorf("%w: username must be at most %d characters", ErrInvalidInput, p.MaxUsernameLength)
	}
	if p.MinPasswordLength > 0 && len(creds.Password) < p.MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, p.MinPasswordLength)
	}
	return nil
}

// NormalizeUsername trims surrounding whitespace.  Usernames are otherwise
// compared exactly.
func NormalizeUsername(username string) string {
	return strings.TrimSpace(username)
}
