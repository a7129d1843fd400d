package secrets

import (
	"context"
	"time"
)

// Provider names for the supported external identity providers
const (
	ProviderLocal    = "local"
	ProviderGoogle   = "google"
	ProviderFacebook = "facebook"
)

// User represents a single account.  It is created either by a local
// registration (Username + PasswordHash) or by the first OAuth callback for an
// unseen provider profile id (ExternalIDs).
type User struct {
	ID           string            `json:"id"`                      // system assigned, referenced by sessions
	Username     string            `json:"username,omitempty"`      // local login identifier, unique when set
	PasswordHash string            `json:"password_hash,omitempty"` // bcrypt hash, empty for oauth-only accounts
	ExternalIDs  map[string]string `json:"external_ids,omitempty"`  // provider -> provider profile id
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// ExternalID returns the profile id this user has for the given provider
func (u *User) ExternalID(provider string) string {
	if u == nil || u.ExternalIDs == nil {
		return ""
	}
	return u.ExternalIDs[provider]
}

// HasPassword returns true if the user can log in with local credentials
func (u *User) HasPassword() bool {
	return u != nil && u.PasswordHash != ""
}

// Validate checks that a user record can be persisted.  Every user needs an ID
// and at least one way to authenticate.
func (u *User) Validate() error {
	if u == nil || u.ID == "" {
		return ErrInvalidUser
	}
	if u.PasswordHash != "" {
		return nil
	}
	for _, id := range u.ExternalIDs {
		if id != "" {
			return nil
		}
	}
	return ErrInvalidUser
}

// Clone returns a deep copy so callers can mutate without touching store state
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	if u.ExternalIDs != nil {
		out.ExternalIDs = make(map[string]string, len(u.ExternalIDs))
		for k, v := range u.ExternalIDs {
			out.ExternalIDs[k] = v
		}
	}
	return &out
}

// ExternalProfile is what an OAuth provider tells us about the user after a
// successful code exchange.
type ExternalProfile struct {
	Provider string         // "google", "facebook"
	ID       string         // provider scoped profile id
	Name     string         // display name if the provider returned one
	Raw      map[string]any // full user info payload
}

// UserStore persists users.  Implementations must make CreateUser an atomic
// unique insert on Username and FindOrCreateByExternalID an atomic upsert on
// (provider, externalID).  Backend failures are wrapped with ErrStoreUnavailable.
type UserStore interface {
	// CreateUser inserts a new user.  Returns ErrDuplicateIdentifier if the
	// username is already taken.
	CreateUser(ctx context.Context, user *User) error

	// GetUserById retrieves a user by its system ID
	GetUserById(ctx context.Context, userId string) (*User, error)

	// GetUserByUsername retrieves a user by its local login identifier
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// FindOrCreateByExternalID returns the user owning the external id,
	// creating one if none exists.  created reports whether a new user was made.
	FindOrCreateByExternalID(ctx context.Context, provider, externalID string) (user *User, created bool, err error)

	// LinkExternalID attaches an external id to an existing user.  Returns
	// ErrExternalIDTaken if another user already owns it.
	LinkExternalID(ctx context.Context, userId, provider, externalID string) (*User, error)
}
