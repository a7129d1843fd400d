package secrets

import (
	"context"
	"errors"
	"net/http"
)

// Register creates a new local user.  It does not touch the session; callers
// establish one from the returned record.
func (a *LocalAuth) Register(ctx context.Context, identifier, password string) (*User, error) {
	creds := &Credentials{Username: NormalizeUsername(identifier), Password: password}
	if err := a.getSignupPolicy().Validate(creds); err != nil {
		return nil, err
	}

	// The store's unique insert still guards concurrent registrations
	if _, err := a.Store.GetUserByUsername(ctx, creds.Username); err == nil {
		return nil, ErrDuplicateIdentifier
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	hash, err := HashPassword(creds.Password, a.HashCost)
	if err != nil {
		return nil, err
	}

	user := &User{
		ID:           NewUserID(),
		Username:     creds.Username,
		PasswordHash: hash,
	}
	if err := a.Store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	a.logger().Info("registered local user", "user_id", user.ID)
	return user, nil
}

// HandleRegister processes user registration.  On success the new user is
// logged in and redirected to the protected page.
func (a *LocalAuth) HandleRegister(w http.ResponseWriter, r *http.Request) {
	username, password, err := a.parseCredentials(r)
	if err != nil {
		a.handleSignupError(errors.Join(ErrInvalidInput, err), w, r)
		return
	}

	user, err := a.Register(r.Context(), username, password)
	if err != nil {
		a.handleSignupError(err, w, r)
		return
	}

	// Session state comes from the stored record, never from the form
	if _, err := a.Sessions.Establish(r.Context(), user); err != nil {
		a.handleSignupError(err, w, r)
		return
	}
	a.metrics().RecordAuth("register", OutcomeSuccess)
	http.Redirect(w, r, a.getSuccessURL(), http.StatusFound)
}
