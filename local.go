package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
)

// AuthErrorHandler is called when a local login or signup fails.  Returning
// true means the handler wrote the response.
type AuthErrorHandler func(err error, w http.ResponseWriter, r *http.Request) bool

// Allows local username/password based authentication
type LocalAuth struct {
	// Must be passed in
	Store    UserStore
	Sessions *SessionManager

	// Defines what is required for signup
	SignupPolicy *SignupPolicy

	// bcrypt cost, 0 means bcrypt.DefaultCost
	HashCost int

	// Form field names
	UsernameField string
	PasswordField string

	// Where to go after a successful login or signup.  Defaults to /secrets
	SuccessURL string

	// Where failures are sent.  Default to /register and /login
	SignupURL string
	LoginURL  string

	// Optional overrides of the redirect-on-failure behaviour
	OnSignupError AuthErrorHandler
	OnLoginError  AuthErrorHandler

	Metrics Recorder
	Logger  *slog.Logger

	dummyOnce sync.Once
	dummyHash string
}

// Authenticate verifies a username/password pair against the store
func (a *LocalAuth) Authenticate(ctx context.Context, identifier, password string) (*User, error) {
	username := NormalizeUsername(identifier)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := a.Store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Burn the same time as a real comparison so absence is not observable
			VerifyPassword(a.getDummyHash(), password)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.HasPassword() {
		VerifyPassword(a.getDummyHash(), password)
		return nil, ErrInvalidCredentials
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// ServeHTTP handles login requests
func (a *LocalAuth) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.HandleLogin(w, r)
}

// HandleLogin verifies the posted credentials and, only once they check out,
// binds the session to the stored user.
func (a *LocalAuth) HandleLogin(w http.ResponseWriter, r *http.Request) {
	username, password, err := a.parseCredentials(r)
	if err != nil {
		a.handleLoginError(fmt.Errorf("%w: %v", ErrInvalidCredentials, err), w, r)
		return
	}

	user, err := a.Authenticate(r.Context(), username, password)
	if err != nil {
		a.handleLoginError(err, w, r)
		return
	}

	if _, err := a.Sessions.Establish(r.Context(), user); err != nil {
		a.handleLoginError(err, w, r)
		return
	}
	a.metrics().RecordAuth("login", OutcomeSuccess)
	a.logger().Info("local login", "user_id", user.ID)
	http.Redirect(w, r, a.getSuccessURL(), http.StatusFound)
}

// parseCredentials reads the username and password from a form or JSON body
func (a *LocalAuth) parseCredentials(r *http.Request) (username, password string, err error) {
	contentType := r.Header.Get("Content-Type")
	usernameField := a.getUsernameField()
	passwordField := a.getPasswordField()

	if strings.HasPrefix(contentType, "application/json") {
		var data map[string]any
		if err = json.NewDecoder(r.Body).Decode(&data); err != nil || data == nil {
			return "", "", fmt.Errorf("invalid post body")
		}
		username, _ = data[usernameField].(string)
		password, _ = data[passwordField].(string)
	} else {
		if err = r.ParseForm(); err != nil {
			return "", "", fmt.Errorf("error parsing form")
		}
		username = r.PostFormValue(usernameField)
		password = r.PostFormValue(passwordField)
	}

	if username == "" || password == "" {
		return "", "", fmt.Errorf("username and password required")
	}
	return username, password, nil
}

// handleLoginError logs the real reason and sends the user back to the login form
func (a *LocalAuth) handleLoginError(err error, w http.ResponseWriter, r *http.Request) {
	outcome := classifyOutcome(err)
	a.metrics().RecordAuth("login", outcome)
	if a.OnLoginError != nil && a.OnLoginError(err, w, r) {
		return
	}
	if outcome == OutcomeStoreError {
		a.logger().Error("login failed", "err", err)
		http.Error(w, "Something went wrong, please try again later.", http.StatusInternalServerError)
		return
	}
	a.logger().Warn("login rejected", "err", err)
	a.Sessions.SetFlash(r.Context(), "Please try again.")
	http.Redirect(w, r, a.getLoginURL(), http.StatusFound)
}

// handleSignupError logs the real reason and sends the user back to the signup form
func (a *LocalAuth) handleSignupError(err error, w http.ResponseWriter, r *http.Request) {
	outcome := classifyOutcome(err)
	a.metrics().RecordAuth("register", outcome)
	if a.OnSignupError != nil && a.OnSignupError(err, w, r) {
		return
	}
	if outcome == OutcomeStoreError {
		a.logger().Error("signup failed", "err", err)
		http.Error(w, "Something went wrong, please try again later.", http.StatusInternalServerError)
		return
	}
	a.logger().Warn("signup rejected", "err", err)
	a.Sessions.SetFlash(r.Context(), "Please try again.")
	http.Redirect(w, r, a.getSignupURL(), http.StatusFound)
}

func classifyOutcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrDuplicateIdentifier), errors.Is(err, ErrExternalIDTaken):
		return OutcomeDuplicate
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrInvalidInput), errors.Is(err, ErrUnknownProvider):
		return OutcomeInvalid
	case errors.Is(err, ErrProvider):
		return OutcomeDenied
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	default:
		return OutcomeStoreError
	}
}

func (a *LocalAuth) getDummyHash() string {
	a.dummyOnce.Do(func() {
		a.dummyHash, _ = HashPassword("not-a-real-password", a.HashCost)
	})
	return a.dummyHash
}

func (a *LocalAuth) getSignupPolicy() SignupPolicy {
	if a.SignupPolicy != nil {
		return *a.SignupPolicy
	}
	return DefaultSignupPolicy()
}

func (a *LocalAuth) getUsernameField() string {
	if a.UsernameField != "" {
		return a.UsernameField
	}
	return "username"
}

func (a *LocalAuth) getPasswordField() string {
	if a.PasswordField != "" {
		return a.PasswordField
	}
	return "password"
}

func (a *LocalAuth) getSuccessURL() string {
	if a.SuccessURL != "" {
		return a.SuccessURL
	}
	return "/secrets"
}

func (a *LocalAuth) getLoginURL() string {
	if a.LoginURL != "" {
		return a.LoginURL
	}
	return "/login"
}

func (a *LocalAuth) getSignupURL() string {
	if a.SignupURL != "" {
		return a.SignupURL
	}
	return "/register"
}

func (a *LocalAuth) metrics() Recorder {
	if a.Metrics != nil {
		return a.Metrics
	}
	return nopRecorder{}
}

func (a *LocalAuth) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
