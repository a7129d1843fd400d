package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/alexedwards/scs/v2/memstore"
)

// Name of the session value holding the logged in user's ID
const SessionUserKey = "userID"

// Default name of the session cookie
const DefaultSessionCookieName = "secrets_session"

// SessionConfig configures a SessionManager
type SessionConfig struct {
	CookieName   string
	Lifetime     time.Duration // absolute lifetime, defaults to 24h
	IdleTimeout  time.Duration // 0 disables
	SecureCookie bool

	// Store for session data.  Defaults to an in-process memstore.
	Store scs.Store
}

// SessionManager ties an opaque cookie token to a user reference held in
// server side session state.  Only the user ID is stored; the user record is
// re-read from the UserStore on every resolve.
type SessionManager struct {
	scs     *scs.SessionManager
	users   UserStore
	metrics Recorder
}

// NewSessionManager creates a SessionManager backed by scs
func NewSessionManager(users UserStore, config SessionConfig) *SessionManager {
	sm := scs.New()
	if config.Store != nil {
		sm.Store = config.Store
	} else {
		sm.Store = memstore.New()
	}
	sm.Lifetime = 24 * time.Hour
	if config.Lifetime > 0 {
		sm.Lifetime = config.Lifetime
	}
	sm.IdleTimeout = config.IdleTimeout
	sm.Cookie.Name = DefaultSessionCookieName
	if config.CookieName != "" {
		sm.Cookie.Name = config.CookieName
	}
	sm.Cookie.HttpOnly = true
	sm.Cookie.Path = "/"
	sm.Cookie.SameSite = http.SameSiteLaxMode
	sm.Cookie.Secure = config.SecureCookie
	sm.ErrorFunc = func(w http.ResponseWriter, r *http.Request, err error) {
		slog.Error("session error", "err", err, "path", r.URL.Path)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
	return &SessionManager{scs: sm, users: users, metrics: nopRecorder{}}
}

// WithMetrics sets the recorder used for session events
func (s *SessionManager) WithMetrics(r Recorder) *SessionManager {
	if r != nil {
		s.metrics = r
	}
	return s
}

// CookieName returns the name of the session cookie
func (s *SessionManager) CookieName() string {
	return s.scs.Cookie.Name
}

// LoadAndSave loads the session named by the request cookie into the request
// context and writes the cookie back when the session changes.
func (s *SessionManager) LoadAndSave(next http.Handler) http.Handler {
	return s.scs.LoadAndSave(next)
}

// Establish binds the session in ctx to the given user and returns the opaque
// session token.  The token is always renewed so a pre-login token can never
// be reused as an authenticated one.
func (s *SessionManager) Establish(ctx context.Context, user *User) (string, error) {
	if user == nil || user.ID == "" {
		return "", fmt.Errorf("%w: no user to establish", ErrInvalidInput)
	}
	if err := s.scs.RenewToken(ctx); err != nil {
		return "", fmt.Errorf("failed to renew session token: %w", err)
	}
	s.scs.Put(ctx, SessionUserKey, user.ID)
	token, _, err := s.scs.Commit(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to commit session: %w", err)
	}
	s.metrics.RecordSession("established")
	return token, nil
}

// LoggedInUserID returns the user ID stored in the session, or "" if anonymous
func (s *SessionManager) LoggedInUserID(ctx context.Context) string {
	return s.scs.GetString(ctx, SessionUserKey)
}

// Resolve returns the user bound to the session in ctx.  A missing, expired or
// dangling session yields ErrUnauthenticated.  ctx must carry session data,
// ie come from LoadAndSave or ResolveToken.
func (s *SessionManager) Resolve(ctx context.Context) (*User, error) {
	userId := s.LoggedInUserID(ctx)
	if userId == "" {
		return nil, ErrUnauthenticated
	}
	user, err := s.users.GetUserById(ctx, userId)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			slog.Warn("session references unknown user", "user_id", userId)
			return nil, ErrUnauthenticated
		}
		return nil, err
	}
	return user, nil
}

// Load returns a context carrying the session data named by token.  An
// unknown or empty token yields a fresh anonymous session.
func (s *SessionManager) Load(ctx context.Context, token string) (context.Context, error) {
	return s.scs.Load(ctx, token)
}

// ResolveToken loads the session for token and resolves its user
func (s *SessionManager) ResolveToken(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	ctx, err := s.scs.Load(ctx, token)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	return s.Resolve(ctx)
}

// Destroy removes the session in ctx.  Destroying an absent session is not an error.
func (s *SessionManager) Destroy(ctx context.Context) error {
	hadUser := s.LoggedInUserID(ctx) != ""
	if err := s.scs.Destroy(ctx); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	if hadUser {
		s.metrics.RecordSession("destroyed")
	}
	return nil
}

// DestroyToken removes the session named by token
func (s *SessionManager) DestroyToken(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	ctx, err := s.scs.Load(ctx, token)
	if err != nil {
		return nil
	}
	return s.Destroy(ctx)
}

// Session key for one-shot messages shown on the next rendered page
const flashKey = "flash"

// SetFlash stores a message to be shown once on the next page render
func (s *SessionManager) SetFlash(ctx context.Context, msg string) {
	s.scs.Put(ctx, flashKey, msg)
}

// PopFlash returns and clears the pending flash message
func (s *SessionManager) PopFlash(ctx context.Context) string {
	return s.scs.PopString(ctx, flashKey)
}
