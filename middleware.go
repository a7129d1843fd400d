package secrets

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
)

type userContextKey struct{}

// Middleware gates handlers on the session's user
type Middleware struct {
	Sessions *SessionManager

	// Where anonymous requests to protected pages are sent.  Defaults to /register
	RedirectURL string

	// Called for non-authentication failures (eg store outage).  Defaults to a 500.
	OnError func(err error, w http.ResponseWriter, r *http.Request)

	Logger *slog.Logger
}

// UserFromContext returns the user set by ExtractUser or EnsureUser
func UserFromContext(ctx context.Context) *User {
	user, _ := ctx.Value(userContextKey{}).(*User)
	return user
}

// WithUser returns a copy of ctx carrying user
func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

/**
 * Fetches the user from the session and makes it available to downstream
 * handlers via UserFromContext.
 *
 * Note this does not perform any redirects if a valid user does not exist.
 * To also enforce a user exists, use EnsureUser.
 */
func (m *Middleware) ExtractUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := m.Sessions.Resolve(r.Context())
		if err != nil && !errors.Is(err, ErrUnauthenticated) {
			m.logger().Warn("could not resolve session user", "err", err)
		}
		if user != nil {
			r = r.WithContext(WithUser(r.Context(), user))
		}
		next.ServeHTTP(w, r)
	})
}

// EnsureUser only lets requests with an authenticated session through
func (m *Middleware) EnsureUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := m.Sessions.Resolve(r.Context())
		if err != nil {
			if errors.Is(err, ErrUnauthenticated) {
				http.Redirect(w, r, m.getRedirectURL(), http.StatusFound)
				return
			}
			m.logger().Error("session resolve failed", "err", err, "path", r.URL.Path)
			if m.OnError != nil {
				m.OnError(err, w, r)
			} else {
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

func (m *Middleware) getRedirectURL() string {
	if m.RedirectURL != "" {
		return m.RedirectURL
	}
	return "/register"
}

func (m *Middleware) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}
