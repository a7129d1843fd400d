package secrets_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/panyam/secrets"
)

func userEcho(seen **secrets.User) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen = secrets.UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func withSession(env *testEnv, r *http.Request, token string) *http.Request {
	if token != "" {
		r.AddCookie(&http.Cookie{Name: env.Sessions.CookieName(), Value: token})
	}
	return r
}

func TestEnsureUser(t *testing.T) {
	env := newTestEnv(t)
	user := env.registerUser(t, "a@x.com", "p")
	token := env.loginToken(t, user)
	mw := &secrets.Middleware{Sessions: env.Sessions}

	var seen *secrets.User
	handler := env.Sessions.LoadAndSave(mw.EnsureUser(userEcho(&seen)))

	t.Run("anonymous", func(t *testing.T) {
		seen = nil
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/secrets", nil))
		if rr.Code != http.StatusFound || rr.Header().Get("Location") != "/register" {
			t.Errorf("Expected 302 to /register, got %d %q", rr.Code, rr.Header().Get("Location"))
		}
		if seen != nil {
			t.Error("Protected handler ran for an anonymous request")
		}
	})

	t.Run("unknown token", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, withSession(env, httptest.NewRequest(http.MethodGet, "/secrets", nil), "bogus"))
		if rr.Code != http.StatusFound {
			t.Errorf("Expected 302, got %d", rr.Code)
		}
	})

	t.Run("logged in", func(t *testing.T) {
		seen = nil
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, withSession(env, httptest.NewRequest(http.MethodGet, "/secrets", nil), token))
		if rr.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rr.Code)
		}
		if seen == nil || seen.ID != user.ID {
			t.Errorf("Expected user %s in context, got %+v", user.ID, seen)
		}
	})
}

func TestEnsureUserCustomRedirect(t *testing.T) {
	env := newTestEnv(t)
	mw := &secrets.Middleware{Sessions: env.Sessions, RedirectURL: "/login"}
	var seen *secrets.User
	handler := env.Sessions.LoadAndSave(mw.EnsureUser(userEcho(&seen)))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/secrets", nil))
	if rr.Header().Get("Location") != "/login" {
		t.Errorf("Expected redirect to /login, got %q", rr.Header().Get("Location"))
	}
}

func TestEnsureUserStoreError(t *testing.T) {
	sessions := secrets.NewSessionManager(failingStore{}, secrets.SessionConfig{})
	env := &testEnv{Sessions: sessions}
	token := env.loginToken(t, &secrets.User{ID: "someone"})

	var handled error
	mw := &secrets.Middleware{Sessions: sessions, OnError: func(err error, w http.ResponseWriter, r *http.Request) {
		handled = err
		w.WriteHeader(http.StatusServiceUnavailable)
	}}
	var seen *secrets.User
	handler := sessions.LoadAndSave(mw.EnsureUser(userEcho(&seen)))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, withSession(env, httptest.NewRequest(http.MethodGet, "/secrets", nil), token))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected OnError status, got %d", rr.Code)
	}
	if !errors.Is(handled, secrets.ErrStoreUnavailable) {
		t.Errorf("Expected ErrStoreUnavailable, got %v", handled)
	}
	if seen != nil {
		t.Error("Protected handler ran despite a store failure")
	}
}

func TestExtractUser(t *testing.T) {
	env := newTestEnv(t)
	user := env.registerUser(t, "a@x.com", "p")
	token := env.loginToken(t, user)
	mw := &secrets.Middleware{Sessions: env.Sessions}

	var seen *secrets.User
	handler := env.Sessions.LoadAndSave(mw.ExtractUser(userEcho(&seen)))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK || seen != nil {
		t.Errorf("Anonymous request: status %d, user %+v", rr.Code, seen)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, withSession(env, httptest.NewRequest(http.MethodGet, "/", nil), token))
	if rr.Code != http.StatusOK || seen == nil || seen.ID != user.ID {
		t.Errorf("Logged in request: status %d, user %+v", rr.Code, seen)
	}
}
