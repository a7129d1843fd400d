package oauth2_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/panyam/secrets"
	"github.com/panyam/secrets/oauth2"
	oauth2lib "golang.org/x/oauth2"
)

// mockOAuthServer creates a mock OAuth provider server that handles:
// - /token endpoint for token exchange
// - /userinfo endpoint for user data retrieval
type mockOAuthServer struct {
	server           *httptest.Server
	tokenEndpoint    string
	userInfoEndpoint string

	// Configuration for responses
	tokenResponse    map[string]any
	userInfoResponse map[string]any
	tokenError       bool
	userInfoError    bool

	// What the last userinfo request carried
	lastAuthorization string
}

func newMockOAuthServer() *mockOAuthServer {
	mock := &mockOAuthServer{
		tokenResponse: map[string]any{
			"access_token":  "mock_access_token",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"refresh_token": "mock_refresh_token",
		},
		userInfoResponse: map[string]any{
			"id":   "12345",
			"sub":  "12345",
			"name": "Test User",
		},
	}

	mux := http.NewServeMux()

	// Token endpoint
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if mock.tokenError {
			http.Error(w, "token exchange failed", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mock.tokenResponse)
	})

	// User info endpoint
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		mock.lastAuthorization = r.Header.Get("Authorization")
		if mock.userInfoError {
			http.Error(w, "user info failed", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mock.userInfoResponse)
	})

	mock.server = httptest.NewServer(mux)
	mock.tokenEndpoint = mock.server.URL + "/token"
	mock.userInfoEndpoint = mock.server.URL + "/userinfo"

	return mock
}

func (m *mockOAuthServer) Close() {
	m.server.Close()
}

// pointAt redirects a provider's exchange and user info calls to the mock
func (m *mockOAuthServer) pointAt(b *oauth2.BaseOAuth2) {
	b.UserInfoURL = m.userInfoEndpoint
	b.SetHTTPClient(m.server.Client())
	b.SetOAuthEndpoint(oauth2lib.Endpoint{
		AuthURL:  m.server.URL + "/auth",
		TokenURL: m.tokenEndpoint,
	})
}

func TestProvidersImplementInterface(t *testing.T) {
	var _ secrets.Provider = oauth2.NewGoogleOAuth2("id", "secret", "")
	var _ secrets.Provider = oauth2.NewFacebookOAuth2("id", "secret", "")
}

func TestAuthCodeURL(t *testing.T) {
	tests := []struct {
		name         string
		provider     secrets.Provider
		wantPrefix   string
		wantScope    string
		wantRedirect string
	}{
		{
			name:         "google",
			provider:     oauth2.NewGoogleOAuth2("test-client-id", "secret", ""),
			wantPrefix:   "https://accounts.google.com/",
			wantScope:    "profile",
			wantRedirect: "http://localhost:3000/auth/google/secrets",
		},
		{
			name:         "facebook",
			provider:     oauth2.NewFacebookOAuth2("test-client-id", "secret", ""),
			wantPrefix:   "https://www.facebook.com/",
			wantScope:    "public_profile",
			wantRedirect: "http://localhost:3000/auth/facebook/secrets",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.provider.Name() != tt.name {
				t.Errorf("Expected name %q, got %q", tt.name, tt.provider.Name())
			}
			location := tt.provider.AuthCodeURL("some-state")
			if !strings.HasPrefix(location, tt.wantPrefix) {
				t.Errorf("Expected consent URL under %s, got: %s", tt.wantPrefix, location)
			}
			parsedURL, err := url.Parse(location)
			if err != nil {
				t.Fatalf("Failed to parse consent URL: %v", err)
			}
			query := parsedURL.Query()
			if query.Get("client_id") != "test-client-id" {
				t.Errorf("Expected client_id in URL")
			}
			if query.Get("state") != "some-state" {
				t.Errorf("Expected state in URL, got %q", query.Get("state"))
			}
			if query.Get("scope") != tt.wantScope {
				t.Errorf("Expected scope %q, got %q", tt.wantScope, query.Get("scope"))
			}
			if query.Get("redirect_uri") != tt.wantRedirect {
				t.Errorf("Expected redirect_uri %q, got %q", tt.wantRedirect, query.Get("redirect_uri"))
			}
		})
	}
}

func TestGoogleExchange(t *testing.T) {
	mock := newMockOAuthServer()
	defer mock.Close()

	google := oauth2.NewGoogleOAuth2("test-client-id", "test-client-secret", "http://localhost:8080/callback")
	mock.pointAt(google.BaseOAuth2)

	t.Run("uses sub as the profile id", func(t *testing.T) {
		mock.userInfoResponse = map[string]any{
			"sub":  "google-sub-123",
			"name": "Google User",
		}
		profile, err := google.Exchange(context.Background(), "valid_code")
		if err != nil {
			t.Fatalf("Exchange failed: %v", err)
		}
		if profile.ID != "google-sub-123" {
			t.Errorf("Expected id 'google-sub-123', got '%s'", profile.ID)
		}
		if profile.Provider != "google" {
			t.Errorf("Expected provider 'google', got '%s'", profile.Provider)
		}
		if profile.Name != "Google User" {
			t.Errorf("Expected name 'Google User', got '%s'", profile.Name)
		}
		if mock.lastAuthorization != "Bearer mock_access_token" {
			t.Errorf("Expected bearer token on user info request, got %q", mock.lastAuthorization)
		}
	})

	t.Run("fails without sub", func(t *testing.T) {
		mock.userInfoResponse = map[string]any{"name": "No Id"}
		_, err := google.Exchange(context.Background(), "valid_code")
		if !errors.Is(err, secrets.ErrProvider) {
			t.Errorf("Expected provider error, got %v", err)
		}
	})

	t.Run("fails on token exchange failure", func(t *testing.T) {
		mock.tokenError = true
		defer func() { mock.tokenError = false }()

		_, err := google.Exchange(context.Background(), "bad_code")
		var perr *secrets.ProviderError
		if !errors.As(err, &perr) {
			t.Fatalf("Expected ProviderError, got %v", err)
		}
		if perr.Provider != "google" {
			t.Errorf("Expected provider 'google', got '%s'", perr.Provider)
		}
	})

	t.Run("fails on user info failure", func(t *testing.T) {
		mock.userInfoError = true
		defer func() { mock.userInfoError = false }()

		_, err := google.Exchange(context.Background(), "valid_code")
		if !errors.Is(err, secrets.ErrProvider) {
			t.Errorf("Expected provider error, got %v", err)
		}
	})
}

func TestFacebookExchange(t *testing.T) {
	mock := newMockOAuthServer()
	defer mock.Close()

	facebook := oauth2.NewFacebookOAuth2("test-app-id", "test-app-secret", "http://localhost:8080/callback")
	mock.pointAt(facebook.BaseOAuth2)

	t.Run("uses id as the profile id", func(t *testing.T) {
		mock.userInfoResponse = map[string]any{
			"id":   "10158",
			"name": "Facebook User",
		}
		profile, err := facebook.Exchange(context.Background(), "valid_code")
		if err != nil {
			t.Fatalf("Exchange failed: %v", err)
		}
		if profile.ID != "10158" {
			t.Errorf("Expected id '10158', got '%s'", profile.ID)
		}
		if profile.Provider != "facebook" {
			t.Errorf("Expected provider 'facebook', got '%s'", profile.Provider)
		}
	})

	t.Run("accepts numeric ids", func(t *testing.T) {
		mock.userInfoResponse = map[string]any{"id": 4242}
		profile, err := facebook.Exchange(context.Background(), "valid_code")
		if err != nil {
			t.Fatalf("Exchange failed: %v", err)
		}
		if profile.ID != "4242" {
			t.Errorf("Expected id '4242', got '%s'", profile.ID)
		}
	})
}

func TestConfigCarriesCredentials(t *testing.T) {
	google := oauth2.NewGoogleOAuth2("g-client", "g-secret", "https://secrets.example.com/auth/google/secrets")
	cfg := google.Config()
	if cfg.ClientID != "g-client" || cfg.ClientSecret != "g-secret" {
		t.Errorf("Expected client credentials in config, got %q %q", cfg.ClientID, cfg.ClientSecret)
	}
	if cfg.RedirectURL != "https://secrets.example.com/auth/google/secrets" {
		t.Errorf("Expected the callback as RedirectURL, got %q", cfg.RedirectURL)
	}

	t.Setenv("APP_ID", "fb-app")
	t.Setenv("APP_SECRET", "fb-secret")
	cfg = oauth2.NewFacebookOAuth2("", "", "").Config()
	if cfg.ClientID != "fb-app" || cfg.ClientSecret != "fb-secret" {
		t.Errorf("Expected env credentials in config, got %q %q", cfg.ClientID, cfg.ClientSecret)
	}
	if cfg.RedirectURL != "http://localhost:3000/auth/facebook/secrets" {
		t.Errorf("Expected the default callback, got %q", cfg.RedirectURL)
	}
}

func TestSetScopes(t *testing.T) {
	facebook := oauth2.NewFacebookOAuth2("id", "secret", "")
	facebook.SetScopes("public_profile", "email")
	if got := facebook.Config().Scopes; len(got) != 2 || got[1] != "email" {
		t.Errorf("Expected scopes to be replaced, got %v", got)
	}

	// Empty keeps the defaults
	facebook.SetScopes()
	if got := facebook.Config().Scopes; len(got) != 2 {
		t.Errorf("Expected scopes to be kept, got %v", got)
	}
}
