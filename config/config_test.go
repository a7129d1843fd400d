package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Addr != ":3000" {
		t.Errorf("Addr = %q, want :3000", cfg.Addr)
	}
	if cfg.Store != StoreFS || cfg.StorePath != "./data" {
		t.Errorf("unexpected store defaults: %q %q", cfg.Store, cfg.StorePath)
	}
	if len(cfg.GoogleScopes) != 1 || cfg.GoogleScopes[0] != "profile" {
		t.Errorf("GoogleScopes = %v, want [profile]", cfg.GoogleScopes)
	}
	if cfg.SessionLifetime != 24*time.Hour {
		t.Errorf("SessionLifetime = %v, want 24h", cfg.SessionLifetime)
	}
	if cfg.RateLimit != 20 || cfg.RateBurst != 10 {
		t.Errorf("rate defaults = %d/%d", cfg.RateLimit, cfg.RateBurst)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
	if cfg.GoogleEnabled() || cfg.FacebookEnabled() {
		t.Error("providers should be off without credentials")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SECRETS_ADDR", ":8080")
	t.Setenv("SECRETS_BASE_URL", "https://secrets.example.com/")
	t.Setenv("CLIENT_ID", "gid")
	t.Setenv("CLIENT_SECRET", "gsecret")
	t.Setenv("SECRETS_FACEBOOK_SCOPES", "public_profile,email")
	t.Setenv("SECRETS_STORE", "gorm")
	t.Setenv("SECRETS_SESSION_LIFETIME", "2h")
	t.Setenv("SECRETS_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.Store != StoreGORM || cfg.SessionLifetime != 2*time.Hour {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if !cfg.GoogleEnabled() {
		t.Error("google should be enabled")
	}
	if got := cfg.CallbackURL("google"); got != "https://secrets.example.com/auth/google/secrets" {
		t.Errorf("CallbackURL = %q", got)
	}
	if !cfg.SecureCookies() {
		t.Error("https base url should use secure cookies")
	}
	if len(cfg.FacebookScopes) != 2 || cfg.FacebookScopes[1] != "email" {
		t.Errorf("FacebookScopes = %v", cfg.FacebookScopes)
	}
	if level, _ := cfg.SlogLevel(); level != slog.LevelDebug {
		t.Errorf("SlogLevel = %v, want debug", level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"unknown store", map[string]string{"SECRETS_STORE": "mongo"}, "unknown store"},
		{"half google", map[string]string{"CLIENT_ID": "x"}, "google needs both"},
		{"half facebook", map[string]string{"APP_SECRET": "x"}, "facebook needs both"},
		{"datastore without project", map[string]string{"SECRETS_STORE": "datastore"}, "SECRETS_DATASTORE_PROJECT"},
		{"bad base url", map[string]string{"SECRETS_BASE_URL": "localhost"}, "SECRETS_BASE_URL"},
		{"bad log level", map[string]string{"SECRETS_LOG_LEVEL": "loud"}, "SECRETS_LOG_LEVEL"},
		{"bad log format", map[string]string{"SECRETS_LOG_FORMAT": "xml"}, "log format"},
		{"bad bcrypt cost", map[string]string{"SECRETS_BCRYPT_COST": "50"}, "SECRETS_BCRYPT_COST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadRejectsMalformed(t *testing.T) {
	t.Setenv("SECRETS_SESSION_LIFETIME", "forever")
	if _, err := Load(); err == nil {
		t.Error("expected parse error for bad duration")
	}
}
