package secrets_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/panyam/secrets"
	"github.com/panyam/secrets/stores/fs"
)

// testEnv bundles a store, sessions and local auth over a temp directory
type testEnv struct {
	Store    *fs.FSUserStore
	Sessions *secrets.SessionManager
	Local    *secrets.LocalAuth
	Recorder *recordingRecorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := fs.NewFSUserStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	rec := newRecordingRecorder()
	sessions := secrets.NewSessionManager(store, secrets.SessionConfig{}).WithMetrics(rec)
	return &testEnv{
		Store:    store,
		Sessions: sessions,
		Recorder: rec,
		Local: &secrets.LocalAuth{
			Store:    store,
			Sessions: sessions,
			HashCost: 4, // bcrypt.MinCost keeps tests fast
			Metrics:  rec,
		},
	}
}

// sessionRequest returns a request whose context carries a fresh anonymous session
func (e *testEnv) sessionRequest(t *testing.T, method, target string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(method, target, nil)
	ctx, err := e.Sessions.Load(r.Context(), "")
	if err != nil {
		t.Fatalf("Failed to load session: %v", err)
	}
	return r.WithContext(ctx)
}

// loginToken establishes a session for user and returns its token
func (e *testEnv) loginToken(t *testing.T, user *secrets.User) string {
	t.Helper()
	ctx, err := e.Sessions.Load(context.Background(), "")
	if err != nil {
		t.Fatalf("Failed to load session: %v", err)
	}
	token, err := e.Sessions.Establish(ctx, user)
	if err != nil {
		t.Fatalf("Establish failed: %v", err)
	}
	return token
}

// registerUser creates a local user directly through LocalAuth
func (e *testEnv) registerUser(t *testing.T, username, password string) *secrets.User {
	t.Helper()
	user, err := e.Local.Register(context.Background(), username, password)
	if err != nil {
		t.Fatalf("Register(%q) failed: %v", username, err)
	}
	return user
}

// fakeProvider maps authorization codes to profile ids
type fakeProvider struct {
	name     string
	profiles map[string]string

	// Exchange fails with this error when set
	err error

	// Exchange waits on this channel when set
	block chan struct{}
}

func newFakeProvider(name string, profiles map[string]string) *fakeProvider {
	return &fakeProvider{name: name, profiles: profiles}
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) AuthCodeURL(state string) string {
	return "https://" + p.name + ".test/consent?state=" + url.QueryEscape(state)
}

func (p *fakeProvider) Exchange(ctx context.Context, code string) (*secrets.ExternalProfile, error) {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	id, ok := p.profiles[code]
	if !ok {
		return nil, errors.New("invalid_grant")
	}
	return &secrets.ExternalProfile{Provider: p.name, ID: id}, nil
}

// recordingRecorder counts every event it sees
type recordingRecorder struct {
	mu       sync.Mutex
	auth     map[string]int // "method/outcome"
	sessions map[string]int
	requests map[int]int
}

func newRecordingRecorder() *recordingRecorder {
	return &recordingRecorder{auth: map[string]int{}, sessions: map[string]int{}, requests: map[int]int{}}
}

func (r *recordingRecorder) RecordAuth(method, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auth[method+"/"+outcome]++
}

func (r *recordingRecorder) RecordSession(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[event]++
}

func (r *recordingRecorder) RecordRequest(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[code]++
}

func (r *recordingRecorder) authCount(method, outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.auth[method+"/"+outcome]
}

func (r *recordingRecorder) sessionCount(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[event]
}

// failingStore fails every lookup with a backend error
type failingStore struct {
	secrets.UserStore
}

var errBackendDown = errors.New("connection refused")

func (failingStore) GetUserById(ctx context.Context, userId string) (*secrets.User, error) {
	return nil, secrets.StoreError("get user", errBackendDown)
}

func (failingStore) GetUserByUsername(ctx context.Context, username string) (*secrets.User, error) {
	return nil, secrets.StoreError("get username", errBackendDown)
}

func (failingStore) FindOrCreateByExternalID(ctx context.Context, provider, externalID string) (*secrets.User, bool, error) {
	return nil, false, secrets.StoreError("find or create", errBackendDown)
}
