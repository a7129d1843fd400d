package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
)

// Provider is an external identity provider we can send users to
type Provider interface {
	// Name is the route segment and the namespace of the provider's profile ids
	Name() string

	// AuthCodeURL returns the consent screen URL carrying state
	AuthCodeURL(state string) string

	// Exchange trades an authorization code for the user's profile
	Exchange(ctx context.Context, code string) (*ExternalProfile, error)
}

// CallbackResult is the outcome of a provider callback
type CallbackResult struct {
	User    *User
	Created bool // a new user was made for an unseen profile id
	Linked  bool // the profile id was attached to the already logged in user
	Err     error
}

// Broker federates identity through external OAuth providers
type Broker struct {
	Store    UserStore
	Sessions *SessionManager
	State    *StateSigner

	// Set Secure on the state cookie
	SecureCookie bool

	Metrics Recorder
	Logger  *slog.Logger

	providers map[string]Provider
}

// NewBroker creates a broker for the given providers.  Nil providers are skipped
// so callers can pass through unconfigured ones.
func NewBroker(store UserStore, sessions *SessionManager, state *StateSigner, providers ...Provider) *Broker {
	b := &Broker{Store: store, Sessions: sessions, State: state, providers: map[string]Provider{}}
	for _, p := range providers {
		b.AddProvider(p)
	}
	return b
}

// AddProvider registers a provider under its name
func (b *Broker) AddProvider(p Provider) {
	if p == nil {
		return
	}
	if b.providers == nil {
		b.providers = map[string]Provider{}
	}
	b.providers[p.Name()] = p
}

// Provider returns the provider registered under name
func (b *Broker) Provider(name string) (Provider, bool) {
	p, ok := b.providers[name]
	return p, ok
}

// ProviderNames returns the registered provider names in sorted order
func (b *Broker) ProviderNames() []string {
	out := make([]string, 0, len(b.providers))
	for name := range b.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// BeginAuth sends the user to the provider's consent screen.  No user or
// session state changes.
func (b *Broker) BeginAuth(w http.ResponseWriter, r *http.Request, name string) error {
	p, ok := b.Provider(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	state, err := b.State.Issue(name)
	if err != nil {
		return fmt.Errorf("failed to issue oauth state: %w", err)
	}
	setStateCookie(w, state, b.State.TTL, b.SecureCookie)
	http.Redirect(w, r, p.AuthCodeURL(state), http.StatusFound)
	return nil
}

// HandleCallback verifies a provider callback and maps the profile to a user.
// Everything needed from the request is read before returning; the exchange
// and the store work finish on the returned channel, which yields exactly one
// result.  Cancelling ctx abandons the exchange.
func (b *Broker) HandleCallback(ctx context.Context, name string, r *http.Request) <-chan CallbackResult {
	out := make(chan CallbackResult, 1)

	fail := func(err error) <-chan CallbackResult {
		b.metrics().RecordAuth(name, classifyOutcome(err))
		out <- CallbackResult{Err: err}
		close(out)
		return out
	}

	p, ok := b.Provider(name)
	if !ok {
		return fail(fmt.Errorf("%w: %s", ErrUnknownProvider, name))
	}

	query := r.URL.Query()
	if err := b.checkState(r, name); err != nil {
		return fail(NewProviderError(name, "invalid state", err))
	}
	if denied := query.Get("error"); denied != "" {
		reason := denied
		if desc := query.Get("error_description"); desc != "" {
			reason = denied + ": " + desc
		}
		return fail(NewProviderError(name, reason, nil))
	}
	code := query.Get("code")
	if code == "" {
		return fail(NewProviderError(name, "missing authorization code", nil))
	}

	var linkTo string
	if b.Sessions != nil {
		linkTo = b.Sessions.LoggedInUserID(r.Context())
	}

	go func() {
		defer close(out)
		result := b.complete(ctx, p, code, linkTo)
		b.metrics().RecordAuth(name, classifyOutcome(result.Err))
		select {
		case out <- result:
		case <-ctx.Done():
		}
	}()
	return out
}

func (b *Broker) checkState(r *http.Request, name string) error {
	cookie, err := r.Cookie(StateCookieName)
	if err != nil || cookie.Value == "" {
		return errors.New("no state cookie")
	}
	state := r.URL.Query().Get("state")
	if state == "" || state != cookie.Value {
		return errors.New("state does not match cookie")
	}
	return b.State.Verify(state, name)
}

func (b *Broker) complete(ctx context.Context, p Provider, code, linkTo string) CallbackResult {
	name := p.Name()
	profile, err := p.Exchange(ctx, code)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return CallbackResult{Err: ctxErr}
		}
		if errors.Is(err, ErrProvider) {
			return CallbackResult{Err: err}
		}
		return CallbackResult{Err: NewProviderError(name, "code exchange failed", err)}
	}
	if profile == nil || profile.ID == "" {
		return CallbackResult{Err: NewProviderError(name, "profile has no id", nil)}
	}

	if linkTo != "" {
		user, err := b.Store.LinkExternalID(ctx, linkTo, name, profile.ID)
		switch {
		case err == nil:
			b.logger().Info("linked external id", "provider", name, "user_id", user.ID)
			return CallbackResult{User: user, Linked: true}
		case errors.Is(err, ErrUserNotFound):
			// Session points at a user that is gone, log in as the profile owner instead
			b.logger().Warn("link target missing", "provider", name, "user_id", linkTo)
		default:
			return CallbackResult{Err: err}
		}
	}

	user, created, err := b.Store.FindOrCreateByExternalID(ctx, name, profile.ID)
	if err != nil {
		return CallbackResult{Err: err}
	}
	if created {
		b.logger().Info("created user from provider", "provider", name, "user_id", user.ID)
	}
	return CallbackResult{User: user, Created: created}
}

func (b *Broker) metrics() Recorder {
	if b.Metrics != nil {
		return b.Metrics
	}
	return nopRecorder{}
}

func (b *Broker) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}
