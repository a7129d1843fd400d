package oauth2

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/panyam/secrets"
	"golang.org/x/oauth2"
)

// Largest user info body we are willing to read
const maxUserInfoBytes = 1 << 20

// BaseOAuth2 holds what every authorization code provider shares: the client
// config, where to fetch the profile and which field is the profile id.
type BaseOAuth2 struct {
	// UserInfoURL is fetched with the access token after the exchange.
	// Can be overridden for testing.
	UserInfoURL string

	// Field of the user info payload holding the profile id
	IDField string

	// Used for the exchange and the user info request.  Defaults to http.DefaultClient.
	HTTPClient *http.Client

	name        string
	oauthConfig oauth2.Config
}

func NewBaseOAuth2(name, clientId, clientSecret, callbackUrl string, endpoint oauth2.Endpoint, scopes ...string) *BaseOAuth2 {
	return &BaseOAuth2{
		IDField: "id",
		name:    name,
		oauthConfig: oauth2.Config{
			ClientID:     clientId,
			ClientSecret: clientSecret,
			RedirectURL:  callbackUrl,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
	}
}

// Name returns the provider name used in routes and external ids
func (b *BaseOAuth2) Name() string {
	return b.name
}

// Config exposes the underlying oauth2 config, eg to point it at a test server
func (b *BaseOAuth2) Config() *oauth2.Config {
	return &b.oauthConfig
}

// SetOAuthEndpoint points the token exchange at a different server
func (b *BaseOAuth2) SetOAuthEndpoint(endpoint oauth2.Endpoint) {
	b.oauthConfig.Endpoint = endpoint
}

// SetHTTPClient sets the client used for the exchange and user info requests
func (b *BaseOAuth2) SetHTTPClient(client *http.Client) {
	b.HTTPClient = client
}

// SetScopes replaces the requested scopes
func (b *BaseOAuth2) SetScopes(scopes ...string) {
	if len(scopes) > 0 {
		b.oauthConfig.Scopes = scopes
	}
}

// AuthCodeURL returns the consent screen URL for state
func (b *BaseOAuth2) AuthCodeURL(state string) string {
	return b.oauthConfig.AuthCodeURL(state)
}

// Exchange trades code for a token and fetches the user's profile with it
func (b *BaseOAuth2) Exchange(ctx context.Context, code string) (*secrets.ExternalProfile, error) {
	if b.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, b.HTTPClient)
	}
	token, err := b.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, secrets.NewProviderError(b.name, "code exchange failed", err)
	}

	info, err := b.fetchUserInfo(ctx, token)
	if err != nil {
		return nil, secrets.NewProviderError(b.name, "user info failed", err)
	}

	id := stringField(info, b.IDField)
	if id == "" {
		return nil, secrets.NewProviderError(b.name, fmt.Sprintf("user info has no %q", b.IDField), nil)
	}
	return &secrets.ExternalProfile{
		Provider: b.name,
		ID:       id,
		Name:     stringField(info, "name"),
		Raw:      info,
	}, nil
}

func (b *BaseOAuth2) fetchUserInfo(ctx context.Context, token *oauth2.Token) (map[string]any, error) {
	client := b.oauthConfig.Client(ctx, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.UserInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed getting user info: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserInfoBytes))
	if err != nil {
		return nil, fmt.Errorf("failed read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user info returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var info map[string]any
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(&info); err != nil {
		return nil, fmt.Errorf("invalid user info: %w", err)
	}
	return info, nil
}

// stringField reads a string or numeric field as a string
func stringField(info map[string]any, field string) string {
	switch v := info[field].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
