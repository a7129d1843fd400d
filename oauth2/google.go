package oauth2

import (
	"os"
	"strings"

	"github.com/panyam/secrets"
	"golang.org/x/oauth2/google"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

type GoogleOAuth2 struct {
	*BaseOAuth2
}

// NewGoogleOAuth2 creates a Google provider asking for the basic profile.
// Empty arguments fall back to CLIENT_ID, CLIENT_SECRET and a localhost callback.
func NewGoogleOAuth2(clientId string, clientSecret string, callbackUrl string) *GoogleOAuth2 {
	if clientId == "" {
		clientId = strings.TrimSpace(os.Getenv("CLIENT_ID"))
	}
	if clientSecret == "" {
		clientSecret = strings.TrimSpace(os.Getenv("CLIENT_SECRET"))
	}
	if callbackUrl == "" {
		callbackUrl = "http://localhost:3000/auth/google/secrets"
	}

	out := &GoogleOAuth2{
		BaseOAuth2: NewBaseOAuth2(secrets.ProviderGoogle, clientId, clientSecret, callbackUrl, google.Endpoint, "profile"),
	}
	out.UserInfoURL = googleUserInfoURL
	// OpenID userinfo identifies the account by "sub"
	out.IDField = "sub"
	return out
}
