package oauth2

import (
	"os"
	"strings"

	"github.com/panyam/secrets"
	"golang.org/x/oauth2/facebook"
)

const facebookUserInfoURL = "https://graph.facebook.com/me?fields=id,name"

type FacebookOAuth2 struct {
	*BaseOAuth2
}

// NewFacebookOAuth2 creates a Facebook provider.  Empty arguments fall back to
// APP_ID, APP_SECRET and a localhost callback.
func NewFacebookOAuth2(appId string, appSecret string, callbackUrl string) *FacebookOAuth2 {
	if appId == "" {
		appId = strings.TrimSpace(os.Getenv("APP_ID"))
	}
	if appSecret == "" {
		appSecret = strings.TrimSpace(os.Getenv("APP_SECRET"))
	}
	if callbackUrl == "" {
		callbackUrl = "http://localhost:3000/auth/facebook/secrets"
	}

	out := &FacebookOAuth2{
		BaseOAuth2: NewBaseOAuth2(secrets.ProviderFacebook, appId, appSecret, callbackUrl, facebook.Endpoint, "public_profile"),
	}
	out.UserInfoURL = facebookUserInfoURL
	return out
}
