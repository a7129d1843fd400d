package secrets

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Cookie carrying the OAuth state between the redirect and the callback
const StateCookieName = "oauthstate"

// How long a user has to complete the provider consent screen
const DefaultStateTTL = 10 * time.Minute

type stateClaims struct {
	Provider string `json:"prv"`
	jwt.RegisteredClaims
}

// StateSigner issues and verifies OAuth state values.  A state is an HS256
// JWT naming the provider, with a random nonce as its ID.  It is echoed by the
// provider and must also match the state cookie set on redirect.
type StateSigner struct {
	Secret []byte
	TTL    time.Duration
	Issuer string
}

// NewStateSigner creates a signer.  An empty secret gets a random per-process key.
func NewStateSigner(secret string) (*StateSigner, error) {
	key := []byte(secret)
	if len(key) == 0 {
		random, err := GenerateSecureToken(32)
		if err != nil {
			return nil, err
		}
		key = []byte(random)
	}
	return &StateSigner{Secret: key, TTL: DefaultStateTTL, Issuer: "secrets"}, nil
}

// Issue creates a new state for the given provider
func (s *StateSigner) Issue(provider string) (string, error) {
	nonce, err := GenerateSecureToken(16)
	if err != nil {
		return "", err
	}
	now := time.Now()
	ttl := s.TTL
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, stateClaims{
		Provider: provider,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        nonce,
			Issuer:    s.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(s.Secret)
}

// Verify checks a state value was issued by us, is unexpired and belongs to provider
func (s *StateSigner) Verify(state, provider string) error {
	var claims stateClaims
	token, err := jwt.ParseWithClaims(state, &claims, func(t *jwt.Token) (any, error) {
		return s.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(s.Issuer))
	if err != nil {
		return err
	}
	if !token.Valid {
		return fmt.Errorf("invalid state token")
	}
	if claims.Provider != provider {
		return fmt.Errorf("state issued for %q, not %q", claims.Provider, provider)
	}
	return nil
}

func setStateCookie(w http.ResponseWriter, state string, ttl time.Duration, secure bool) {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:    StateCookieName,
		Value:   "",
		Path:    "/",
		MaxAge:  -1,
		Expires: time.Unix(0, 0),
	})
}
