// Package secrets serves a small site whose one protected page, /secrets, is
// only shown to logged in users.
//
// Users log in either with a local username and password or through an
// external OAuth provider (Google, Facebook). Either way the result is a
// server side session whose only value is the user's ID.
//
// # Architecture
//
// UserStore: persists users. Local accounts are keyed by username, OAuth
// accounts by (provider, profile id). Implementations live under stores/.
//
// LocalAuth: registers users and verifies their passwords.
//
// Broker: runs the OAuth redirect and callback for each configured Provider.
// The callback result is delivered on a channel.
//
// SessionManager: binds an opaque cookie token to a user ID using scs.
//
// App: the routes, gates and pages tying the above together.
//
// # Basic Usage
//
//	store, _ := fs.NewFSUserStore("./data")
//	sessions := secrets.NewSessionManager(store, secrets.SessionConfig{})
//	state, _ := secrets.NewStateSigner(os.Getenv("SECRETS_STATE_SECRET"))
//	google := oauth2.NewGoogleOAuth2(clientId, clientSecret, "http://localhost:3000/auth/google/secrets")
//	renderer, _ := secrets.NewHTMLRenderer()
//
//	app := &secrets.App{
//	    Store:    store,
//	    Sessions: sessions,
//	    Local:    &secrets.LocalAuth{Store: store, Sessions: sessions},
//	    Broker:   secrets.NewBroker(store, sessions, state, google),
//	    Renderer: renderer,
//	}
//	http.ListenAndServe(":3000", app.Handler())
//
// # Security
//
// Passwords are hashed with bcrypt. Login verifies the password before the
// session is touched and the session token is renewed on every login. OAuth
// state is a short lived HS256 token that must match the state cookie.
package secrets
