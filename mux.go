package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
)

// App wires the authenticators, sessions and pages into one http.Handler.
// All collaborators are passed in; nothing is global.
type App struct {
	Store    UserStore
	Sessions *SessionManager
	Local    *LocalAuth
	Broker   *Broker
	Renderer Renderer

	// Optional.  Limits credential posts when set.
	Limiter *RateLimiter

	// Optional.  Served on /metrics when set.
	MetricsHandler http.Handler

	Metrics Recorder
	Logger  *slog.Logger

	router *mux.Router
}

// Handler returns the complete handler with session loading and request logging
func (a *App) Handler() http.Handler {
	router := a.setupRoutes().router
	logged := NewLoggingMiddleware(a.logger(), func(r *http.Request) string {
		return a.Sessions.LoggedInUserID(r.Context())
	}, a.metrics().RecordRequest)(router)
	return a.Sessions.LoadAndSave(logged)
}

// Router returns the route table for callers that want to add their own routes
func (a *App) Router() *mux.Router {
	return a.setupRoutes().router
}

func (a *App) setupRoutes() *App {
	if a.router != nil {
		return a
	}
	gate := &Middleware{Sessions: a.Sessions, Logger: a.Logger, OnError: a.serverError}

	if a.Local.OnLoginError == nil {
		a.Local.OnLoginError = a.storeErrorPage
	}
	if a.Local.OnSignupError == nil {
		a.Local.OnSignupError = a.storeErrorPage
	}

	login := http.Handler(http.HandlerFunc(a.Local.HandleLogin))
	register := http.Handler(http.HandlerFunc(a.Local.HandleRegister))
	if a.Limiter != nil {
		if a.Limiter.OnLimited == nil {
			a.Limiter.OnLimited = func(w http.ResponseWriter, r *http.Request) {
				a.renderError(w, r, http.StatusTooManyRequests, "Too many attempts. Please wait a moment and try again.")
			}
		}
		if a.Limiter.Metrics == nil {
			a.Limiter.Metrics = a.Metrics
		}
		login = a.Limiter.Middleware("login")(login)
		register = a.Limiter.Middleware("register")(register)
	}

	r := mux.NewRouter()
	r.Handle("/", gate.ExtractUser(a.page(PageHome, ""))).Methods(http.MethodGet)
	r.Handle("/login", gate.ExtractUser(a.page(PageLogin, "Login"))).Methods(http.MethodGet)
	r.Handle("/login", login).Methods(http.MethodPost)
	r.Handle("/register", gate.ExtractUser(a.page(PageRegister, "Register"))).Methods(http.MethodGet)
	r.Handle("/register", register).Methods(http.MethodPost)
	r.Handle("/secrets", gate.EnsureUser(a.page(PageSecrets, "Secrets"))).Methods(http.MethodGet)
	r.HandleFunc("/logout", a.onLogout).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, "ok")
	}).Methods(http.MethodGet)
	if a.MetricsHandler != nil {
		r.Handle("/metrics", a.MetricsHandler).Methods(http.MethodGet)
	}

	if a.Broker != nil {
		for _, name := range a.Broker.ProviderNames() {
			r.HandleFunc("/auth/"+name, a.beginAuth(name)).Methods(http.MethodGet)
			r.HandleFunc("/auth/"+name+"/secrets", a.finishAuth(name)).Methods(http.MethodGet)
		}
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.renderError(w, r, http.StatusNotFound, "Page not found.")
	})
	a.router = r
	return a
}

// page renders a static page with the common data filled in
func (a *App) page(name, title string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.render(w, r, http.StatusOK, name, PageData{Title: title})
	})
}

func (a *App) beginAuth(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := a.Broker.BeginAuth(w, r, name); err != nil {
			if errors.Is(err, ErrUnknownProvider) {
				a.renderError(w, r, http.StatusNotFound, "Page not found.")
				return
			}
			a.serverError(err, w, r)
		}
	}
}

func (a *App) finishAuth(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := a.Broker.HandleCallback(r.Context(), name, r)
		clearStateCookie(w)

		var result CallbackResult
		select {
		case result = <-results:
		case <-r.Context().Done():
			a.logger().Warn("oauth callback abandoned", "provider", name, "err", r.Context().Err())
			return
		}
		if result.Err == nil && result.User == nil {
			result.Err = context.Canceled
		}

		if result.Err != nil {
			if errors.Is(result.Err, ErrStoreUnavailable) {
				a.serverError(result.Err, w, r)
				return
			}
			a.logger().Warn("oauth login failed", "provider", name, "err", result.Err)
			msg := fmt.Sprintf("Could not sign in with %s.", capitalize(name))
			if errors.Is(result.Err, ErrExternalIDTaken) {
				msg = fmt.Sprintf("That %s account belongs to another user.", capitalize(name))
			}
			a.Sessions.SetFlash(r.Context(), msg)
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}

		if _, err := a.Sessions.Establish(r.Context(), result.User); err != nil {
			a.serverError(err, w, r)
			return
		}
		a.logger().Info("oauth login", "provider", name, "user_id", result.User.ID,
			"created", result.Created, "linked", result.Linked)
		http.Redirect(w, r, "/secrets", http.StatusFound)
	}
}

func (a *App) onLogout(w http.ResponseWriter, r *http.Request) {
	if err := a.Sessions.Destroy(r.Context()); err != nil {
		a.serverError(err, w, r)
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (a *App) render(w http.ResponseWriter, r *http.Request, status int, page string, data PageData) {
	if data.User == nil {
		data.User = UserFromContext(r.Context())
	}
	if data.Flash == "" {
		data.Flash = a.Sessions.PopFlash(r.Context())
	}
	if a.Broker != nil && data.Providers == nil {
		data.Providers = a.Broker.ProviderNames()
	}
	if err := a.Renderer.Render(w, status, page, data); err != nil {
		a.logger().Error("render failed", "page", page, "err", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (a *App) renderError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	a.render(w, r, status, PageError, PageData{Title: http.StatusText(status), Message: msg})
}

// serverError logs err and shows the generic error page.  Details never reach the client.
func (a *App) serverError(err error, w http.ResponseWriter, r *http.Request) {
	a.logger().Error("request failed", "path", r.URL.Path, "err", err)
	a.renderError(w, r, http.StatusInternalServerError, "Something went wrong, please try again later.")
}

// storeErrorPage takes over local auth failures caused by the backend
func (a *App) storeErrorPage(err error, w http.ResponseWriter, r *http.Request) bool {
	if classifyOutcome(err) != OutcomeStoreError {
		return false
	}
	a.serverError(err, w, r)
	return true
}

func (a *App) metrics() Recorder {
	if a.Metrics != nil {
		return a.Metrics
	}
	return nopRecorder{}
}

func (a *App) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
