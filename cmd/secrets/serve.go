package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/panyam/secrets"
	"github.com/panyam/secrets/config"
	"github.com/panyam/secrets/metrics"
	"github.com/panyam/secrets/oauth2"
	"github.com/panyam/secrets/stores/fs"
	"github.com/panyam/secrets/stores/gae"
	gormstore "github.com/panyam/secrets/stores/gorm"
)

func serveCmd() *cobra.Command {
	var addr, store string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			if store != "" {
				cfg.Store = store
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (overrides SECRETS_ADDR)")
	cmd.Flags().StringVar(&store, "store", "", "Store backend: fs, gorm or datastore (overrides SECRETS_STORE)")

	return cmd
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level, _ := cfg.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func runServer(ctx context.Context, cfg *config.Config, logOut io.Writer) error {
	logger := newLogger(cfg, logOut)
	slog.SetDefault(logger)

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	sessions := secrets.NewSessionManager(store, secrets.SessionConfig{
		Lifetime:     cfg.SessionLifetime,
		IdleTimeout:  cfg.SessionIdleTimeout,
		SecureCookie: cfg.SecureCookies(),
	}).WithMetrics(collector)

	state, err := secrets.NewStateSigner(cfg.StateSecret)
	if err != nil {
		return err
	}
	if cfg.StateSecret == "" {
		logger.Warn("SECRETS_STATE_SECRET not set, oauth state key is random for this process")
	}

	broker := secrets.NewBroker(store, sessions, state)
	broker.SecureCookie = cfg.SecureCookies()
	broker.Metrics = collector
	broker.Logger = logger
	if cfg.GoogleEnabled() {
		google := oauth2.NewGoogleOAuth2(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.CallbackURL(secrets.ProviderGoogle))
		google.SetScopes(cfg.GoogleScopes...)
		broker.AddProvider(google)
	}
	if cfg.FacebookEnabled() {
		facebook := oauth2.NewFacebookOAuth2(cfg.FacebookAppID, cfg.FacebookAppSecret, cfg.CallbackURL(secrets.ProviderFacebook))
		facebook.SetScopes(cfg.FacebookScopes...)
		broker.AddProvider(facebook)
	}
	logger.Info("oauth providers", "enabled", broker.ProviderNames())

	renderer, err := secrets.NewHTMLRenderer()
	if err != nil {
		return fmt.Errorf("failed to load views: %w", err)
	}

	var limiter *secrets.RateLimiter
	if cfg.RateLimit > 0 {
		limiter = secrets.NewRateLimiter(secrets.RateLimiterConfig{
			Rate:  rate.Limit(float64(cfg.RateLimit) / 60.0),
			Burst: cfg.RateBurst,
		})
		defer limiter.Stop()
	}

	app := &secrets.App{
		Store:    store,
		Sessions: sessions,
		Local: &secrets.LocalAuth{
			Store:        store,
			Sessions:     sessions,
			SignupPolicy: &secrets.SignupPolicy{MinPasswordLength: cfg.MinPasswordLength, MaxUsernameLength: 254},
			HashCost:     cfg.BcryptCost,
			Metrics:      collector,
			Logger:       logger,
		},
		Broker:         broker,
		Renderer:       renderer,
		Limiter:        limiter,
		MetricsHandler: metrics.Handler(reg),
		Metrics:        collector,
		Logger:         logger,
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server started", "addr", cfg.Addr, "store", cfg.Store, "version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// openStore builds the configured UserStore and returns its cleanup
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (secrets.UserStore, func(), error) {
	switch cfg.Store {
	case config.StoreFS:
		store, err := fs.NewFSUserStore(cfg.StorePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using file store", "path", cfg.StorePath)
		return store, func() {}, nil

	case config.StoreGORM:
		db, err := gorm.Open(sqlite.Open(cfg.DatabaseDSN), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		// SQLite allows a single writer
		sqlDB.SetMaxOpenConns(1)
		if err := gormstore.AutoMigrate(db); err != nil {
			sqlDB.Close()
			return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		logger.Info("using sql store", "dsn", cfg.DatabaseDSN)
		return gormstore.NewUserStore(db), func() { sqlDB.Close() }, nil

	case config.StoreDatastore:
		var opts []option.ClientOption
		if cfg.DatastoreCredentials != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.DatastoreCredentials))
		}
		client, err := datastore.NewClient(ctx, cfg.DatastoreProject, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create datastore client: %w", err)
		}
		logger.Info("using datastore", "project", cfg.DatastoreProject, "namespace", cfg.DatastoreNamespace)
		return gae.NewUserStore(client, cfg.DatastoreNamespace), func() { client.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
}
