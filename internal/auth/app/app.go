// Package app wires configuration, storage, caches and HTTP into a runnable
// service.
package app

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sableauth/sable/internal/auth/cache"
	"github.com/sableauth/sable/internal/auth/domain"
	authhttp "github.com/sableauth/sable/internal/auth/http"
	"github.com/sableauth/sable/internal/auth/service"
	"github.com/sableauth/sable/internal/auth/store"
	"github.com/sableauth/sable/internal/auth/store/drivers/sqlite"
	"github.com/sableauth/sable/pkg/clockx"
	"github.com/sableauth/sable/pkg/cryptox"
	"github.com/sableauth/sable/pkg/jwtx"
	"github.com/sableauth/sable/pkg/slogx"
)

// App is the assembled service.
type App struct {
	cfg   Config
	log   *slog.Logger
	store store.Store
	rdb   *redis.Client

	handler     http.Handler
	housekeeper *service.Housekeeper
}

// New builds the app: opens the store, applies migrations, connects Redis
// when configured and wires the services.
func New(cfg Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := domain.ValidatePermissionTable(); err != nil {
		return nil, err
	}

	log := slogx.New(slogx.Config{
		Service: cfg.Service,
		Version: cfg.Version,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})

	cryptox.SetPepperPath(cfg.PepperPath)

	st, err := sqlite.NewStore(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.ApplyMigrations(); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable at startup, caches will degrade to store", "err", err)
		}
	}

	signer, err := buildSigner(cfg.SigningKey)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	verifier := jwtx.NewVerifier(cfg.Issuer)
	verifier.AddSigner(signer)

	clock := clockx.System{}
	var rdbUniversal redis.UniversalClient
	if rdb != nil {
		rdbUniversal = rdb
	}
	stamps := cache.NewStampCache(rdbUniversal, st.Users(), cfg.StampCacheTTL)
	perms := cache.NewPermissionCache(rdbUniversal, st.Roles(), 0)
	notify := &service.LogNotifier{Log: log}

	svcCfg := cfg.ServiceConfig()
	sessions := service.NewSessionService(service.SessionServiceParams{
		Store:       st,
		Signer:      signer,
		Permissions: perms,
		Stamps:      stamps,
		Notify:      notify,
		Clock:       clock,
		Config:      svcCfg,
	})
	twofactor := service.NewTwoFactorService(service.TwoFactorServiceParams{
		Store:    st,
		Sessions: sessions,
		Stamps:   stamps,
		Notify:   notify,
		Clock:    clock,
		Config:   svcCfg,
	})

	providers := make([]service.IdentityProvider, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providers = append(providers, service.NewOAuth2Provider(service.OAuth2ProviderOpts{
			Name:          p.Name,
			ClientID:      p.ClientID,
			ClientSecret:  p.ClientSecret,
			AuthURL:       p.AuthURL,
			TokenURL:      p.TokenURL,
			RedirectURL:   p.RedirectURL,
			Scopes:        p.Scopes,
			UserInfoURL:   p.UserInfoURL,
			IDField:       p.IDField,
			UsernameField: p.UsernameField,
			EmailField:    p.EmailField,
		}))
	}
	external := service.NewExternalService(service.ExternalServiceParams{
		Store:     st,
		Providers: providers,
		Sessions:  sessions,
		Stamps:    stamps,
		Notify:    notify,
		Clock:     clock,
		Config:    svcCfg,
	})
	admin := service.NewAdminService(service.AdminServiceParams{
		Store:     st,
		Stamps:    stamps,
		PermCache: perms,
		Notify:    notify,
		Clock:     clock,
	})

	var readyChecks []func() error
	if rdb != nil {
		readyChecks = append(readyChecks, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return rdb.Ping(ctx).Err()
		})
	}

	handler := authhttp.NewHandler(authhttp.HandlerParams{
		Sessions:    sessions,
		TwoFactor:   twofactor,
		External:    external,
		Admin:       admin,
		Verifier:    verifier,
		Stamps:      stamps,
		Store:       st,
		Clock:       clock,
		ReadyChecks: readyChecks,
	})

	return &App{
		cfg:         cfg,
		log:         log,
		store:       st,
		rdb:         rdb,
		handler:     slogx.HTTPMiddleware(log)(handler.Routes()),
		housekeeper: service.NewHousekeeper(st, clock, cfg.SweepInterval, cfg.SweepGrace),
	}, nil
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go a.housekeeper.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("listening", "addr", a.cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		a.log.Info("shut down cleanly")
		return a.closeResources()
	case err := <-errCh:
		_ = a.closeResources()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (a *App) closeResources() error {
	var firstErr error
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// buildSigner decodes the configured Ed25519 key or, when absent, generates
// an ephemeral one. Ephemeral keys mean access tokens die on restart, which
// refresh rotation absorbs.
func buildSigner(encoded string) (*jwtx.Signer, error) {
	if encoded == "" {
		return jwtx.GenerateSigner("primary")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode signing key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signing key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	return jwtx.NewSigner("primary", ed25519.PrivateKey(raw))
}
