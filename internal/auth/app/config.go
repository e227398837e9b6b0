package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sableauth/sable/internal/auth/service"
)

// Lifetime policy bounds enforced by Validate. Values outside these ranges
// are almost certainly configuration mistakes.
const (
	minPersistentRefreshTTL = 24 * time.Hour
	maxPersistentRefreshTTL = 365 * 24 * time.Hour
	minSessionRefreshTTL    = 10 * time.Minute
	maxSessionRefreshTTL    = 30 * 24 * time.Hour
)

// Config is the process configuration, loaded from the environment.
type Config struct {
	Service   string
	Version   string
	Env       string
	LogLevel  string
	LogFormat string

	ListenAddr   string
	DatabasePath string
	RedisAddr    string
	PepperPath   string

	// SigningKey is the base64-encoded Ed25519 private key for access
	// tokens. Empty means an ephemeral per-process key.
	SigningKey string

	Issuer               string
	AccessTokenTTL       time.Duration
	PersistentRefreshTTL time.Duration
	SessionRefreshTTL    time.Duration
	ChallengeTTL         time.Duration
	StateTTL             time.Duration
	StampCacheTTL        time.Duration

	SweepInterval time.Duration
	SweepGrace    time.Duration

	AllowedRedirectURIs []string

	Providers []ProviderConfig
}

// ProviderConfig describes one external OAuth2 provider.
type ProviderConfig struct {
	Name          string
	ClientID      string
	ClientSecret  string
	AuthURL       string
	TokenURL      string
	RedirectURL   string
	Scopes        []string
	UserInfoURL   string
	IDField       string
	UsernameField string
	EmailField    string
}

// LoadConfig reads configuration from SABLE_* environment variables. A
// malformed duration is an error, not a silent fallback: misconfigured
// lifetimes must stop the process at startup.
func LoadConfig() (Config, error) {
	var errs []error
	duration := func(key string, fallback time.Duration) time.Duration {
		d, err := envDuration(key, fallback)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}

	cfg := Config{
		Service:   "sable-auth",
		Version:   envOr("SABLE_VERSION", "dev"),
		Env:       envOr("SABLE_ENV", "dev"),
		LogLevel:  envOr("SABLE_LOG_LEVEL", "info"),
		LogFormat: envOr("SABLE_LOG_FORMAT", "json"),

		ListenAddr:   envOr("SABLE_LISTEN_ADDR", ":8080"),
		DatabasePath: envOr("SABLE_DB_PATH", "sable.db"),
		RedisAddr:    os.Getenv("SABLE_REDIS_ADDR"),
		PepperPath:   envOr("SABLE_PEPPER_PATH", "data/pepper"),
		SigningKey:   os.Getenv("SABLE_SIGNING_KEY"),

		Issuer:               envOr("SABLE_ISSUER", "sable-auth"),
		AccessTokenTTL:       duration("SABLE_ACCESS_TOKEN_TTL", 15*time.Minute),
		PersistentRefreshTTL: duration("SABLE_PERSISTENT_REFRESH_TTL", service.DefaultPersistentRefreshTTL),
		SessionRefreshTTL:    duration("SABLE_SESSION_REFRESH_TTL", service.DefaultSessionRefreshTTL),
		ChallengeTTL:         duration("SABLE_CHALLENGE_TTL", service.DefaultChallengeTTL),
		StateTTL:             duration("SABLE_STATE_TTL", service.DefaultStateTTL),
		StampCacheTTL:        duration("SABLE_STAMP_CACHE_TTL", 30*time.Second),

		SweepInterval: duration("SABLE_SWEEP_INTERVAL", service.DefaultSweepInterval),
		SweepGrace:    duration("SABLE_SWEEP_GRACE", service.DefaultSweepGrace),
	}

	if uris := os.Getenv("SABLE_ALLOWED_REDIRECT_URIS"); uris != "" {
		for part := range strings.SplitSeq(uris, ",") {
			if part = strings.TrimSpace(part); part != "" {
				cfg.AllowedRedirectURIs = append(cfg.AllowedRedirectURIs, part)
			}
		}
	}

	for name := range strings.SplitSeq(os.Getenv("SABLE_PROVIDERS"), ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		cfg.Providers = append(cfg.Providers, loadProvider(name))
	}

	return cfg, errors.Join(errs...)
}

func loadProvider(name string) ProviderConfig {
	prefix := "SABLE_PROVIDER_" + strings.ToUpper(name) + "_"
	return ProviderConfig{
		Name:          name,
		ClientID:      os.Getenv(prefix + "CLIENT_ID"),
		ClientSecret:  os.Getenv(prefix + "CLIENT_SECRET"),
		AuthURL:       os.Getenv(prefix + "AUTH_URL"),
		TokenURL:      os.Getenv(prefix + "TOKEN_URL"),
		RedirectURL:   os.Getenv(prefix + "REDIRECT_URL"),
		Scopes:        splitNonEmpty(os.Getenv(prefix + "SCOPES")),
		UserInfoURL:   os.Getenv(prefix + "USERINFO_URL"),
		IDField:       os.Getenv(prefix + "ID_FIELD"),
		UsernameField: os.Getenv(prefix + "USERNAME_FIELD"),
		EmailField:    os.Getenv(prefix + "EMAIL_FIELD"),
	}
}

// Validate rejects configurations that would run but misbehave.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen address must not be empty")
	}
	if c.Issuer == "" {
		return fmt.Errorf("config: issuer must not be empty")
	}
	if c.AccessTokenTTL < time.Minute || c.AccessTokenTTL > time.Hour {
		return fmt.Errorf("config: access token TTL %s outside [1m, 1h]", c.AccessTokenTTL)
	}
	if c.PersistentRefreshTTL < minPersistentRefreshTTL || c.PersistentRefreshTTL > maxPersistentRefreshTTL {
		return fmt.Errorf("config: persistent refresh TTL %s outside [%s, %s]",
			c.PersistentRefreshTTL, minPersistentRefreshTTL, maxPersistentRefreshTTL)
	}
	if c.SessionRefreshTTL < minSessionRefreshTTL || c.SessionRefreshTTL > maxSessionRefreshTTL {
		return fmt.Errorf("config: session refresh TTL %s outside [%s, %s]",
			c.SessionRefreshTTL, minSessionRefreshTTL, maxSessionRefreshTTL)
	}
	if c.StampCacheTTL < 0 || c.StampCacheTTL > 5*time.Minute {
		return fmt.Errorf("config: stamp cache TTL %s outside [0, 5m]", c.StampCacheTTL)
	}
	if c.SessionRefreshTTL > c.PersistentRefreshTTL {
		return fmt.Errorf("config: session refresh TTL %s exceeds persistent %s",
			c.SessionRefreshTTL, c.PersistentRefreshTTL)
	}
	for _, p := range c.Providers {
		if p.ClientID == "" || p.ClientSecret == "" || p.AuthURL == "" || p.TokenURL == "" || p.UserInfoURL == "" {
			return fmt.Errorf("config: provider %q is missing required fields", p.Name)
		}
	}
	if len(c.Providers) > 0 && len(c.AllowedRedirectURIs) == 0 {
		return fmt.Errorf("config: providers configured but no allowed redirect URIs")
	}
	return nil
}

// ServiceConfig converts to the service-layer config.
func (c Config) ServiceConfig() service.Config {
	return service.Config{
		Issuer:               c.Issuer,
		AccessTokenTTL:       c.AccessTokenTTL,
		PersistentRefreshTTL: c.PersistentRefreshTTL,
		SessionRefreshTTL:    c.SessionRefreshTTL,
		ChallengeTTL:         c.ChallengeTTL,
		StateTTL:             c.StateTTL,
		AllowedRedirectURIs:  c.AllowedRedirectURIs,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("config: %s=%q is not a duration: %w", key, v, err)
	}
	return d, nil
}

func splitNonEmpty(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
