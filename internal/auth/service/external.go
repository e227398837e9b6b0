package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sableauth/sable/internal/auth/domain"
	"github.com/sableauth/sable/internal/auth/store"
	"github.com/sableauth/sable/pkg/clockx"
	"github.com/sableauth/sable/pkg/cryptox"
	"github.com/sableauth/sable/pkg/idx"
	"github.com/sableauth/sable/pkg/slogx"
)

// ExternalService runs the external-provider flows: starting an
// authorization round trip, handling the callback and managing linked
// identities.
type ExternalService struct {
	store     store.Store
	providers map[string]IdentityProvider
	sessions  *SessionService
	stamps    StampInvalidator
	notify    NotificationSender
	clock     clockx.Clock
	cfg       Config
}

type ExternalServiceParams struct {
	Store     store.Store
	Providers []IdentityProvider
	Sessions  *SessionService
	Stamps    StampInvalidator
	Notify    NotificationSender
	Clock     clockx.Clock
	Config    Config
}

func NewExternalService(p ExternalServiceParams) *ExternalService {
	if p.Clock == nil {
		p.Clock = clockx.System{}
	}
	if p.Stamps == nil {
		p.Stamps = noopStampInvalidator{}
	}
	if p.Notify == nil {
		p.Notify = &LogNotifier{}
	}
	providers := make(map[string]IdentityProvider, len(p.Providers))
	for _, prov := range p.Providers {
		providers[prov.Name()] = prov
	}
	return &ExternalService{
		store:     p.Store,
		providers: providers,
		sessions:  p.Sessions,
		stamps:    p.Stamps,
		notify:    p.Notify,
		clock:     p.Clock,
		cfg:       p.Config,
	}
}

// CreateChallenge starts an authorization round trip and returns the
// provider authorization URL. Only the SHA-256 fingerprint of the state
// value is stored; the plaintext leaves exactly once, inside the URL.
// A non-nil linkUserID marks this as a link flow for an already
// authenticated caller.
func (s *ExternalService) CreateChallenge(ctx context.Context, providerName, redirectURI string, linkUserID *string) (string, error) {
	provider, ok := s.providers[providerName]
	if !ok {
		return "", ErrUnknownProvider
	}
	if !s.redirectAllowed(redirectURI) {
		return "", ErrRedirectURINotAllowed
	}

	state, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", fmt.Errorf("external challenge: %w", err)
	}

	now := s.clock.Now()
	err = s.store.ExternalAuthStates().CreateState(ctx, domain.ExternalAuthState{
		ID:          idx.New().String(),
		TokenHash:   cryptox.FingerprintToken(state),
		Provider:    providerName,
		RedirectURI: redirectURI,
		UserID:      linkUserID,
		ExpiresAt:   now.Add(s.cfg.stateTTL()),
		CreatedAt:   now,
	})
	if err != nil {
		return "", fmt.Errorf("external challenge: %w", err)
	}

	return provider.AuthCodeURL(state), nil
}

// HandleCallback finishes the round trip. The state token is consumed
// atomically, so a replayed callback fails with ErrInvalidState. The second
// return value is the whitelisted redirect URI captured at challenge time.
func (s *ExternalService) HandleCallback(ctx context.Context, state, code string) (domain.CallbackOutcome, string, error) {
	row, err := s.store.ExternalAuthStates().ConsumeStateByHash(ctx, cryptox.FingerprintToken(state))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.CallbackOutcome{}, "", ErrInvalidState
		}
		return domain.CallbackOutcome{}, "", fmt.Errorf("external callback: %w", err)
	}
	if s.clock.Now().After(row.ExpiresAt) {
		return domain.CallbackOutcome{}, "", ErrInvalidState
	}

	provider, ok := s.providers[row.Provider]
	if !ok {
		return domain.CallbackOutcome{}, "", ErrUnknownProvider
	}

	ext, err := provider.Exchange(ctx, code)
	if err != nil {
		return domain.CallbackOutcome{}, "", fmt.Errorf("external callback: %w", err)
	}

	if row.UserID != nil {
		outcome, err := s.linkIdentity(ctx, *row.UserID, row.Provider, ext)
		return outcome, row.RedirectURI, err
	}

	outcome, err := s.loginOrRegister(ctx, row.Provider, ext)
	return outcome, row.RedirectURI, err
}

// UnlinkProvider removes a linked identity. A passwordless account keeps at
// least one identity, otherwise the user locks themselves out.
func (s *ExternalService) UnlinkProvider(ctx context.Context, userID, providerName string) error {
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		user, err := tx.Users().GetUserByID(ctx, userID)
		if err != nil {
			return err
		}
		if !user.HasPassword() {
			count, err := tx.ExternalIdentities().CountIdentitiesForUser(ctx, userID)
			if err != nil {
				return err
			}
			if count <= 1 {
				return ErrLastAuthMethod
			}
		}
		if err := tx.ExternalIdentities().DeleteIdentity(ctx, userID, providerName); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrIdentityNotFound
			}
			return err
		}
		return tx.Users().UpdateSecurityStamp(ctx, userID, uuid.NewString())
	})
	if err != nil {
		if errors.Is(err, ErrLastAuthMethod) || errors.Is(err, ErrIdentityNotFound) {
			return err
		}
		return fmt.Errorf("unlink provider: %w", err)
	}

	s.stamps.Invalidate(ctx, userID)
	s.notify.Notify(ctx, userID, EventProviderUnlinked, map[string]any{"provider": providerName})
	return nil
}

// ListIdentities returns the identities linked to a user.
func (s *ExternalService) ListIdentities(ctx context.Context, userID string) ([]domain.ExternalIdentity, error) {
	return s.store.ExternalIdentities().ListIdentitiesForUser(ctx, userID)
}

func (s *ExternalService) linkIdentity(ctx context.Context, userID, providerName string, ext domain.ExternalUser) (domain.CallbackOutcome, error) {
	outcome := domain.CallbackOutcome{IsLinkOnly: true, Provider: providerName}

	existing, err := s.store.ExternalIdentities().GetIdentity(ctx, providerName, ext.ID)
	switch {
	case err == nil:
		if existing.UserID == userID {
			// Relinking the same identity is a no-op.
			return outcome, nil
		}
		return domain.CallbackOutcome{}, ErrIdentityAlreadyLinked
	case errors.Is(err, store.ErrNotFound):
	default:
		return domain.CallbackOutcome{}, fmt.Errorf("link identity: %w", err)
	}

	err = s.store.ExternalIdentities().CreateIdentity(ctx, domain.ExternalIdentity{
		UserID:           userID,
		Provider:         providerName,
		ProviderUserID:   ext.ID,
		ProviderUsername: ext.Username,
		CreatedAt:        s.clock.Now(),
	})
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.CallbackOutcome{}, ErrIdentityAlreadyLinked
		}
		return domain.CallbackOutcome{}, fmt.Errorf("link identity: %w", err)
	}

	s.notify.Notify(ctx, userID, EventProviderLinked, map[string]any{"provider": providerName})
	return outcome, nil
}

func (s *ExternalService) loginOrRegister(ctx context.Context, providerName string, ext domain.ExternalUser) (domain.CallbackOutcome, error) {
	identity, err := s.store.ExternalIdentities().GetIdentity(ctx, providerName, ext.ID)
	switch {
	case err == nil:
		return s.loginExisting(ctx, providerName, identity)
	case errors.Is(err, store.ErrNotFound):
		return s.registerNewUser(ctx, providerName, ext)
	default:
		return domain.CallbackOutcome{}, fmt.Errorf("external login: %w", err)
	}
}

func (s *ExternalService) loginExisting(ctx context.Context, providerName string, identity domain.ExternalIdentity) (domain.CallbackOutcome, error) {
	user, err := s.store.Users().GetUserByID(ctx, identity.UserID)
	if err != nil {
		return domain.CallbackOutcome{}, fmt.Errorf("external login: %w", err)
	}
	if user.IsLocked() {
		return domain.CallbackOutcome{}, ErrInvalidCredentials
	}

	// External logins get session-lifetime refresh tokens; the second
	// factor still applies when enabled.
	if user.TwoFactorActive() {
		challenge, err := s.sessions.createChallenge(ctx, user.ID, false)
		if err != nil {
			return domain.CallbackOutcome{}, err
		}
		return domain.CallbackOutcome{
			Provider: providerName,
			Login:    &domain.LoginResult{RequiresTwoFactor: true, ChallengeToken: challenge},
		}, nil
	}

	pair, err := s.sessions.issueTokens(ctx, s.store, user, false)
	if err != nil {
		return domain.CallbackOutcome{}, err
	}
	return domain.CallbackOutcome{
		Provider: providerName,
		Login:    &domain.LoginResult{Tokens: &pair},
	}, nil
}

// registerNewUser provisions a passwordless account from the provider
// identity and links it in the same transaction.
func (s *ExternalService) registerNewUser(ctx context.Context, providerName string, ext domain.ExternalUser) (domain.CallbackOutcome, error) {
	now := s.clock.Now()
	user := domain.User{
		ID:            idx.New().String(),
		Username:      s.pickUsername(ext.Username),
		Email:         ext.Email,
		SecurityStamp: uuid.NewString(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().CreateUser(ctx, user); err != nil {
			if !errors.Is(err, store.ErrAlreadyExists) {
				return err
			}
			// Username collision: retry once with a random suffix.
			user.Username = s.pickUsername("")
			if err := tx.Users().CreateUser(ctx, user); err != nil {
				return err
			}
		}

		role, err := tx.Roles().GetRoleByName(ctx, domain.RoleUser)
		if err != nil {
			return err
		}
		if err := tx.Users().AddRole(ctx, user.ID, role.ID); err != nil {
			return err
		}

		return tx.ExternalIdentities().CreateIdentity(ctx, domain.ExternalIdentity{
			UserID:           user.ID,
			Provider:         providerName,
			ProviderUserID:   ext.ID,
			ProviderUsername: ext.Username,
			CreatedAt:        now,
		})
	})
	if err != nil {
		return domain.CallbackOutcome{}, fmt.Errorf("external register: %w", err)
	}

	slogx.FromContext(ctx).Info("provisioned user from external provider",
		"user_id", user.ID, "provider", providerName)

	pair, err := s.sessions.issueTokens(ctx, s.store, user, false)
	if err != nil {
		return domain.CallbackOutcome{}, err
	}
	return domain.CallbackOutcome{
		Provider:  providerName,
		IsNewUser: true,
		Login:     &domain.LoginResult{Tokens: &pair},
	}, nil
}

// pickUsername normalises the provider username, falling back to a random
// handle when it is empty.
func (s *ExternalService) pickUsername(base string) string {
	base = strings.ToLower(strings.TrimSpace(base))
	if base == "" {
		return "user-" + strings.ToLower(cryptox.MustGenerateToken(6))
	}
	return base
}

func (s *ExternalService) redirectAllowed(uri string) bool {
	if uri == "" {
		return false
	}
	for _, allowed := range s.cfg.AllowedRedirectURIs {
		if uri == allowed {
			return true
		}
	}
	return false
}
