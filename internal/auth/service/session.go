package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/sableauth/sable/internal/auth/domain"
	"github.com/sableauth/sable/internal/auth/store"
	"github.com/sableauth/sable/pkg/clockx"
	"github.com/sableauth/sable/pkg/cryptox"
	"github.com/sableauth/sable/pkg/idx"
	"github.com/sableauth/sable/pkg/jwtx"
	"github.com/sableauth/sable/pkg/slogx"
)

// SessionService handles password login, token issuance, refresh rotation
// and logout.
type SessionService struct {
	store  store.Store
	signer *jwtx.Signer
	perms  PermissionResolver
	stamps StampInvalidator
	notify NotificationSender
	clock  clockx.Clock
	cfg    Config
}

// SessionServiceParams collects the dependencies for NewSessionService.
// Stamps, Notify and Clock are optional.
type SessionServiceParams struct {
	Store       store.Store
	Signer      *jwtx.Signer
	Permissions PermissionResolver
	Stamps      StampInvalidator
	Notify      NotificationSender
	Clock       clockx.Clock
	Config      Config
}

func NewSessionService(p SessionServiceParams) *SessionService {
	if p.Clock == nil {
		p.Clock = clockx.System{}
	}
	if p.Stamps == nil {
		p.Stamps = noopStampInvalidator{}
	}
	if p.Notify == nil {
		p.Notify = &LogNotifier{}
	}
	return &SessionService{
		store:  p.Store,
		signer: p.Signer,
		perms:  p.Permissions,
		stamps: p.Stamps,
		notify: p.Notify,
		clock:  p.Clock,
		cfg:    p.Config,
	}
}

// Login verifies the first factor. Accounts with active 2FA get a challenge
// token instead of a token pair; the second factor completes the login.
// Unknown users, wrong passwords and locked accounts all report the same
// ErrInvalidCredentials.
func (s *SessionService) Login(ctx context.Context, username, password string, rememberMe bool) (domain.LoginResult, error) {
	user, err := s.store.Users().GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.LoginResult{}, ErrInvalidCredentials
		}
		return domain.LoginResult{}, fmt.Errorf("login: %w", err)
	}

	if !user.HasPassword() {
		return domain.LoginResult{}, ErrInvalidCredentials
	}
	if err := cryptox.VerifyPassword(password, user.PasswordHash); err != nil {
		return domain.LoginResult{}, ErrInvalidCredentials
	}
	if user.IsLocked() {
		return domain.LoginResult{}, ErrInvalidCredentials
	}

	if user.TwoFactorActive() {
		challenge, err := s.createChallenge(ctx, user.ID, rememberMe)
		if err != nil {
			return domain.LoginResult{}, err
		}
		return domain.LoginResult{RequiresTwoFactor: true, ChallengeToken: challenge}, nil
	}

	pair, err := s.issueTokens(ctx, s.store, user, rememberMe)
	if err != nil {
		return domain.LoginResult{}, err
	}
	return domain.LoginResult{Tokens: &pair}, nil
}

type rotateOutcome int

const (
	rotateInvalid rotateOutcome = iota
	rotateExpired
	rotateReuse
	rotateOK
)

// Refresh rotates a refresh token: the presented token is consumed and a
// fresh pair is issued. Presenting an already-consumed token is treated as
// evidence of theft: every live session for that user is revoked and the
// security stamp rotated. Those revocation writes commit even though the
// call itself fails.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	hash := cryptox.FingerprintToken(refreshToken)
	now := s.clock.Now()

	var (
		outcome      rotateOutcome
		pair         domain.TokenPair
		breachedUser string
	)

	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		row, err := tx.RefreshTokens().GetRefreshTokenByHash(ctx, hash)
		if errors.Is(err, store.ErrNotFound) {
			outcome = rotateInvalid
			return nil
		}
		if err != nil {
			return err
		}

		if row.Invalidated {
			outcome = rotateInvalid
			return nil
		}
		if row.Used {
			outcome = rotateReuse
			breachedUser = row.UserID
			return s.revokeUserSessionsTx(ctx, tx, row.UserID)
		}
		if now.After(row.ExpiresAt) {
			// Retire the row so it stops answering at all.
			if err := tx.RefreshTokens().InvalidateRefreshToken(ctx, hash, now); err != nil {
				return err
			}
			outcome = rotateExpired
			return nil
		}

		if err := tx.RefreshTokens().ConsumeRefreshToken(ctx, hash, now); err != nil {
			if errors.Is(err, store.ErrNoRowsAffected) {
				// Lost the rotation race: someone else consumed this token
				// between our read and our write.
				outcome = rotateReuse
				breachedUser = row.UserID
				return s.revokeUserSessionsTx(ctx, tx, row.UserID)
			}
			return err
		}

		user, err := tx.Users().GetUserByID(ctx, row.UserID)
		if err != nil {
			return err
		}
		if user.IsLocked() {
			outcome = rotateInvalid
			return nil
		}

		pair, err = s.issueTokens(ctx, tx, user, row.RememberMe)
		if err != nil {
			return err
		}
		outcome = rotateOK
		return nil
	})
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("refresh: %w", err)
	}

	switch outcome {
	case rotateOK:
		return pair, nil
	case rotateExpired:
		return domain.TokenPair{}, ErrTokenExpired
	case rotateReuse:
		s.stamps.Invalidate(ctx, breachedUser)
		s.notify.Notify(ctx, breachedUser, EventTokenReuse, nil)
		slogx.FromContext(ctx).Warn("refresh token reuse detected, sessions revoked",
			"user_id", breachedUser)
		return domain.TokenPair{}, ErrInvalidToken
	default:
		return domain.TokenPair{}, ErrInvalidToken
	}
}

// Logout invalidates the presented refresh token. Idempotent: unknown and
// already-dead tokens succeed silently.
func (s *SessionService) Logout(ctx context.Context, refreshToken string) error {
	hash := cryptox.FingerprintToken(refreshToken)
	err := s.store.RefreshTokens().InvalidateRefreshToken(ctx, hash, s.clock.Now())
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// RevokeAllSessions kills every session for a user: all refresh tokens are
// invalidated and the security stamp rotates so live access tokens die too.
func (s *SessionService) RevokeAllSessions(ctx context.Context, userID string) error {
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		return s.revokeUserSessionsTx(ctx, tx, userID)
	})
	if err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	s.stamps.Invalidate(ctx, userID)
	s.notify.Notify(ctx, userID, EventSessionsRevoked, nil)
	return nil
}

func (s *SessionService) revokeUserSessionsTx(ctx context.Context, tx store.Tx, userID string) error {
	if err := tx.RefreshTokens().InvalidateAllUserRefreshTokens(ctx, userID, s.clock.Now()); err != nil {
		return err
	}
	return tx.Users().UpdateSecurityStamp(ctx, userID, uuid.NewString())
}

// issueTokens mints an access/refresh pair for the user. st may be the root
// store or a transaction so rotation can persist the replacement token
// atomically with consuming the old one.
func (s *SessionService) issueTokens(ctx context.Context, st store.Store, user domain.User, rememberMe bool) (domain.TokenPair, error) {
	now := s.clock.Now()

	roles, err := st.Users().GetRoles(ctx, user.ID)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("issue tokens: load roles: %w", err)
	}
	roleNames := make([]string, 0, len(roles))
	for _, r := range roles {
		roleNames = append(roleNames, r.Name)
	}

	perms, err := s.resolvePermissions(ctx, roleNames)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("issue tokens: resolve permissions: %w", err)
	}

	ttl := s.cfg.AccessTokenTTL
	if ttl <= 0 {
		ttl = jwtx.DefaultAccessTokenTTL
	}

	claims := jwtx.NewAccessClaims(user.ID, roleNames, perms, user.SecurityStamp, ttl, s.cfg.Issuer, user.Username, now)
	access, err := s.signer.Sign(claims)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("issue tokens: sign: %w", err)
	}

	refresh, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("issue tokens: %w", err)
	}
	err = st.RefreshTokens().CreateRefreshToken(ctx, domain.RefreshToken{
		ID:         idx.New().String(),
		UserID:     user.ID,
		TokenHash:  cryptox.FingerprintToken(refresh),
		RememberMe: rememberMe,
		ExpiresAt:  now.Add(s.cfg.refreshTTL(rememberMe)),
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("issue tokens: store refresh: %w", err)
	}

	return domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(ttl.Seconds()),
	}, nil
}

// resolvePermissions computes the permission claims for a role set. A super
// role short-circuits to the full universe; built-in roles resolve through
// the compile-time table and custom roles through the resolver.
func (s *SessionService) resolvePermissions(ctx context.Context, roleNames []string) ([]string, error) {
	set := make(map[string]struct{})
	var custom []string

	for _, name := range roleNames {
		if name == domain.RoleSuper {
			return domain.AllPermissions(), nil
		}
		if defaults, ok := domain.DefaultRolePermissions[name]; ok {
			for _, p := range defaults {
				set[p] = struct{}{}
			}
			continue
		}
		custom = append(custom, name)
	}

	if len(custom) > 0 && s.perms != nil {
		resolved, err := s.perms.GetPermissionsForRoles(ctx, custom)
		if err != nil {
			return nil, err
		}
		for _, p := range resolved {
			set[p] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// createChallenge stores a pending 2FA challenge and returns the opaque
// token the client must echo back with a code.
func (s *SessionService) createChallenge(ctx context.Context, userID string, rememberMe bool) (string, error) {
	token, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", fmt.Errorf("create challenge: %w", err)
	}
	now := s.clock.Now()
	err = s.store.TwoFactorChallenges().CreateChallenge(ctx, domain.TwoFactorChallenge{
		ID:         idx.New().String(),
		UserID:     userID,
		TokenHash:  cryptox.FingerprintToken(token),
		RememberMe: rememberMe,
		ExpiresAt:  now.Add(s.cfg.challengeTTL()),
		CreatedAt:  now,
	})
	if err != nil {
		return "", fmt.Errorf("create challenge: %w", err)
	}
	return token, nil
}
