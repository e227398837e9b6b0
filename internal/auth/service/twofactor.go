package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/sableauth/sable/internal/auth/domain"
	"github.com/sableauth/sable/internal/auth/store"
	"github.com/sableauth/sable/pkg/clockx"
	"github.com/sableauth/sable/pkg/cryptox"
	"github.com/sableauth/sable/pkg/slogx"
)

// MaxChallengeAttempts is the failed-code budget per challenge. After the
// fifth failure every further attempt reports the challenge locked; the user
// must log in again to get a new one.
const MaxChallengeAttempts = 5

// RecoveryCodeCount is how many single-use recovery codes a user holds
// after enrollment or regeneration.
const RecoveryCodeCount = 10

// TwoFactorService manages TOTP enrollment and the login-time challenge
// lifecycle.
type TwoFactorService struct {
	store    store.Store
	sessions *SessionService
	stamps   StampInvalidator
	notify   NotificationSender
	clock    clockx.Clock
	cfg      Config
}

type TwoFactorServiceParams struct {
	Store    store.Store
	Sessions *SessionService
	Stamps   StampInvalidator
	Notify   NotificationSender
	Clock    clockx.Clock
	Config   Config
}

func NewTwoFactorService(p TwoFactorServiceParams) *TwoFactorService {
	if p.Clock == nil {
		p.Clock = clockx.System{}
	}
	if p.Stamps == nil {
		p.Stamps = noopStampInvalidator{}
	}
	if p.Notify == nil {
		p.Notify = &LogNotifier{}
	}
	return &TwoFactorService{
		store:    p.Store,
		sessions: p.Sessions,
		stamps:   p.Stamps,
		notify:   p.Notify,
		clock:    p.Clock,
		cfg:      p.Config,
	}
}

// VerifyCode completes a login challenge with a TOTP code. Wrong codes bump
// the challenge's failed-attempt counter; crossing the budget locks the
// challenge for good.
func (s *TwoFactorService) VerifyCode(ctx context.Context, challengeToken, code string) (domain.TokenPair, error) {
	challenge, user, err := s.loadChallenge(ctx, challengeToken)
	if err != nil {
		return domain.TokenPair{}, err
	}

	if !s.validateTOTP(code, *user.TwoFactorSecret) {
		return domain.TokenPair{}, s.recordFailure(ctx, challenge)
	}

	return s.completeChallenge(ctx, challenge, user)
}

// VerifyRecoveryCode completes a login challenge with a single-use recovery
// code. The code is consumed whether or not anything later fails.
func (s *TwoFactorService) VerifyRecoveryCode(ctx context.Context, challengeToken, code string) (domain.TokenPair, error) {
	challenge, user, err := s.loadChallenge(ctx, challengeToken)
	if err != nil {
		return domain.TokenPair{}, err
	}

	consumed, err := s.store.RecoveryCodes().ConsumeRecoveryCode(ctx, user.ID, cryptox.FingerprintToken(code))
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("verify recovery code: %w", err)
	}
	if !consumed {
		return domain.TokenPair{}, s.recordFailure(ctx, challenge)
	}

	remaining, err := s.store.RecoveryCodes().CountRecoveryCodes(ctx, user.ID)
	if err != nil {
		remaining = -1
	}
	s.notify.Notify(ctx, user.ID, EventRecoveryCodeUsed, map[string]any{"remaining": remaining})

	return s.completeChallenge(ctx, challenge, user)
}

// Setup starts TOTP enrollment: a fresh secret is generated and stored
// pending, but 2FA only activates once VerifySetup sees a valid code.
// Calling Setup again before verification replaces the pending secret.
func (s *TwoFactorService) Setup(ctx context.Context, userID string) (domain.TwoFactorSetup, error) {
	user, err := s.store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return domain.TwoFactorSetup{}, s.mapUserErr(err)
	}
	if user.TwoFactorActive() {
		return domain.TwoFactorSetup{}, ErrTwoFactorAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.cfg.Issuer,
		AccountName: user.Username,
	})
	if err != nil {
		return domain.TwoFactorSetup{}, fmt.Errorf("totp generate: %w", err)
	}

	if err := s.store.Users().UpdateTwoFactorSecret(ctx, userID, key.Secret()); err != nil {
		return domain.TwoFactorSetup{}, fmt.Errorf("store totp secret: %w", err)
	}

	return domain.TwoFactorSetup{
		Secret:     key.Secret(),
		OTPAuthURL: key.URL(),
		Issuer:     s.cfg.Issuer,
		Account:    user.Username,
	}, nil
}

// VerifySetup activates 2FA once the user proves they captured the secret.
// Returns the plaintext recovery codes, shown exactly once. The security
// stamp rotates, so existing access tokens stop validating.
func (s *TwoFactorService) VerifySetup(ctx context.Context, userID, code string) ([]string, error) {
	user, err := s.store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return nil, s.mapUserErr(err)
	}
	if user.TwoFactorActive() {
		return nil, ErrTwoFactorAlreadyEnabled
	}
	if user.TwoFactorSecret == nil || *user.TwoFactorSecret == "" {
		return nil, ErrTwoFactorSetupPending
	}
	if !s.validateTOTP(code, *user.TwoFactorSecret) {
		return nil, ErrInvalidCode
	}

	var codes []string
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().EnableTwoFactor(ctx, userID, s.clock.Now()); err != nil {
			return err
		}
		codes, err = s.replaceRecoveryCodesTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		return tx.Users().UpdateSecurityStamp(ctx, userID, uuid.NewString())
	})
	if err != nil {
		return nil, fmt.Errorf("enable two-factor: %w", err)
	}

	s.stamps.Invalidate(ctx, userID)
	s.notify.Notify(ctx, userID, EventTwoFactorEnabled, nil)
	return codes, nil
}

// Disable turns 2FA off. Requires a current TOTP code so a hijacked session
// can't silently weaken the account. Recovery codes are purged and the
// security stamp rotates.
func (s *TwoFactorService) Disable(ctx context.Context, userID, code string) error {
	user, err := s.store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return s.mapUserErr(err)
	}
	if !user.TwoFactorActive() {
		return ErrTwoFactorNotEnabled
	}
	if !s.validateTOTP(code, *user.TwoFactorSecret) {
		return ErrInvalidCode
	}

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().DisableTwoFactor(ctx, userID); err != nil {
			return err
		}
		if err := tx.RecoveryCodes().DeleteAllRecoveryCodes(ctx, userID); err != nil {
			return err
		}
		return tx.Users().UpdateSecurityStamp(ctx, userID, uuid.NewString())
	})
	if err != nil {
		return fmt.Errorf("disable two-factor: %w", err)
	}

	s.stamps.Invalidate(ctx, userID)
	s.notify.Notify(ctx, userID, EventTwoFactorDisabled, nil)
	return nil
}

// RegenerateRecoveryCodes replaces the user's recovery code set. Requires a
// current TOTP code. Old codes die immediately.
func (s *TwoFactorService) RegenerateRecoveryCodes(ctx context.Context, userID, code string) ([]string, error) {
	user, err := s.store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return nil, s.mapUserErr(err)
	}
	if !user.TwoFactorActive() {
		return nil, ErrTwoFactorNotEnabled
	}
	if !s.validateTOTP(code, *user.TwoFactorSecret) {
		return nil, ErrInvalidCode
	}

	var codes []string
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		codes, err = s.replaceRecoveryCodesTx(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("regenerate recovery codes: %w", err)
	}
	return codes, nil
}

// loadChallenge fetches and gate-checks a challenge, returning its user.
// Expired, consumed and unknown challenges are indistinguishable to the
// caller.
func (s *TwoFactorService) loadChallenge(ctx context.Context, challengeToken string) (domain.TwoFactorChallenge, domain.User, error) {
	hash := cryptox.FingerprintToken(challengeToken)

	challenge, err := s.store.TwoFactorChallenges().GetChallengeByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.TwoFactorChallenge{}, domain.User{}, ErrChallengeNotFound
		}
		return domain.TwoFactorChallenge{}, domain.User{}, fmt.Errorf("load challenge: %w", err)
	}

	if challenge.Used || s.clock.Now().After(challenge.ExpiresAt) {
		return domain.TwoFactorChallenge{}, domain.User{}, ErrChallengeNotFound
	}
	if challenge.FailedAttempts >= MaxChallengeAttempts {
		return domain.TwoFactorChallenge{}, domain.User{}, ErrChallengeLocked
	}

	user, err := s.store.Users().GetUserByID(ctx, challenge.UserID)
	if err != nil {
		return domain.TwoFactorChallenge{}, domain.User{}, fmt.Errorf("load challenge user: %w", err)
	}
	if user.IsLocked() || !user.TwoFactorActive() {
		return domain.TwoFactorChallenge{}, domain.User{}, ErrChallengeNotFound
	}

	return challenge, user, nil
}

// recordFailure bumps the failed-attempt counter and reports the wrong code.
// Crossing the attempt budget does not change this call's answer; the lock is
// observed by whatever arrives next, via the loadChallenge gate.
func (s *TwoFactorService) recordFailure(ctx context.Context, challenge domain.TwoFactorChallenge) error {
	attempts, err := s.store.TwoFactorChallenges().IncrementFailedAttempts(ctx, challenge.TokenHash)
	if err != nil {
		return fmt.Errorf("record failed attempt: %w", err)
	}
	if attempts >= MaxChallengeAttempts {
		slogx.FromContext(ctx).Warn("two-factor challenge locked",
			"user_id", challenge.UserID, "attempts", attempts)
	}
	return ErrInvalidCode
}

// completeChallenge consumes the challenge and issues tokens. The CAS on
// consumption guarantees a challenge answers at most once even under
// concurrent submissions.
func (s *TwoFactorService) completeChallenge(ctx context.Context, challenge domain.TwoFactorChallenge, user domain.User) (domain.TokenPair, error) {
	if err := s.store.TwoFactorChallenges().ConsumeChallenge(ctx, challenge.TokenHash); err != nil {
		if errors.Is(err, store.ErrNoRowsAffected) {
			return domain.TokenPair{}, ErrChallengeNotFound
		}
		return domain.TokenPair{}, fmt.Errorf("consume challenge: %w", err)
	}
	return s.sessions.issueTokens(ctx, s.store, user, challenge.RememberMe)
}

func (s *TwoFactorService) replaceRecoveryCodesTx(ctx context.Context, tx store.Tx, userID string) ([]string, error) {
	if err := tx.RecoveryCodes().DeleteAllRecoveryCodes(ctx, userID); err != nil {
		return nil, err
	}
	codes := make([]string, 0, RecoveryCodeCount)
	for range RecoveryCodeCount {
		code, err := cryptox.GenerateToken(cryptox.TokenSize128)
		if err != nil {
			return nil, err
		}
		if err := tx.RecoveryCodes().CreateRecoveryCode(ctx, userID, cryptox.FingerprintToken(code)); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, nil
}

func (s *TwoFactorService) validateTOTP(code, secret string) bool {
	ok, err := totp.ValidateCustom(code, secret, s.clock.Now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

func (s *TwoFactorService) mapUserErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}
