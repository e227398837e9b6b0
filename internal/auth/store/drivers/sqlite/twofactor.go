package sqlite

import (
	"context"
	"time"

	"github.com/sableauth/sable/internal/auth/domain"
	"github.com/sableauth/sable/internal/auth/store"
)

type twoFactorRepo struct {
	q dbtx
}

func (r *twoFactorRepo) CreateChallenge(ctx context.Context, c domain.TwoFactorChallenge) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO twofactor_challenges (id, user_id, token_hash, remember_me,
			failed_attempts, used, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.TokenHash, c.RememberMe,
		c.FailedAttempts, c.Used, c.ExpiresAt, c.CreatedAt,
	)
	return mapConstraint(err)
}

func (r *twoFactorRepo) GetChallengeByHash(
	ctx context.Context,
	hash string,
) (domain.TwoFactorChallenge, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, user_id, token_hash, remember_me, failed_attempts, used,
			expires_at, created_at
		FROM twofactor_challenges WHERE token_hash = ?`, hash)

	var c domain.TwoFactorChallenge
	err := row.Scan(&c.ID, &c.UserID, &c.TokenHash, &c.RememberMe,
		&c.FailedAttempts, &c.Used, &c.ExpiresAt, &c.CreatedAt)
	if err != nil {
		return domain.TwoFactorChallenge{}, mapNotFound(err)
	}
	return c, nil
}

// IncrementFailedAttempts bumps the counter in a single UPDATE so the lockout
// threshold stays exact under concurrent guesses.
func (r *twoFactorRepo) IncrementFailedAttempts(ctx context.Context, hash string) (int, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE twofactor_challenges SET failed_attempts = failed_attempts + 1
		WHERE token_hash = ?`, hash)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, store.ErrNotFound
	}

	var attempts int
	err = r.q.QueryRowContext(ctx,
		`SELECT failed_attempts FROM twofactor_challenges WHERE token_hash = ?`, hash).
		Scan(&attempts)
	if err != nil {
		return 0, mapNotFound(err)
	}
	return attempts, nil
}

func (r *twoFactorRepo) ConsumeChallenge(ctx context.Context, hash string) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE twofactor_challenges SET used = 1
		WHERE token_hash = ? AND used = 0`, hash)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNoRowsAffected
	}
	return nil
}

func (r *twoFactorRepo) DeleteExpiredChallenges(ctx context.Context, cutoff time.Time) error {
	_, err := r.q.ExecContext(ctx, `
		DELETE FROM twofactor_challenges
		WHERE expires_at < ? OR (used = 1 AND created_at < ?)`, cutoff, cutoff)
	return err
}
