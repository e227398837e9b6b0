package sqlite

import (
	"context"
	"time"

	"github.com/sableauth/sable/internal/auth/domain"
	"github.com/sableauth/sable/internal/auth/store"
)

type refreshTokensRepo struct {
	q dbtx
}

func (r *refreshTokensRepo) CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token_hash, remember_me,
			used, invalidated, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.TokenHash, t.RememberMe,
		t.Used, t.Invalidated, t.ExpiresAt, t.CreatedAt, t.UpdatedAt,
	)
	return mapConstraint(err)
}

func (r *refreshTokensRepo) GetRefreshTokenByHash(
	ctx context.Context,
	hash string,
) (domain.RefreshToken, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, user_id, token_hash, remember_me, used, invalidated,
			expires_at, created_at, updated_at
		FROM refresh_tokens WHERE token_hash = ?`, hash)

	var t domain.RefreshToken
	err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.RememberMe, &t.Used,
		&t.Invalidated, &t.ExpiresAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return domain.RefreshToken{}, mapNotFound(err)
	}
	return t, nil
}

// ConsumeRefreshToken is the rotation check-and-set: the WHERE clause makes
// sure only one of any number of concurrent callers flips the row.
func (r *refreshTokensRepo) ConsumeRefreshToken(ctx context.Context, hash string, at time.Time) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE refresh_tokens SET used = 1, updated_at = ?
		WHERE token_hash = ? AND used = 0 AND invalidated = 0`, at, hash)
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

func (r *refreshTokensRepo) InvalidateRefreshToken(ctx context.Context, hash string, at time.Time) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE refresh_tokens SET invalidated = 1, updated_at = ?
		WHERE token_hash = ?`, at, hash)
	return err
}

func (r *refreshTokensRepo) InvalidateAllUserRefreshTokens(
	ctx context.Context,
	userID string,
	at time.Time,
) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE refresh_tokens SET invalidated = 1, updated_at = ?
		WHERE user_id = ? AND invalidated = 0`, at, userID)
	return err
}

func (r *refreshTokensRepo) DeleteExpiredRefreshTokens(ctx context.Context, cutoff time.Time) error {
	_, err := r.q.ExecContext(ctx, `
		DELETE FROM refresh_tokens
		WHERE expires_at < ? OR (used = 1 AND updated_at < ?)`, cutoff, cutoff)
	return err
}
