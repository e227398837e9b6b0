package sqlite

import (
	"context"
)

type recoveryCodesRepo struct {
	q dbtx
}

func (r *recoveryCodesRepo) CreateRecoveryCode(ctx context.Context, userID, codeHash string) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO recovery_codes (user_id, code_hash) VALUES (?, ?)`,
		userID, codeHash)
	return mapConstraint(err)
}

// ConsumeRecoveryCode deletes the code in one statement; the row count tells
// us whether it existed, which makes the code single-use by construction.
func (r *recoveryCodesRepo) ConsumeRecoveryCode(
	ctx context.Context,
	userID, codeHash string,
) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		DELETE FROM recovery_codes WHERE user_id = ? AND code_hash = ?`,
		userID, codeHash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *recoveryCodesRepo) DeleteAllRecoveryCodes(ctx context.Context, userID string) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM recovery_codes WHERE user_id = ?`, userID)
	return err
}

func (r *recoveryCodesRepo) CountRecoveryCodes(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recovery_codes WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}
