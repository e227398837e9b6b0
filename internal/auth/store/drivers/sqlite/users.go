package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/sableauth/sable/internal/auth/domain"
	"github.com/sableauth/sable/internal/auth/store"
)

type usersRepo struct {
	q dbtx
}

const userColumns = `id, username, email, password_hash, security_stamp,
	twofactor_secret, twofactor_enabled, locked_at, created_at, updated_at`

func scanUser(row *sql.Row) (domain.User, error) {
	var u domain.User
	var secret sql.NullString
	var tfEnabled, lockedAt sql.NullTime
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.SecurityStamp,
		&secret, &tfEnabled, &lockedAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	u.TwoFactorSecret = mapNullStringPtr(secret)
	u.TwoFactorEnabled = mapNullTimePtr(tfEnabled)
	u.LockedAt = mapNullTimePtr(lockedAt)
	return u, nil
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (r *usersRepo) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	return scanUser(r.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username))
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, security_stamp,
			twofactor_secret, twofactor_enabled, locked_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.SecurityStamp,
		mapOptionalString(u.TwoFactorSecret), nullTime(u.TwoFactorEnabled),
		nullTime(u.LockedAt), u.CreatedAt, u.UpdatedAt,
	)
	return mapConstraint(err)
}

func (r *usersRepo) UpdatePasswordHash(ctx context.Context, userID, newHash string) error {
	return r.exec(ctx,
		`UPDATE users SET password_hash = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		newHash, userID)
}

func (r *usersRepo) UpdateSecurityStamp(ctx context.Context, userID, stamp string) error {
	return r.exec(ctx,
		`UPDATE users SET security_stamp = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		stamp, userID)
}

func (r *usersRepo) GetSecurityStamp(ctx context.Context, userID string) (string, error) {
	var stamp string
	err := r.q.QueryRowContext(ctx,
		`SELECT security_stamp FROM users WHERE id = ?`, userID).Scan(&stamp)
	if err != nil {
		return "", mapNotFound(err)
	}
	return stamp, nil
}

func (r *usersRepo) GetRoles(ctx context.Context, userID string) ([]domain.Role, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT r.id, r.name, r.rank, r.created_at, r.updated_at
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = ?
		ORDER BY r.rank DESC, r.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []domain.Role
	for rows.Next() {
		var role domain.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Rank, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (r *usersRepo) AddRole(ctx context.Context, userID, roleID string) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO user_roles (user_id, role_id) VALUES (?, ?)`, userID, roleID)
	return mapConstraint(err)
}

func (r *usersRepo) RemoveRole(ctx context.Context, userID, roleID string) error {
	return r.exec(ctx,
		`DELETE FROM user_roles WHERE user_id = ? AND role_id = ?`, userID, roleID)
}

func (r *usersRepo) LockUser(ctx context.Context, userID string, at time.Time) error {
	return r.exec(ctx,
		`UPDATE users SET locked_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		at, userID)
}

func (r *usersRepo) DeleteUser(ctx context.Context, userID string) error {
	return r.exec(ctx, `DELETE FROM users WHERE id = ?`, userID)
}

func (r *usersRepo) UpdateTwoFactorSecret(ctx context.Context, userID, secret string) error {
	return r.exec(ctx,
		`UPDATE users SET twofactor_secret = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		secret, userID)
}

func (r *usersRepo) EnableTwoFactor(ctx context.Context, userID string, at time.Time) error {
	return r.exec(ctx,
		`UPDATE users SET twofactor_enabled = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		at, userID)
}

func (r *usersRepo) DisableTwoFactor(ctx context.Context, userID string) error {
	return r.exec(ctx, `
		UPDATE users SET twofactor_enabled = NULL, twofactor_secret = NULL,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, userID)
}

// exec runs a mutation that must touch an existing row.
func (r *usersRepo) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
