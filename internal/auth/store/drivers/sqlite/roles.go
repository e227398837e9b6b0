package sqlite

import (
	"context"
	"database/sql"

	"github.com/sableauth/sable/internal/auth/domain"
)

type rolesRepo struct {
	q dbtx
}

func scanRole(row *sql.Row) (domain.Role, error) {
	var r domain.Role
	err := row.Scan(&r.ID, &r.Name, &r.Rank, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return domain.Role{}, mapNotFound(err)
	}
	return r, nil
}

func (r *rolesRepo) GetRoleByID(ctx context.Context, id string) (domain.Role, error) {
	return scanRole(r.q.QueryRowContext(ctx,
		`SELECT id, name, rank, created_at, updated_at FROM roles WHERE id = ?`, id))
}

func (r *rolesRepo) GetRoleByName(ctx context.Context, name string) (domain.Role, error) {
	return scanRole(r.q.QueryRowContext(ctx,
		`SELECT id, name, rank, created_at, updated_at FROM roles WHERE name = ?`, name))
}

func (r *rolesRepo) ListAll(ctx context.Context) ([]domain.Role, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, name, rank, created_at, updated_at FROM roles ORDER BY rank DESC, name`)
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

func (r *rolesRepo) CreateRole(ctx context.Context, role domain.Role) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO roles (id, name, rank, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		role.ID, role.Name, role.Rank, role.CreatedAt, role.UpdatedAt)
	return mapConstraint(err)
}

func (r *rolesRepo) DeleteRole(ctx context.Context, roleID string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM roles WHERE id = ?`, roleID)
	return err
}

func (r *rolesRepo) GetPermissionsForRoles(
	ctx context.Context,
	roleNames []string,
) ([]string, error) {
	if len(roleNames) == 0 {
		return nil, nil
	}

	query := `
		SELECT DISTINCT rp.permission
		FROM role_permissions rp
		JOIN roles r ON r.id = rp.role_id
		WHERE r.name IN (?` + repeatPlaceholder(len(roleNames)-1) + `)
		ORDER BY rp.permission`

	args := make([]any, len(roleNames))
	for i, n := range roleNames {
		args[i] = n
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (r *rolesRepo) SetRolePermissions(ctx context.Context, roleID string, permissions []string) error {
	if _, err := r.q.ExecContext(ctx,
		`DELETE FROM role_permissions WHERE role_id = ?`, roleID); err != nil {
		return err
	}
	for _, p := range permissions {
		if _, err := r.q.ExecContext(ctx,
			`INSERT INTO role_permissions (role_id, permission) VALUES (?, ?)`,
			roleID, p); err != nil {
			return mapConstraint(err)
		}
	}
	return nil
}

func repeatPlaceholder(n int) string {
	out := ""
	for range n {
		out += ", ?"
	}
	return out
}
