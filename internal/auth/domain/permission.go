package domain

import "fmt"

// Permission constants are the compile-time universe of permission claims.
// Custom roles map to a subset of these through the role_permissions table;
// built-in roles map through DefaultRolePermissions. The super role implies
// the full universe and is never persisted as claims.
const (
	PermUsersRead    = "users:read"
	PermUsersWrite   = "users:write"
	PermUsersDelete  = "users:delete"
	PermUsersLock    = "users:lock"
	PermRolesRead    = "roles:read"
	PermRolesAssign  = "roles:assign"
	PermSessionsRead = "sessions:read"
	PermSessionsKill = "sessions:kill"
	PermSelfRead     = "self:read"
	PermSelfWrite    = "self:write"
)

// AllPermissions returns the full permission universe. The slice is freshly
// allocated so callers may mutate it.
func AllPermissions() []string {
	return []string{
		PermUsersRead,
		PermUsersWrite,
		PermUsersDelete,
		PermUsersLock,
		PermRolesRead,
		PermRolesAssign,
		PermSessionsRead,
		PermSessionsKill,
		PermSelfRead,
		PermSelfWrite,
	}
}

// DefaultRolePermissions maps built-in roles to their permission claims.
// The super role is absent on purpose: it bypasses claim resolution entirely.
var DefaultRolePermissions = map[string][]string{
	RoleAdmin: {
		PermUsersRead,
		PermUsersWrite,
		PermUsersLock,
		PermRolesRead,
		PermRolesAssign,
		PermSessionsRead,
		PermSessionsKill,
		PermSelfRead,
		PermSelfWrite,
	},
	RoleUser: {
		PermSelfRead,
		PermSelfWrite,
	},
}

// ValidatePermissionTable checks at startup that every permission named in
// DefaultRolePermissions exists in the universe. A typo fails fast rather
// than silently granting nothing.
func ValidatePermissionTable() error {
	universe := make(map[string]struct{})
	for _, p := range AllPermissions() {
		universe[p] = struct{}{}
	}
	for role, perms := range DefaultRolePermissions {
		for _, p := range perms {
			if _, ok := universe[p]; !ok {
				return fmt.Errorf("domain: role %q references unknown permission %q", role, p)
			}
		}
	}
	return nil
}
