package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/sableauth/sable/internal/auth/domain"
	"github.com/sableauth/sable/internal/auth/store"
	"github.com/sableauth/sable/pkg/clockx"
	"github.com/sableauth/sable/pkg/idx"
	"github.com/sableauth/sable/pkg/slogx"
)

// PermissionCacheInvalidator drops cached permission sets after an admin
// edits role grants.
type PermissionCacheInvalidator interface {
	InvalidateRoles(ctx context.Context, roles ...string)
}

type noopPermInvalidator struct{}

func (noopPermInvalidator) InvalidateRoles(context.Context, ...string) {}

// AdminService carries the administrative operations. Permission checks
// happen in the HTTP middleware; this layer enforces the rank rules on top:
// an actor may only act on targets of strictly lower rank, never on
// themselves, and may only grant roles ranked strictly below their own.
type AdminService struct {
	store     store.Store
	stamps    StampInvalidator
	permCache PermissionCacheInvalidator
	notify    NotificationSender
	clock     clockx.Clock
}

type AdminServiceParams struct {
	Store     store.Store
	Stamps    StampInvalidator
	PermCache PermissionCacheInvalidator
	Notify    NotificationSender
	Clock     clockx.Clock
}

func NewAdminService(p AdminServiceParams) *AdminService {
	if p.Clock == nil {
		p.Clock = clockx.System{}
	}
	if p.Stamps == nil {
		p.Stamps = noopStampInvalidator{}
	}
	if p.PermCache == nil {
		p.PermCache = noopPermInvalidator{}
	}
	if p.Notify == nil {
		p.Notify = &LogNotifier{}
	}
	return &AdminService{
		store:     p.Store,
		stamps:    p.Stamps,
		permCache: p.PermCache,
		notify:    p.Notify,
		clock:     p.Clock,
	}
}

// AssignRole grants a role to a target user. The role's rank must be
// strictly below the actor's, which also means nobody can hand out the
// super role; it exists only through seeding.
func (s *AdminService) AssignRole(ctx context.Context, actorID, targetID, roleName string) error {
	if actorID == targetID {
		return ErrSelfActionForbidden
	}

	actorRank, err := s.userRank(ctx, actorID)
	if err != nil {
		return err
	}
	targetRank, err := s.userRank(ctx, targetID)
	if err != nil {
		return err
	}
	if targetRank >= actorRank || domain.RankOf(roleName) >= actorRank {
		return ErrInsufficientRank
	}

	role, err := s.store.Roles().GetRoleByName(ctx, roleName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrRoleNotFound
		}
		return fmt.Errorf("assign role: %w", err)
	}

	if err := s.store.Users().AddRole(ctx, targetID, role.ID); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil
		}
		return fmt.Errorf("assign role: %w", err)
	}

	// New role means new claims; kill the target's minted tokens.
	return s.rotateStamp(ctx, targetID)
}

// RemoveRole revokes a role from a target of strictly lower rank.
func (s *AdminService) RemoveRole(ctx context.Context, actorID, targetID, roleName string) error {
	if actorID == targetID {
		return ErrSelfActionForbidden
	}

	actorRank, err := s.userRank(ctx, actorID)
	if err != nil {
		return err
	}
	targetRank, err := s.userRank(ctx, targetID)
	if err != nil {
		return err
	}
	if targetRank >= actorRank {
		return ErrInsufficientRank
	}

	role, err := s.store.Roles().GetRoleByName(ctx, roleName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrRoleNotFound
		}
		return fmt.Errorf("remove role: %w", err)
	}

	if err := s.store.Users().RemoveRole(ctx, targetID, role.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("remove role: %w", err)
	}

	return s.rotateStamp(ctx, targetID)
}

// LockUser locks a lower-ranked account and revokes all its sessions.
func (s *AdminService) LockUser(ctx context.Context, actorID, targetID string) error {
	if actorID == targetID {
		return ErrSelfActionForbidden
	}

	actorRank, err := s.userRank(ctx, actorID)
	if err != nil {
		return err
	}
	targetRank, err := s.userRank(ctx, targetID)
	if err != nil {
		return err
	}
	if targetRank >= actorRank {
		return ErrInsufficientRank
	}

	now := s.clock.Now()
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().LockUser(ctx, targetID, now); err != nil {
			return err
		}
		if err := tx.RefreshTokens().InvalidateAllUserRefreshTokens(ctx, targetID, now); err != nil {
			return err
		}
		return tx.Users().UpdateSecurityStamp(ctx, targetID, uuid.NewString())
	})
	if err != nil {
		return fmt.Errorf("lock user: %w", err)
	}

	s.stamps.Invalidate(ctx, targetID)
	s.notify.Notify(ctx, targetID, EventAccountLocked, map[string]any{"actor_id": actorID})
	slogx.FromContext(ctx).Info("user locked", "target_id", targetID, "actor_id", actorID)
	return nil
}

// DeleteUser removes a lower-ranked account. The store cascades tokens,
// challenges, recovery codes and identities.
func (s *AdminService) DeleteUser(ctx context.Context, actorID, targetID string) error {
	if actorID == targetID {
		return ErrSelfActionForbidden
	}

	actorRank, err := s.userRank(ctx, actorID)
	if err != nil {
		return err
	}
	targetRank, err := s.userRank(ctx, targetID)
	if err != nil {
		return err
	}
	if targetRank >= actorRank {
		return ErrInsufficientRank
	}

	if err := s.store.Users().DeleteUser(ctx, targetID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("delete user: %w", err)
	}

	s.stamps.Invalidate(ctx, targetID)
	slogx.FromContext(ctx).Info("user deleted", "target_id", targetID, "actor_id", actorID)
	return nil
}

// ListRoles returns every role.
func (s *AdminService) ListRoles(ctx context.Context) ([]domain.Role, error) {
	return s.store.Roles().ListAll(ctx)
}

// CreateRole creates a custom role. Custom roles always sit at rank zero;
// the built-in role set is fixed.
func (s *AdminService) CreateRole(ctx context.Context, name string, permissions []string) error {
	if domain.RankOf(name) != domain.RankCustom {
		return ErrInsufficientRank
	}
	if err := validatePermissions(permissions); err != nil {
		return err
	}

	now := s.clock.Now()
	role := domain.Role{
		ID:        idx.New().String(),
		Name:      name,
		Rank:      domain.RankCustom,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Roles().CreateRole(ctx, role); err != nil {
			return err
		}
		return tx.Roles().SetRolePermissions(ctx, role.ID, permissions)
	})
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("create role: %w", err)
	}
	return nil
}

// SetRolePermissions replaces a custom role's permission grants and drops
// any cached resolution of them.
func (s *AdminService) SetRolePermissions(ctx context.Context, roleName string, permissions []string) error {
	if domain.RankOf(roleName) != domain.RankCustom {
		return ErrInsufficientRank
	}
	if err := validatePermissions(permissions); err != nil {
		return err
	}

	role, err := s.store.Roles().GetRoleByName(ctx, roleName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrRoleNotFound
		}
		return fmt.Errorf("set role permissions: %w", err)
	}

	if err := s.store.Roles().SetRolePermissions(ctx, role.ID, permissions); err != nil {
		return fmt.Errorf("set role permissions: %w", err)
	}

	s.permCache.InvalidateRoles(ctx, roleName)
	return nil
}

// DeleteRole removes a custom role. Built-in roles cannot be deleted.
func (s *AdminService) DeleteRole(ctx context.Context, roleName string) error {
	if domain.RankOf(roleName) != domain.RankCustom {
		return ErrInsufficientRank
	}

	role, err := s.store.Roles().GetRoleByName(ctx, roleName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrRoleNotFound
		}
		return fmt.Errorf("delete role: %w", err)
	}

	if err := s.store.Roles().DeleteRole(ctx, role.ID); err != nil {
		return fmt.Errorf("delete role: %w", err)
	}

	s.permCache.InvalidateRoles(ctx, roleName)
	return nil
}

func (s *AdminService) userRank(ctx context.Context, userID string) (int, error) {
	roles, err := s.store.Users().GetRoles(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("load roles: %w", err)
	}
	return domain.HighestRank(roles), nil
}

func (s *AdminService) rotateStamp(ctx context.Context, userID string) error {
	if err := s.store.Users().UpdateSecurityStamp(ctx, userID, uuid.NewString()); err != nil {
		return fmt.Errorf("rotate stamp: %w", err)
	}
	s.stamps.Invalidate(ctx, userID)
	return nil
}

func validatePermissions(permissions []string) error {
	universe := make(map[string]struct{})
	for _, p := range domain.AllPermissions() {
		universe[p] = struct{}{}
	}
	for _, p := range permissions {
		if _, ok := universe[p]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownPermission, p)
		}
	}
	return nil
}
