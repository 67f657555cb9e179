package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// RoleInput describes a new role.
type RoleInput struct {
	Name        string
	Description string
	Permissions []string
}

// RoleService applies role mutations, validating permissions against the
// catalog and enforcing the protected-role rules.
type RoleService struct {
	roles    RoleStore
	resolver *Resolver
}

func NewRoleService(roles RoleStore, resolver *Resolver) (*RoleService, error) {
	if roles == nil || resolver == nil {
		return nil, errors.New("auth: role store and resolver are required")
	}
	return &RoleService{roles: roles, resolver: resolver}, nil
}

func (s *RoleService) List(ctx context.Context) ([]Role, error) {
	return s.roles.List(ctx)
}

func (s *RoleService) Get(ctx context.Context, id int64) (Role, error) {
	if id <= 0 {
		return Role{}, fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	return s.roles.Get(ctx, id)
}

// Create adds a role. actor must already hold every permission it grants.
func (s *RoleService) Create(ctx context.Context, actor Principal, in RoleInput) (Role, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if err := s.resolver.ValidatePermissions(ctx, in.Permissions); err != nil {
		return Role{}, err
	}
	perms := NewPermissionSet(in.Permissions...)
	if err := RequireGrantable(actor, perms); err != nil {
		return Role{}, err
	}
	return s.roles.Create(ctx, Role{
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Permissions: perms,
		IsActive:    true,
	})
}

// RolePatch is the caller-facing form of RoleUpdate.
type RolePatch struct {
	Name        *string
	Description *string
	Permissions *[]string
	IsActive    *bool
}

// Update applies patch. Permissions added to the role, or a whole inactive
// role being switched back on, must be grantable by actor.
func (s *RoleService) Update(ctx context.Context, actor Principal, id int64, patch RolePatch) (Role, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return Role{}, err
	}
	var upd RoleUpdate
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return Role{}, fmt.Errorf("%w: role name cannot be empty", ErrInvalidInput)
		}
		if name != current.Name {
			if IsProtectedRole(current.Name) {
				return Role{}, fmt.Errorf("%w: %s cannot be renamed", ErrProtectedRole, current.Name)
			}
			upd.Name = &name
		}
	}
	if patch.Description != nil {
		desc := strings.TrimSpace(*patch.Description)
		upd.Description = &desc
	}
	next := current.Permissions
	if patch.Permissions != nil {
		if err := s.resolver.ValidatePermissions(ctx, *patch.Permissions); err != nil {
			return Role{}, err
		}
		next = NewPermissionSet(*patch.Permissions...)
		if current.Name == RoleSuperAdmin && !next.Wildcard() {
			return Role{}, fmt.Errorf("%w: %s must keep %q", ErrProtectedRole, RoleSuperAdmin, Wildcard)
		}
		if err := RequireGrantable(actor, addedPermissions(current.Permissions, next)); err != nil {
			return Role{}, err
		}
		upd.Permissions = &next
	}
	if patch.IsActive != nil {
		if !*patch.IsActive && current.Name == RoleSuperAdmin {
			return Role{}, fmt.Errorf("%w: %s cannot be deactivated", ErrProtectedRole, RoleSuperAdmin)
		}
		if *patch.IsActive && !current.IsActive {
			if err := RequireGrantable(actor, next); err != nil {
				return Role{}, err
			}
		}
		upd.IsActive = patch.IsActive
	}
	return s.roles.Update(ctx, id, upd)
}

func addedPermissions(current, next PermissionSet) PermissionSet {
	var added []string
	for _, p := range next.Strings() {
		if !current.Contains(p) {
			added = append(added, p)
		}
	}
	return NewPermissionSet(added...)
}

func (s *RoleService) Delete(ctx context.Context, id int64) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.Name == RoleSuperAdmin {
		return fmt.Errorf("%w: %s cannot be deleted", ErrProtectedRole, RoleSuperAdmin)
	}
	return s.roles.Delete(ctx, id)
}

// AssignRoles replaces every role of userID with roleIDs on behalf of actor.
// Each assigned role must be grantable by actor, so only wildcard holders can
// hand out super_admin.
func (s *RoleService) AssignRoles(ctx context.Context, actor Principal, userID int64, roleIDs []int64) ([]UserRole, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	seen := make(map[int64]struct{}, len(roleIDs))
	unique := make([]int64, 0, len(roleIDs))
	for _, id := range roleIDs {
		if id <= 0 {
			return nil, fmt.Errorf("%w: role id %d is invalid", ErrInvalidInput, id)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	for _, id := range unique {
		role, err := s.roles.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := RequireGrantable(actor, role.Permissions); err != nil {
			return nil, err
		}
	}
	return s.roles.ReplaceUserRoles(ctx, userID, unique, actor.ID)
}
