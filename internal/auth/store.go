package auth

import (
	"context"
	"time"
)

// Store groups the persistence interfaces used by the core.
type Store interface {
	Users() UserStore
	Roles() RoleStore
	Sessions() SessionStore
	Services() ServiceRegistry
}

// UserStore is the credential store.
type UserStore interface {
	// FindByIdentifier matches a usable user by exact username or
	// case-insensitive email. Returns ErrNotFound otherwise.
	FindByIdentifier(ctx context.Context, identifier string) (User, error)
	FindByID(ctx context.Context, id int64) (User, error)
	Create(ctx context.Context, username, email, passwordHash string) (User, error)
	// RecordLoginFailure applies policy to the user's counter under a row lock
	// and persists the outcome before returning it.
	// A lock still in effect at now is returned with AlreadyLocked set and the
	// counter untouched.
	RecordLoginFailure(ctx context.Context, userID int64, policy LockoutPolicy, now time.Time) (LoginState, error)
	// RecordLoginSuccess resets the counter and stamps last_login unless the
	// row is locked at now, which yields *AccountLockedError.
	RecordLoginSuccess(ctx context.Context, userID int64, now time.Time) error
	SetActive(ctx context.Context, userID int64, active bool) error
}

// RoleStore persists roles and user-role assignments.
type RoleStore interface {
	List(ctx context.Context) ([]Role, error)
	Get(ctx context.Context, id int64) (Role, error)
	GetByName(ctx context.Context, name string) (Role, error)
	ListForUser(ctx context.Context, userID int64) ([]Role, error)
	Create(ctx context.Context, role Role) (Role, error)
	Update(ctx context.Context, id int64, upd RoleUpdate) (Role, error)
	Delete(ctx context.Context, id int64) error
	// MergePermissions unions perms into the named role's set under a row lock.
	MergePermissions(ctx context.Context, name string, perms []string) (Role, error)
	// ReplaceUserRoles swaps the user's assignments for roleIDs atomically.
	ReplaceUserRoles(ctx context.Context, userID int64, roleIDs []int64, assignedBy int64) ([]UserRole, error)
}

// RoleUpdate carries optional role changes; nil fields are left untouched.
type RoleUpdate struct {
	Name        *string
	Description *string
	Permissions *PermissionSet
	IsActive    *bool
}

// SessionStore is the session ledger.
type SessionStore interface {
	Create(ctx context.Context, s Session) error
	// FindUsable returns the usable session holding token or ErrNotFound.
	FindUsable(ctx context.Context, token string, now time.Time) (Session, error)
	Touch(ctx context.Context, id string, now time.Time) error
	RevokeByToken(ctx context.Context, token string) (int64, error)
	RevokeAllForUser(ctx context.Context, userID int64) (int64, error)
	// ListUsable returns usable sessions ordered by last use, newest first.
	ListUsable(ctx context.Context, userID int64, now time.Time) ([]Session, error)
}

// ServiceRegistry persists registered downstream services.
type ServiceRegistry interface {
	List(ctx context.Context) ([]ServiceRegistration, error)
	ListActive(ctx context.Context) ([]ServiceRegistration, error)
	FindBySlug(ctx context.Context, slug string) (ServiceRegistration, error)
	Create(ctx context.Context, svc ServiceRegistration) (ServiceRegistration, error)
	SetActive(ctx context.Context, id int64, active bool) (ServiceRegistration, error)
}
