package auth

import (
	"math"
	"time"
)

// Protected role names.
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleUser       = "user"
)

// IsProtectedRole reports whether the role name is one of the system roles.
func IsProtectedRole(name string) bool {
	switch name {
	case RoleSuperAdmin, RoleAdmin, RoleUser:
		return true
	}
	return false
}

type User struct {
	ID            int64      `json:"id"`
	Username      string     `json:"username"`
	Email         string     `json:"email"`
	PasswordHash  string     `json:"-"`
	IsActive      bool       `json:"is_active"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
	LoginAttempts int        `json:"-"`
	LockedUntil   *time.Time `json:"-"`
	LastLogin     *time.Time `json:"last_login,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Usable reports whether the account may authenticate at all.
func (u User) Usable() bool {
	return u.IsActive && u.DeletedAt == nil
}

// LockRemaining returns how long the account stays locked at now.
func (u User) LockRemaining(now time.Time) (time.Duration, bool) {
	if u.LockedUntil == nil || !u.LockedUntil.After(now) {
		return 0, false
	}
	return u.LockedUntil.Sub(now), true
}

// LoginState is the persisted lockout state after a failed attempt.
type LoginState struct {
	Attempts    int
	LockedUntil *time.Time
	// AlreadyLocked is set when the row was locked before this attempt; the
	// attempt was not counted.
	AlreadyLocked bool
}

// Locked reports whether the account is locked after the attempt.
func (s LoginState) Locked() bool { return s.LockedUntil != nil }

// LockoutPolicy decides when repeated failures lock an account.
type LockoutPolicy struct {
	MaxAttempts int
	Duration    time.Duration
}

// Fail computes the state after one more failed attempt. Reaching MaxAttempts
// locks the account until now+Duration and resets the counter.
func (p LockoutPolicy) Fail(attempts int, now time.Time) LoginState {
	next := attempts + 1
	if next >= p.MaxAttempts {
		until := now.Add(p.Duration)
		return LoginState{Attempts: 0, LockedUntil: &until}
	}
	return LoginState{Attempts: next}
}

func minutesCeil(d time.Duration) int {
	return int(math.Ceil(d.Minutes()))
}

type Role struct {
	ID          int64         `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Permissions PermissionSet `json:"permissions"`
	IsActive    bool          `json:"is_active"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

type UserRole struct {
	UserID     int64     `json:"user_id"`
	RoleID     int64     `json:"role_id"`
	AssignedBy int64     `json:"assigned_by,omitempty"`
	AssignedAt time.Time `json:"assigned_at"`
}

// SessionInfo is the device metadata captured at login.
type SessionInfo struct {
	UserAgent  string
	IPAddress  string
	DeviceInfo string
}

type Session struct {
	ID           string
	UserID       int64
	RefreshToken string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	LastUsed     time.Time
	UserAgent    string
	IPAddress    string
	DeviceInfo   string
	IsActive     bool
	IsRevoked    bool
}

// Usable reports whether the session can still be refreshed.
func (s Session) Usable(now time.Time) bool {
	return s.IsActive && !s.IsRevoked && s.ExpiresAt.After(now)
}

// SessionView is a Session without its refresh token.
type SessionView struct {
	ID         string    `json:"id"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	LastUsed   time.Time `json:"last_used"`
	UserAgent  string    `json:"user_agent,omitempty"`
	IPAddress  string    `json:"ip_address,omitempty"`
	DeviceInfo string    `json:"device_info,omitempty"`
}

func (s Session) View() SessionView {
	return SessionView{
		ID:         s.ID,
		IssuedAt:   s.IssuedAt,
		ExpiresAt:  s.ExpiresAt,
		LastUsed:   s.LastUsed,
		UserAgent:  s.UserAgent,
		IPAddress:  s.IPAddress,
		DeviceInfo: s.DeviceInfo,
	}
}

type ServiceRegistration struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Principal is the identity carried by tokens and attached to requests.
type Principal struct {
	ID          int64         `json:"id"`
	Username    string        `json:"username"`
	Email       string        `json:"email"`
	Permissions PermissionSet `json:"permissions"`
}

func NewPrincipal(u User, perms PermissionSet) Principal {
	return Principal{ID: u.ID, Username: u.Username, Email: u.Email, Permissions: perms}
}

// HasPermission checks a single permission, honoring the wildcard.
func (p Principal) HasPermission(perm string) bool {
	return p.Permissions.Has(perm)
}
