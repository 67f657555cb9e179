package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrAccountLocked      = errors.New("auth: account locked")
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrInvalidTokenType   = errors.New("auth: invalid token type")
	ErrInvalidSession     = errors.New("auth: invalid session")
	ErrInvalidPermissions = errors.New("auth: invalid permissions")
	ErrUnauthorized       = errors.New("auth: unauthorized")
	ErrForbidden          = errors.New("auth: forbidden")

	ErrNotFound      = errors.New("auth: not found")
	ErrConflict      = errors.New("auth: resource conflict")
	ErrInvalidInput  = errors.New("auth: invalid input")
	ErrProtectedRole = errors.New("auth: role is system-protected")
	ErrSlugCollision = errors.New("auth: service slug already registered")
)

// AccountLockedError is returned by Login while a lock is in effect.
type AccountLockedError struct {
	Until            time.Time
	MinutesRemaining int
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("auth: account locked, try again in %d minute(s)", e.MinutesRemaining)
}

func (e *AccountLockedError) Is(target error) bool { return target == ErrAccountLocked }

// InvalidPermissionsError lists permission strings missing from the catalog.
type InvalidPermissionsError struct {
	Offending []string
}

func (e *InvalidPermissionsError) Error() string {
	return "auth: invalid permissions: " + strings.Join(e.Offending, ", ")
}

func (e *InvalidPermissionsError) Is(target error) bool { return target == ErrInvalidPermissions }

// ForbiddenError carries what the principal was missing.
type ForbiddenError struct {
	Required []string
	Reason   string
}

func (e *ForbiddenError) Error() string {
	if e.Reason != "" {
		return "auth: forbidden: " + e.Reason
	}
	return "auth: forbidden: requires " + strings.Join(e.Required, " or ")
}

func (e *ForbiddenError) Is(target error) bool { return target == ErrForbidden }

// UnauthorizedError is raised by the request gate.
type UnauthorizedError struct {
	Reason string
}

func (e *UnauthorizedError) Error() string { return "auth: unauthorized: " + e.Reason }

func (e *UnauthorizedError) Is(target error) bool { return target == ErrUnauthorized }

const (
	ReasonMissingToken = "missing token"
	ReasonInvalidToken = "invalid token"
	ReasonNotOwner     = "not owner"
	ReasonEscalation   = "cannot grant permissions the caller does not hold"
)
