// Package memory is a process-local auth.Store used when no database DSN is
// configured and by handler tests. State is lost on restart.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"gatehouse.dev/internal/auth"
)

// Store keeps every table in maps guarded by one mutex.
type Store struct {
	mu        sync.Mutex
	users     map[int64]*auth.User
	roles     map[int64]*auth.Role
	userRoles map[int64][]auth.UserRole
	sessions  map[string]*auth.Session
	services  map[int64]*auth.ServiceRegistration
	seq       int64
	now       func() time.Time
}

var _ auth.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		users:     make(map[int64]*auth.User),
		roles:     make(map[int64]*auth.Role),
		userRoles: make(map[int64][]auth.UserRole),
		sessions:  make(map[string]*auth.Session),
		services:  make(map[int64]*auth.ServiceRegistration),
		now:       time.Now,
	}
}

// NewSeeded returns a store holding the three system roles, matching the
// database seed.
func NewSeeded() *Store {
	s := New()
	s.SeedSystemRoles()
	return s
}

// SeedSystemRoles inserts super_admin, admin and user if they are missing.
func (s *Store) SeedSystemRoles() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range []auth.Role{
		{Name: auth.RoleSuperAdmin, Description: "Full access to every resource", Permissions: auth.AllPermissions()},
		{Name: auth.RoleAdmin, Description: "Administers users, roles and services", Permissions: auth.NewPermissionSet(
			auth.PermUsersView, auth.PermUsersCreate, auth.PermUsersEdit, auth.PermUsersDelete,
			auth.PermRolesView, auth.PermRolesCreate, auth.PermRolesEdit,
			auth.PermServicesView, auth.PermServicesCreate, auth.PermServicesEdit,
			auth.PermSystemHealth, auth.PermDashboardView, auth.PermDashboardStats,
			auth.PermProfileView, auth.PermProfileEdit, auth.PermProfileSessions,
		)},
		{Name: auth.RoleUser, Description: "Default role for signed-in users", Permissions: auth.NewPermissionSet(
			auth.PermDashboardView, auth.PermProfileView, auth.PermProfileEdit, auth.PermProfileSessions,
		)},
	} {
		if s.roleByNameLocked(r.Name) != nil {
			continue
		}
		r.ID = s.nextID()
		r.IsActive = true
		r.CreatedAt = s.now().UTC()
		r.UpdatedAt = r.CreatedAt
		s.roles[r.ID] = &r
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Users() auth.UserStore          { return users{s} }
func (s *Store) Roles() auth.RoleStore          { return roles{s} }
func (s *Store) Sessions() auth.SessionStore    { return sessions{s} }
func (s *Store) Services() auth.ServiceRegistry { return services{s} }

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

func (s *Store) roleByNameLocked(name string) *auth.Role {
	for _, r := range s.roles {
		if r.Name == name {
			return r
		}
	}
	return nil
}

type users struct{ s *Store }

func (u users) FindByIdentifier(_ context.Context, identifier string) (auth.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	for _, user := range u.s.users {
		if !user.Usable() {
			continue
		}
		if user.Username == identifier || strings.EqualFold(user.Email, identifier) {
			return *user, nil
		}
	}
	return auth.User{}, auth.ErrNotFound
}

func (u users) FindByID(_ context.Context, id int64) (auth.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	user, ok := u.s.users[id]
	if !ok || user.DeletedAt != nil {
		return auth.User{}, auth.ErrNotFound
	}
	return *user, nil
}

func (u users) Create(_ context.Context, username, email, hash string) (auth.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	for _, existing := range u.s.users {
		if existing.Username == username || strings.EqualFold(existing.Email, email) {
			return auth.User{}, auth.ErrConflict
		}
	}
	now := u.s.now().UTC()
	user := &auth.User{
		ID:           u.s.nextID(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	u.s.users[user.ID] = user
	return *user, nil
}

func (u users) RecordLoginFailure(_ context.Context, id int64, policy auth.LockoutPolicy, now time.Time) (auth.LoginState, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	user, ok := u.s.users[id]
	if !ok {
		return auth.LoginState{}, auth.ErrNotFound
	}
	if _, locked := user.LockRemaining(now); locked {
		until := *user.LockedUntil
		return auth.LoginState{Attempts: user.LoginAttempts, LockedUntil: &until, AlreadyLocked: true}, nil
	}
	state := policy.Fail(user.LoginAttempts, now)
	user.LoginAttempts = state.Attempts
	if state.LockedUntil != nil {
		user.LockedUntil = state.LockedUntil
	}
	user.UpdatedAt = now
	return state, nil
}

func (u users) RecordLoginSuccess(_ context.Context, id int64, now time.Time) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	user, ok := u.s.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	if _, locked := user.LockRemaining(now); locked {
		return &auth.AccountLockedError{Until: *user.LockedUntil}
	}
	user.LoginAttempts = 0
	user.LockedUntil = nil
	user.LastLogin = &now
	user.UpdatedAt = now
	return nil
}

func (u users) SetActive(_ context.Context, id int64, active bool) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	user, ok := u.s.users[id]
	if !ok || user.DeletedAt != nil {
		return auth.ErrNotFound
	}
	user.IsActive = active
	user.UpdatedAt = u.s.now().UTC()
	return nil
}

type roles struct{ s *Store }

func (r roles) List(_ context.Context) ([]auth.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]auth.Role, 0, len(r.s.roles))
	for _, role := range r.s.roles {
		out = append(out, *role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r roles) Get(_ context.Context, id int64) (auth.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	role, ok := r.s.roles[id]
	if !ok {
		return auth.Role{}, auth.ErrNotFound
	}
	return *role, nil
}

func (r roles) GetByName(_ context.Context, name string) (auth.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	role := r.s.roleByNameLocked(name)
	if role == nil {
		return auth.Role{}, auth.ErrNotFound
	}
	return *role, nil
}

func (r roles) ListForUser(_ context.Context, userID int64) ([]auth.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []auth.Role
	for _, ur := range r.s.userRoles[userID] {
		if role, ok := r.s.roles[ur.RoleID]; ok {
			out = append(out, *role)
		}
	}
	return out, nil
}

func (r roles) Create(_ context.Context, role auth.Role) (auth.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.roleByNameLocked(role.Name) != nil {
		return auth.Role{}, auth.ErrConflict
	}
	role.ID = r.s.nextID()
	role.CreatedAt = r.s.now().UTC()
	role.UpdatedAt = role.CreatedAt
	r.s.roles[role.ID] = &role
	return role, nil
}

func (r roles) Update(_ context.Context, id int64, upd auth.RoleUpdate) (auth.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	role, ok := r.s.roles[id]
	if !ok {
		return auth.Role{}, auth.ErrNotFound
	}
	if upd.Name != nil && *upd.Name != role.Name {
		if r.s.roleByNameLocked(*upd.Name) != nil {
			return auth.Role{}, auth.ErrConflict
		}
		role.Name = *upd.Name
	}
	if upd.Description != nil {
		role.Description = *upd.Description
	}
	if upd.Permissions != nil {
		role.Permissions = *upd.Permissions
	}
	if upd.IsActive != nil {
		role.IsActive = *upd.IsActive
	}
	role.UpdatedAt = r.s.now().UTC()
	return *role, nil
}

func (r roles) Delete(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.roles[id]; !ok {
		return auth.ErrNotFound
	}
	delete(r.s.roles, id)
	for userID, list := range r.s.userRoles {
		kept := list[:0]
		for _, ur := range list {
			if ur.RoleID != id {
				kept = append(kept, ur)
			}
		}
		r.s.userRoles[userID] = kept
	}
	return nil
}

func (r roles) MergePermissions(_ context.Context, name string, perms []string) (auth.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	role := r.s.roleByNameLocked(name)
	if role == nil {
		return auth.Role{}, auth.ErrNotFound
	}
	merged := role.Permissions.Union(auth.NewPermissionSet(perms...))
	if !merged.Equal(role.Permissions) {
		role.Permissions = merged
		role.UpdatedAt = r.s.now().UTC()
	}
	return *role, nil
}

func (r roles) ReplaceUserRoles(_ context.Context, userID int64, roleIDs []int64, assignedBy int64) ([]auth.UserRole, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[userID]; !ok {
		return nil, auth.ErrNotFound
	}
	now := r.s.now().UTC()
	out := make([]auth.UserRole, 0, len(roleIDs))
	for _, id := range roleIDs {
		if _, ok := r.s.roles[id]; !ok {
			return nil, auth.ErrNotFound
		}
		out = append(out, auth.UserRole{UserID: userID, RoleID: id, AssignedBy: assignedBy, AssignedAt: now})
	}
	r.s.userRoles[userID] = out
	return append([]auth.UserRole(nil), out...), nil
}

type sessions struct{ s *Store }

func (ss sessions) Create(_ context.Context, sess auth.Session) error {
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()
	if _, ok := ss.s.sessions[sess.ID]; ok {
		return auth.ErrConflict
	}
	ss.s.sessions[sess.ID] = &sess
	return nil
}

func (ss sessions) FindUsable(_ context.Context, token string, now time.Time) (auth.Session, error) {
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()
	for _, sess := range ss.s.sessions {
		if sess.RefreshToken == token && sess.Usable(now) {
			return *sess, nil
		}
	}
	return auth.Session{}, auth.ErrNotFound
}

func (ss sessions) Touch(_ context.Context, id string, now time.Time) error {
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()
	sess, ok := ss.s.sessions[id]
	if !ok {
		return auth.ErrNotFound
	}
	sess.LastUsed = now
	return nil
}

func (ss sessions) RevokeByToken(_ context.Context, token string) (int64, error) {
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()
	var n int64
	for _, sess := range ss.s.sessions {
		if sess.RefreshToken == token && !sess.IsRevoked {
			sess.IsActive, sess.IsRevoked = false, true
			n++
		}
	}
	return n, nil
}

func (ss sessions) RevokeAllForUser(_ context.Context, userID int64) (int64, error) {
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()
	var n int64
	for _, sess := range ss.s.sessions {
		if sess.UserID == userID && !sess.IsRevoked {
			sess.IsActive, sess.IsRevoked = false, true
			n++
		}
	}
	return n, nil
}

func (ss sessions) ListUsable(_ context.Context, userID int64, now time.Time) ([]auth.Session, error) {
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()
	var out []auth.Session
	for _, sess := range ss.s.sessions {
		if sess.UserID == userID && sess.Usable(now) {
			out = append(out, *sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUsed.After(out[j].LastUsed) })
	return out, nil
}

type services struct{ s *Store }

func (sv services) List(_ context.Context) ([]auth.ServiceRegistration, error) {
	sv.s.mu.Lock()
	defer sv.s.mu.Unlock()
	out := make([]auth.ServiceRegistration, 0, len(sv.s.services))
	for _, svc := range sv.s.services {
		out = append(out, *svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (sv services) ListActive(ctx context.Context) ([]auth.ServiceRegistration, error) {
	all, err := sv.List(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, svc := range all {
		if svc.IsActive {
			out = append(out, svc)
		}
	}
	return out, nil
}

func (sv services) FindBySlug(_ context.Context, slug string) (auth.ServiceRegistration, error) {
	sv.s.mu.Lock()
	defer sv.s.mu.Unlock()
	for _, svc := range sv.s.services {
		if svc.Slug == slug {
			return *svc, nil
		}
	}
	return auth.ServiceRegistration{}, auth.ErrNotFound
}

func (sv services) Create(_ context.Context, svc auth.ServiceRegistration) (auth.ServiceRegistration, error) {
	sv.s.mu.Lock()
	defer sv.s.mu.Unlock()
	for _, existing := range sv.s.services {
		if existing.Slug == svc.Slug || existing.Name == svc.Name {
			return auth.ServiceRegistration{}, auth.ErrConflict
		}
	}
	svc.ID = sv.s.nextID()
	svc.CreatedAt = sv.s.now().UTC()
	sv.s.services[svc.ID] = &svc
	return svc, nil
}

func (sv services) SetActive(_ context.Context, id int64, active bool) (auth.ServiceRegistration, error) {
	sv.s.mu.Lock()
	defer sv.s.mu.Unlock()
	svc, ok := sv.s.services[id]
	if !ok {
		return auth.ServiceRegistration{}, auth.ErrNotFound
	}
	svc.IsActive = active
	return *svc, nil
}
