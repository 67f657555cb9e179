package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Resolver computes permission catalogs and effective permission sets.
type Resolver struct {
	roles    RoleStore
	services ServiceRegistry
	events   EventPublisher
	log      *zap.Logger
	now      func() time.Time
}

// ResolverOption configures Resolver.
type ResolverOption func(*Resolver)

// WithResolverEvents sets the publisher for service.registered events.
func WithResolverEvents(p EventPublisher) ResolverOption {
	return func(r *Resolver) {
		if p != nil {
			r.events = p
		}
	}
}

func WithResolverLogger(log *zap.Logger) ResolverOption {
	return func(r *Resolver) {
		if log != nil {
			r.log = log
		}
	}
}

func WithResolverClock(fn func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if fn != nil {
			r.now = fn
		}
	}
}

func NewResolver(roles RoleStore, services ServiceRegistry, opts ...ResolverOption) (*Resolver, error) {
	if roles == nil || services == nil {
		return nil, errors.New("auth: resolver requires role and service stores")
	}
	r := &Resolver{
		roles:    roles,
		services: services,
		events:   nopPublisher{},
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Catalog returns every known permission with its description: the static
// entries followed by five per active service.
func (r *Resolver) Catalog(ctx context.Context) ([]Permission, error) {
	active, err := r.services.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	out := make([]Permission, 0, len(StaticCatalog)+len(active)*len(serviceActions))
	seen := make(map[string]struct{}, cap(out))
	add := func(p Permission) {
		if _, ok := seen[p.Key]; ok {
			return
		}
		seen[p.Key] = struct{}{}
		out = append(out, p)
	}
	for _, p := range StaticCatalog {
		add(p)
	}
	for _, svc := range active {
		if svc.Slug == "" {
			continue
		}
		for _, p := range serviceCatalog(svc) {
			add(p)
		}
	}
	return out, nil
}

// AllPermissions returns the sorted, deduplicated catalog keys.
func (r *Resolver) AllPermissions(ctx context.Context) ([]string, error) {
	catalog, err := r.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(catalog))
	for _, p := range catalog {
		keys = append(keys, p.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

// EffectivePermissions unions the permissions of the active roles.
func (r *Resolver) EffectivePermissions(roles []Role) PermissionSet {
	return EffectivePermissions(roles)
}

func EffectivePermissions(roles []Role) PermissionSet {
	out := NewPermissionSet()
	for _, role := range roles {
		if !role.IsActive {
			continue
		}
		out = out.Union(role.Permissions)
	}
	return out
}

// PermissionsForUser loads the user's roles and resolves their union.
func (r *Resolver) PermissionsForUser(ctx context.Context, userID int64) (PermissionSet, error) {
	roles, err := r.roles.ListForUser(ctx, userID)
	if err != nil {
		return PermissionSet{}, fmt.Errorf("load roles: %w", err)
	}
	return EffectivePermissions(roles), nil
}

// ValidatePermissions fails with *InvalidPermissionsError naming every entry
// that is not in the current catalog.
func (r *Resolver) ValidatePermissions(ctx context.Context, perms []string) error {
	known, err := r.AllPermissions(ctx)
	if err != nil {
		return err
	}
	index := make(map[string]struct{}, len(known))
	for _, k := range known {
		index[k] = struct{}{}
	}
	var offending []string
	seen := make(map[string]struct{})
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if _, ok := index[p]; ok {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		offending = append(offending, p)
	}
	if len(offending) > 0 {
		return &InvalidPermissionsError{Offending: offending}
	}
	return nil
}

// GrantToSuperAdmin merges the five permissions of serviceName into the
// super_admin role. Repeated calls leave the role unchanged.
func (r *Resolver) GrantToSuperAdmin(ctx context.Context, serviceName string) (Role, error) {
	slug := Slug(serviceName)
	if slug == "" {
		return Role{}, fmt.Errorf("%w: service name %q has no usable characters", ErrInvalidInput, serviceName)
	}
	role, err := r.roles.MergePermissions(ctx, RoleSuperAdmin, ServicePermissions(slug))
	if err != nil {
		return Role{}, fmt.Errorf("grant %s to %s: %w", slug, RoleSuperAdmin, err)
	}
	return role, nil
}

// RegisterService records a downstream service and grants its permissions to
// super_admin. Registering the same name again is a no-op; a different name
// that normalizes to an existing slug fails with ErrSlugCollision.
func (r *Resolver) RegisterService(ctx context.Context, name, description string) (ServiceRegistration, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ServiceRegistration{}, fmt.Errorf("%w: service name is required", ErrInvalidInput)
	}
	slug := Slug(name)
	if slug == "" {
		return ServiceRegistration{}, fmt.Errorf("%w: service name %q has no usable characters", ErrInvalidInput, name)
	}

	svc, err := r.services.FindBySlug(ctx, slug)
	switch {
	case err == nil:
		if svc.Name != name {
			return ServiceRegistration{}, fmt.Errorf("%w: %q already uses %q", ErrSlugCollision, svc.Name, slug)
		}
		if !svc.IsActive {
			if svc, err = r.services.SetActive(ctx, svc.ID, true); err != nil {
				return ServiceRegistration{}, fmt.Errorf("reactivate service: %w", err)
			}
		}
	case errors.Is(err, ErrNotFound):
		svc, err = r.services.Create(ctx, ServiceRegistration{
			Name:        name,
			Slug:        slug,
			Description: strings.TrimSpace(description),
			IsActive:    true,
		})
		if errors.Is(err, ErrConflict) {
			return ServiceRegistration{}, fmt.Errorf("%w: %q", ErrSlugCollision, slug)
		}
		if err != nil {
			return ServiceRegistration{}, fmt.Errorf("create service: %w", err)
		}
		err = r.events.Publish(ctx, Event{
			Type:       EventServiceRegistered,
			OccurredAt: r.now().UTC(),
			Attributes: map[string]string{"service": svc.Name, "slug": slug},
		})
		if err != nil {
			r.log.Warn("publish event failed",
				zap.String("type", EventServiceRegistered),
				zap.String("slug", slug),
				zap.Error(err))
		}
	default:
		return ServiceRegistration{}, fmt.Errorf("find service: %w", err)
	}

	if _, err := r.GrantToSuperAdmin(ctx, name); err != nil {
		return ServiceRegistration{}, err
	}
	return svc, nil
}

// SetServiceActive toggles a registration; inactive services leave the catalog.
func (r *Resolver) SetServiceActive(ctx context.Context, id int64, active bool) (ServiceRegistration, error) {
	if id <= 0 {
		return ServiceRegistration{}, fmt.Errorf("%w: service id is required", ErrInvalidInput)
	}
	return r.services.SetActive(ctx, id, active)
}

// Services lists every registration.
func (r *Resolver) Services(ctx context.Context) ([]ServiceRegistration, error) {
	return r.services.List(ctx)
}
