package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"gatehouse.dev/internal/audit"
	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/obs"
)

const serviceName = "gatehouse"

// Readiness reports whether dependencies (the database) are reachable.
type Readiness interface {
	Ping(ctx context.Context) error
}

type alwaysReady struct{}

func (alwaysReady) Ping(context.Context) error { return nil }

// Deps are the collaborators served over HTTP.
type Deps struct {
	Auth     *auth.Service
	Codec    *auth.TokenCodec
	Resolver *auth.Resolver
	Roles    *auth.RoleService
	Audit    *audit.Logger
	Ready    Readiness
	Logger   *zap.Logger
	Version  string

	// LoginLimiter throttles POST /auth/login per client IP; nil disables it.
	LoginLimiter *RateLimiter
	CORSOrigins  []string
	MaxBodyBytes int64
}

// API is the HTTP layer.
type API struct {
	mux      *http.ServeMux
	auth     *auth.Service
	codec    *auth.TokenCodec
	resolver *auth.Resolver
	roles    *auth.RoleService
	audit    *audit.Logger
	ready    Readiness
	log      *zap.Logger
	version  string

	corsOrigins  []string
	maxBodyBytes int64
}

func New(d Deps) (*API, error) {
	if d.Auth == nil || d.Codec == nil || d.Resolver == nil || d.Roles == nil {
		return nil, errors.New("httpapi: auth service, codec, resolver and role service are required")
	}
	a := &API{
		mux:          http.NewServeMux(),
		auth:         d.Auth,
		codec:        d.Codec,
		resolver:     d.Resolver,
		roles:        d.Roles,
		audit:        d.Audit,
		ready:        d.Ready,
		log:          d.Logger,
		version:      d.Version,
		corsOrigins:  d.CORSOrigins,
		maxBodyBytes: d.MaxBodyBytes,
	}
	if a.audit == nil {
		a.audit = audit.New(nil)
	}
	if a.ready == nil {
		a.ready = alwaysReady{}
	}
	if a.log == nil {
		a.log = zap.NewNop()
	}
	if a.maxBodyBytes <= 0 {
		a.maxBodyBytes = 1 << 20
	}
	a.routes(d.LoginLimiter)
	return a, nil
}

func (a *API) routes(loginLimiter *RateLimiter) {
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.Handle("POST /auth/login", loginLimiter.Wrap(http.HandlerFunc(a.handleLogin)))
	a.mux.HandleFunc("POST /auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("POST /auth/logout", a.handleLogout)
	a.mux.HandleFunc("POST /auth/logout-all", a.handleLogoutAll)
	a.mux.HandleFunc("GET /auth/me", a.handleMe)
	a.mux.HandleFunc("GET /auth/sessions", a.handleSessions)
	a.mux.HandleFunc("GET /auth/validate", a.handleValidate)
	a.mux.HandleFunc("GET /auth/validate-microservice/{service}", a.handleValidateMicroservice)

	a.mux.HandleFunc("GET /users/{id}/sessions", a.requireOwner(a.handleUserSessions))
	a.mux.HandleFunc("DELETE /users/{id}/sessions", a.requireOwner(a.handleRevokeUserSessions))

	a.mux.HandleFunc("GET /admin/permissions", a.requireAny(a.handlePermissions, auth.PermRolesView, auth.PermRolesEdit))
	a.mux.HandleFunc("GET /admin/roles", a.requireAny(a.handleListRoles, auth.PermRolesView, auth.PermRolesEdit))
	a.mux.HandleFunc("POST /admin/roles", a.requirePermission(a.handleCreateRole, auth.PermRolesCreate))
	a.mux.HandleFunc("PATCH /admin/roles/{id}", a.requirePermission(a.handleUpdateRole, auth.PermRolesEdit))
	a.mux.HandleFunc("DELETE /admin/roles/{id}", a.requirePermission(a.handleDeleteRole, auth.PermRolesDelete))
	a.mux.HandleFunc("PUT /admin/users/{id}/roles", a.requirePermission(a.handleAssignRoles, auth.PermUsersEdit))
	a.mux.HandleFunc("POST /admin/users/{id}/deactivate", a.requirePermission(a.handleDeactivateUser, auth.PermUsersDelete))
	a.mux.HandleFunc("GET /admin/services", a.requireAny(a.handleListServices, auth.PermServicesView, auth.PermServicesEdit))
	a.mux.HandleFunc("POST /admin/services", a.requirePermission(a.handleRegisterService, auth.PermServicesCreate))
	a.mux.HandleFunc("PATCH /admin/services/{id}", a.requirePermission(a.handleUpdateService, auth.PermServicesEdit))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
}

// Handler returns the mux wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = obs.Instrument(h)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = CORS(a.corsOrigins, h)
	h = SecurityHeaders(h)
	h = LoggingJSON(a.log, h)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Ping(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
