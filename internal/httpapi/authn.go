package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"gatehouse.dev/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = map[string]struct{}{
	"/auth/login":   {},
	"/auth/refresh": {},
	"/healthz":      {},
	"/readyz":       {},
	"/metrics":      {},
}

// withAuth verifies the access token and stores the principal in the request
// context. The principal comes from the token alone; no store is consulted.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := extractBearerToken(r.Header.Get(authHeader))
		if !ok {
			a.handleError(w, r, &auth.UnauthorizedError{Reason: auth.ReasonMissingToken})
			return
		}
		payload, err := a.codec.VerifyKind(token, auth.KindAccess)
		if err != nil {
			a.handleError(w, r, &auth.UnauthorizedError{Reason: auth.ReasonInvalidToken})
			return
		}
		ctx := auth.ContextWithPrincipal(r.Context(), payload.Principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// principal returns the authenticated principal or writes a 401.
func (a *API) principal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		a.handleError(w, r, &auth.UnauthorizedError{Reason: auth.ReasonMissingToken})
	}
	return p, ok
}

func (a *API) guard(next http.HandlerFunc, check func(auth.Principal, *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := a.principal(w, r)
		if !ok {
			return
		}
		if err := check(p, r); err != nil {
			a.handleError(w, r, err)
			return
		}
		next(w, r)
	}
}

func (a *API) requirePermission(next http.HandlerFunc, perm string) http.HandlerFunc {
	return a.guard(next, func(p auth.Principal, _ *http.Request) error {
		return auth.RequirePermission(p, perm)
	})
}

func (a *API) requireAny(next http.HandlerFunc, perms ...string) http.HandlerFunc {
	return a.guard(next, func(p auth.Principal, _ *http.Request) error {
		return auth.RequireAnyPermission(p, perms...)
	})
}

// requireOwner lets a principal act only on its own {id}. A malformed {id}
// is rejected as bad input for every caller, wildcard holders included, since
// no handler behind this guard can act on it.
func (a *API) requireOwner(next http.HandlerFunc) http.HandlerFunc {
	return a.guard(next, func(p auth.Principal, r *http.Request) error {
		id, ok := pathID(r, "id")
		if !ok {
			return fmt.Errorf("%w: user id must be a positive integer", auth.ErrInvalidInput)
		}
		return auth.RequireOwnership(p, id)
	})
}

func extractBearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearer):])
	return token, token != ""
}

func isPublicPath(path string) bool {
	_, ok := publicPaths[path]
	return ok
}
