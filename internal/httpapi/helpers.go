package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"gatehouse.dev/internal/auth"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorBody(w, r, code, map[string]any{"error": msg})
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, code int, payload map[string]any) {
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

var errEmptyBody = errors.New("request body is required")

// decodeJSON reads exactly one JSON object, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(r.PathValue(name)), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// statusFor maps core errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrAccountLocked),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrInvalidTokenType),
		errors.Is(err, auth.ErrInvalidSession),
		errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrInvalidPermissions),
		errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, auth.ErrProtectedRole):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrConflict), errors.Is(err, auth.ErrSlugCollision):
		return http.StatusConflict
	case errors.Is(err, auth.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// handleError renders err with the details each typed error carries.
// Internal failures are logged and reported without detail.
func (a *API) handleError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	payload := map[string]any{"error": err.Error()}

	var (
		locked    *auth.AccountLockedError
		invalid   *auth.InvalidPermissionsError
		forbidden *auth.ForbiddenError
		unauth    *auth.UnauthorizedError
	)
	switch {
	case errors.As(err, &locked):
		payload["error"] = "account locked"
		payload["minutesRemaining"] = locked.MinutesRemaining
	case errors.Is(err, auth.ErrInvalidCredentials):
		payload["error"] = "invalid credentials"
	case errors.As(err, &invalid):
		payload["error"] = "invalid permissions"
		payload["offending"] = invalid.Offending
	case errors.As(err, &forbidden):
		payload["error"] = "forbidden"
		if forbidden.Reason != "" {
			payload["reason"] = forbidden.Reason
		}
		if len(forbidden.Required) > 0 {
			payload["required"] = forbidden.Required
		}
	case errors.As(err, &unauth):
		payload["error"] = unauth.Reason
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrInvalidTokenType):
		payload["error"] = "invalid token"
	case errors.Is(err, auth.ErrInvalidSession):
		payload["error"] = "invalid session"
	case code == http.StatusInternalServerError:
		a.log.Error("request failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		payload["error"] = "internal error"
	}
	if code == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="`+serviceName+`"`)
	}
	writeErrorBody(w, r, code, payload)
}
