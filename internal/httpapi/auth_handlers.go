package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/obs"
)

type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	DeviceInfo string `json:"deviceInfo"`
}

type loginResponse struct {
	User         auth.Principal `json:"user"`
	AccessToken  string         `json:"accessToken"`
	RefreshToken string         `json:"refreshToken"`
	ExpiresIn    int64          `json:"expiresIn"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
}

type userView struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

func viewOf(p auth.Principal) userView {
	return userView{ID: p.ID, Username: p.Username, Email: p.Email}
}

func (a *API) expiresIn() int64 { return int64(a.auth.AccessTTL().Seconds()) }

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	info := auth.SessionInfo{
		UserAgent:  r.UserAgent(),
		IPAddress:  clientIP(r),
		DeviceInfo: strings.TrimSpace(req.DeviceInfo),
	}
	pair, principal, err := a.auth.Login(r.Context(), req.Username, req.Password, info)
	if err != nil {
		if statusFor(err) == http.StatusUnauthorized {
			fields := map[string]any{"identifier": strings.TrimSpace(req.Username), "ip": info.IPAddress}
			if errors.Is(err, auth.ErrAccountLocked) {
				fields["reason"] = "locked"
			}
			_ = a.audit.LogEvent(r.Context(), "auth.login.failed", fields)
		}
		a.handleError(w, r, err)
		return
	}
	_ = a.audit.LogEvent(auth.ContextWithPrincipal(r.Context(), principal), "auth.login", map[string]any{
		"ip":          info.IPAddress,
		"device_info": info.DeviceInfo,
	})
	writeJSON(w, http.StatusOK, loginResponse{
		User:         principal,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    a.expiresIn(),
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, http.StatusBadRequest, "refreshToken is required")
		return
	}
	grant, err := a.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{AccessToken: grant.AccessToken, ExpiresIn: a.expiresIn()})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.principal(w, r); !ok {
		return
	}
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.auth.Logout(r.Context(), req.RefreshToken); err != nil {
		a.handleError(w, r, err)
		return
	}
	_ = a.audit.LogEvent(r.Context(), "auth.logout", nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	n, err := a.auth.LogoutAll(r.Context(), p.ID)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	_ = a.audit.LogEvent(r.Context(), "auth.logout_all", map[string]any{"revoked": n})
	writeJSON(w, http.StatusOK, map[string]any{"revoked": n})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":        viewOf(p),
		"permissions": p.Permissions,
	})
}

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	a.writeSessions(w, r, p.ID)
}

func (a *API) writeSessions(w http.ResponseWriter, r *http.Request, userID int64) {
	list, err := a.auth.Sessions(r.Context(), userID)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func setIdentityHeaders(w http.ResponseWriter, p auth.Principal) {
	for k, v := range auth.IdentityHeaders(p) {
		w.Header().Set(k, v)
	}
}

// handleValidate is the reverse proxy's auth subrequest.
func (a *API) handleValidate(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	setIdentityHeaders(w, p)
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":       true,
		"user":        viewOf(p),
		"permissions": p.Permissions,
	})
}

func (a *API) handleValidateMicroservice(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	decision := auth.CheckServiceAccess(p, r.PathValue("service"))
	obs.ServiceAccess(decision.Allowed)
	if !decision.Allowed {
		writeErrorBody(w, r, http.StatusForbidden, map[string]any{
			"error":    "forbidden",
			"required": decision.Required,
			"decision": decision,
		})
		return
	}
	setIdentityHeaders(w, p)
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":    true,
		"user":     viewOf(p),
		"decision": decision,
	})
}

func (a *API) handleUserSessions(w http.ResponseWriter, r *http.Request) {
	id, _ := pathID(r, "id")
	a.writeSessions(w, r, id)
}

func (a *API) handleRevokeUserSessions(w http.ResponseWriter, r *http.Request) {
	id, _ := pathID(r, "id")
	n, err := a.auth.LogoutAll(r.Context(), id)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	_ = a.audit.LogEvent(r.Context(), "auth.sessions.revoke", map[string]any{"user_id": id, "revoked": n})
	writeJSON(w, http.StatusOK, map[string]any{"revoked": n})
}
