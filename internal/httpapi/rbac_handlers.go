package httpapi

import (
	"fmt"
	"net/http"

	"gatehouse.dev/internal/auth"
)

type createRoleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

type updateRoleRequest struct {
	Name        *string   `json:"name"`
	Description *string   `json:"description"`
	Permissions *[]string `json:"permissions"`
	IsActive    *bool     `json:"is_active"`
}

type assignRolesRequest struct {
	RoleIDs []int64 `json:"role_ids"`
}

type registerServiceRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type updateServiceRequest struct {
	IsActive *bool `json:"is_active"`
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	catalog, err := a.resolver.Catalog(r.Context())
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": catalog})
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.roles.List(r.Context())
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	var req createRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.roles.Create(r.Context(), p, auth.RoleInput{
		Name:        req.Name,
		Description: req.Description,
		Permissions: req.Permissions,
	})
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	_ = a.audit.LogEvent(r.Context(), "rbac.role.create", map[string]any{
		"role_id":     role.ID,
		"name":        role.Name,
		"permissions": role.Permissions.Strings(),
	})
	w.Header().Set("Location", fmt.Sprintf("/admin/roles/%d", role.ID))
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "role id must be a positive integer")
		return
	}
	var req updateRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.roles.Update(r.Context(), p, id, auth.RolePatch{
		Name:        req.Name,
		Description: req.Description,
		Permissions: req.Permissions,
		IsActive:    req.IsActive,
	})
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	_ = a.audit.LogEvent(r.Context(), "rbac.role.update", map[string]any{
		"role_id":     role.ID,
		"name":        role.Name,
		"permissions": role.Permissions.Strings(),
		"is_active":   role.IsActive,
	})
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "role id must be a positive integer")
		return
	}
	if err := a.roles.Delete(r.Context(), id); err != nil {
		a.handleError(w, r, err)
		return
	}
	_ = a.audit.LogEvent(r.Context(), "rbac.role.delete", map[string]any{"role_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAssignRoles(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	userID, ok := pathID(r, "id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "user id must be a positive integer")
		return
	}
	var req assignRolesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	assigned, err := a.roles.AssignRoles(r.Context(), p, userID, req.RoleIDs)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	_ = a.audit.LogEvent(r.Context(), "rbac.user.roles", map[string]any{
		"user_id":  userID,
		"role_ids": req.RoleIDs,
	})
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "roles": assigned})
}

func (a *API) handleDeactivateUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r, "id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "user id must be a positive integer")
		return
	}
	if err := a.auth.Deactivate(r.Context(), userID); err != nil {
		a.handleError(w, r, err)
		return
	}
	_ = a.audit.LogEvent(r.Context(), "rbac.user.deactivate", map[string]any{"user_id": userID})
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "status": "deactivated"})
}

func (a *API) handleListServices(w http.ResponseWriter, r *http.Request) {
	services, err := a.resolver.Services(r.Context())
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": services})
}

func (a *API) handleRegisterService(w http.ResponseWriter, r *http.Request) {
	var req registerServiceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	svc, err := a.resolver.RegisterService(r.Context(), req.Name, req.Description)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	_ = a.audit.LogEvent(r.Context(), "rbac.service.register", map[string]any{
		"service_id": svc.ID,
		"name":       svc.Name,
		"slug":       svc.Slug,
	})
	w.Header().Set("Location", fmt.Sprintf("/admin/services/%d", svc.ID))
	writeJSON(w, http.StatusCreated, map[string]any{
		"service":     svc,
		"permissions": auth.ServicePermissions(svc.Slug),
	})
}

func (a *API) handleUpdateService(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "service id must be a positive integer")
		return
	}
	var req updateServiceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.IsActive == nil {
		writeError(w, r, http.StatusBadRequest, "is_active is required")
		return
	}
	svc, err := a.resolver.SetServiceActive(r.Context(), id, *req.IsActive)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	_ = a.audit.LogEvent(r.Context(), "rbac.service.update", map[string]any{
		"service_id": svc.ID,
		"is_active":  svc.IsActive,
	})
	writeJSON(w, http.StatusOK, svc)
}
