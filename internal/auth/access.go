package auth

import (
	"strconv"
	"strings"
)

// Identity headers consumed by the reverse proxy and downstream services.
const (
	HeaderUserID          = "X-User-ID"
	HeaderUserUsername    = "X-User-Username"
	HeaderUserEmail       = "X-User-Email"
	HeaderUserPermissions = "X-User-Permissions"
)

// AccessDecision is the outcome of CheckServiceAccess.
type AccessDecision struct {
	Service  string   `json:"service"`
	Slug     string   `json:"slug"`
	Allowed  bool     `json:"allowed"`
	Required []string `json:"required_permissions"`
	Granted  []string `json:"granted_permissions"`
}

// CheckServiceAccess decides whether p may reach serviceName. Any one of the
// access, view or use tiers is enough.
func CheckServiceAccess(p Principal, serviceName string) AccessDecision {
	slug := Slug(serviceName)
	d := AccessDecision{Service: serviceName, Slug: slug, Granted: []string{}}
	if p.Permissions.Wildcard() {
		d.Allowed = true
		d.Required = []string{slug + ".access"}
		d.Granted = []string{Wildcard}
		return d
	}
	d.Required = []string{slug + ".access", slug + ".view", slug + ".use"}
	if slug == "" {
		return d
	}
	for _, perm := range d.Required {
		if p.Permissions.Contains(perm) {
			d.Granted = append(d.Granted, perm)
		}
	}
	d.Allowed = len(d.Granted) > 0
	return d
}

// IdentityHeaders renders p as proxy trust headers.
func IdentityHeaders(p Principal) map[string]string {
	return map[string]string{
		HeaderUserID:          strconv.FormatInt(p.ID, 10),
		HeaderUserUsername:    p.Username,
		HeaderUserEmail:       p.Email,
		HeaderUserPermissions: strings.Join(p.Permissions.Strings(), ","),
	}
}
