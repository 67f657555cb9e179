package auth

import (
	"encoding/json"
	"sort"
	"strings"
)

// Wildcard grants every permission.
const Wildcard = "*"

const (
	PermUsersView   = "users.view"
	PermUsersCreate = "users.create"
	PermUsersEdit   = "users.edit"
	PermUsersDelete = "users.delete"

	PermRolesView   = "roles.view"
	PermRolesCreate = "roles.create"
	PermRolesEdit   = "roles.edit"
	PermRolesDelete = "roles.delete"

	PermServicesView   = "microservices.view"
	PermServicesCreate = "microservices.create"
	PermServicesEdit   = "microservices.edit"
	PermServicesDelete = "microservices.delete"

	PermSystemSettings = "system.settings"
	PermSystemLogs     = "system.logs"
	PermSystemHealth   = "system.health"

	PermDashboardView  = "dashboard.view"
	PermDashboardStats = "dashboard.stats"

	PermProfileView     = "profile.view"
	PermProfileEdit     = "profile.edit"
	PermProfileSessions = "profile.sessions"
)

// Permission describes a catalog entry.
type Permission struct {
	Key         string `json:"key"`
	Description string `json:"description"`
	Service     string `json:"service,omitempty"`
}

// StaticCatalog is the fixed part of the permission catalog.
var StaticCatalog = []Permission{
	{Key: PermUsersView, Description: "List and inspect users"},
	{Key: PermUsersCreate, Description: "Create users"},
	{Key: PermUsersEdit, Description: "Edit users and their role assignments"},
	{Key: PermUsersDelete, Description: "Deactivate users"},
	{Key: PermRolesView, Description: "List roles and the permission catalog"},
	{Key: PermRolesCreate, Description: "Create roles"},
	{Key: PermRolesEdit, Description: "Edit roles"},
	{Key: PermRolesDelete, Description: "Delete roles"},
	{Key: PermServicesView, Description: "List registered microservices"},
	{Key: PermServicesCreate, Description: "Register microservices"},
	{Key: PermServicesEdit, Description: "Edit microservice registrations"},
	{Key: PermServicesDelete, Description: "Remove microservice registrations"},
	{Key: PermSystemSettings, Description: "Change system settings"},
	{Key: PermSystemLogs, Description: "Read system and audit logs"},
	{Key: PermSystemHealth, Description: "Read health of downstream services"},
	{Key: PermDashboardView, Description: "Open the dashboard"},
	{Key: PermDashboardStats, Description: "Read dashboard statistics"},
	{Key: PermProfileView, Description: "View own profile"},
	{Key: PermProfileEdit, Description: "Edit own profile"},
	{Key: PermProfileSessions, Description: "Manage own sessions"},
	{Key: Wildcard, Description: "All permissions"},
}

// Actions generated for every registered service, in catalog order.
var serviceActions = []struct {
	action string
	desc   string
}{
	{"access", "Reach %s through the proxy"},
	{"view", "Read-only use of %s"},
	{"use", "Regular use of %s"},
	{"admin", "Administer %s"},
	{"upload", "Upload content to %s"},
}

// Slug normalizes a service name into its permission namespace: lower-cased,
// with everything outside [a-z0-9] removed.
func Slug(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		if ('a' <= r && r <= 'z') || ('0' <= r && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ServicePermissions returns the five dynamic permissions for a slug.
func ServicePermissions(slug string) []string {
	out := make([]string, 0, len(serviceActions))
	for _, a := range serviceActions {
		out = append(out, slug+"."+a.action)
	}
	return out
}

func serviceCatalog(svc ServiceRegistration) []Permission {
	out := make([]Permission, 0, len(serviceActions))
	for _, a := range serviceActions {
		out = append(out, Permission{
			Key:         svc.Slug + "." + a.action,
			Description: strings.Replace(a.desc, "%s", svc.Name, 1),
			Service:     svc.Name,
		})
	}
	return out
}

// PermissionSet is either the wildcard or an explicit set of permission keys.
// The zero value is the empty explicit set.
type PermissionSet struct {
	all  bool
	keys map[string]struct{}
}

// AllPermissions returns the wildcard set.
func AllPermissions() PermissionSet {
	return PermissionSet{all: true, keys: map[string]struct{}{}}
}

// NewPermissionSet builds a set from raw keys. A "*" entry makes it the wildcard.
func NewPermissionSet(keys ...string) PermissionSet {
	s := PermissionSet{keys: make(map[string]struct{}, len(keys))}
	for _, k := range keys {
		k = strings.TrimSpace(k)
		switch k {
		case "":
		case Wildcard:
			s.all = true
		default:
			s.keys[k] = struct{}{}
		}
	}
	return s
}

// Wildcard reports whether the set grants everything.
func (s PermissionSet) Wildcard() bool { return s.all }

// Has reports whether perm is granted.
func (s PermissionSet) Has(perm string) bool {
	if s.all {
		return true
	}
	_, ok := s.keys[perm]
	return ok
}

// HasAny reports whether at least one of perms is granted.
func (s PermissionSet) HasAny(perms ...string) bool {
	if s.all {
		return true
	}
	for _, p := range perms {
		if _, ok := s.keys[p]; ok {
			return true
		}
	}
	return false
}

// Contains is Has without the wildcard shortcut.
func (s PermissionSet) Contains(perm string) bool {
	if perm == Wildcard {
		return s.all
	}
	_, ok := s.keys[perm]
	return ok
}

// Union returns a new set holding both operands.
func (s PermissionSet) Union(other PermissionSet) PermissionSet {
	out := PermissionSet{all: s.all || other.all, keys: make(map[string]struct{}, len(s.keys)+len(other.keys))}
	for k := range s.keys {
		out.keys[k] = struct{}{}
	}
	for k := range other.keys {
		out.keys[k] = struct{}{}
	}
	return out
}

// Len counts entries, the wildcard included.
func (s PermissionSet) Len() int {
	n := len(s.keys)
	if s.all {
		n++
	}
	return n
}

// Strings returns the sorted keys with "*" first when present.
func (s PermissionSet) Strings() []string {
	out := make([]string, 0, s.Len())
	for k := range s.keys {
		out = append(out, k)
	}
	sort.Strings(out)
	if s.all {
		out = append([]string{Wildcard}, out...)
	}
	return out
}

// Equal compares two sets by content.
func (s PermissionSet) Equal(other PermissionSet) bool {
	if s.all != other.all || len(s.keys) != len(other.keys) {
		return false
	}
	for k := range s.keys {
		if _, ok := other.keys[k]; !ok {
			return false
		}
	}
	return true
}

func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	*s = NewPermissionSet(keys...)
	return nil
}
