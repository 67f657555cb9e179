package auth

// RequirePermission passes when p holds perm or the wildcard.
func RequirePermission(p Principal, perm string) error {
	if p.Permissions.Has(perm) {
		return nil
	}
	return &ForbiddenError{Required: []string{perm}}
}

// RequireAnyPermission passes when p holds at least one of perms or the wildcard.
func RequireAnyPermission(p Principal, perms ...string) error {
	if p.Permissions.HasAny(perms...) {
		return nil
	}
	required := make([]string, len(perms))
	copy(required, perms)
	return &ForbiddenError{Required: required}
}

// RequireOwnership passes when p is the target user or holds the wildcard.
func RequireOwnership(p Principal, targetUserID int64) error {
	if p.Permissions.Wildcard() || p.ID == targetUserID {
		return nil
	}
	return &ForbiddenError{Reason: ReasonNotOwner}
}

// RequireGrantable passes when actor already holds every permission in perms.
// Only a wildcard holder may hand out the wildcard itself.
func RequireGrantable(actor Principal, perms PermissionSet) error {
	if actor.Permissions.Wildcard() {
		return nil
	}
	var missing []string
	for _, p := range perms.Strings() {
		if p == Wildcard || !actor.Permissions.Has(p) {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &ForbiddenError{Required: missing, Reason: ReasonEscalation}
}
