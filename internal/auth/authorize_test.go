package auth

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestWildcardPassesEveryGuard(t *testing.T) {
	root := Principal{ID: 1, Username: "root", Permissions: AllPermissions()}
	perms := []string{PermUsersView, PermRolesDelete, "inventoryapi.admin", "never.registered", Wildcard}
	for _, perm := range perms {
		if err := RequirePermission(root, perm); err != nil {
			t.Fatalf("RequirePermission(%s): %v", perm, err)
		}
	}
	if err := RequireAnyPermission(root, "a.b", "c.d"); err != nil {
		t.Fatalf("RequireAnyPermission: %v", err)
	}
	if err := RequireOwnership(root, 999); err != nil {
		t.Fatalf("RequireOwnership: %v", err)
	}
	if d := CheckServiceAccess(root, "Anything At All"); !d.Allowed {
		t.Fatalf("wildcard denied service access: %+v", d)
	}
}

func TestGuardsRejectMissingPermissions(t *testing.T) {
	p := Principal{ID: 2, Permissions: NewPermissionSet(PermUsersView)}

	err := RequirePermission(p, PermUsersEdit)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	var fe *ForbiddenError
	if !errors.As(err, &fe) || !slices.Equal(fe.Required, []string{PermUsersEdit}) {
		t.Fatalf("unexpected error detail: %v", err)
	}

	err = RequireAnyPermission(p, PermRolesView, PermRolesEdit)
	if !errors.As(err, &fe) || !slices.Equal(fe.Required, []string{PermRolesView, PermRolesEdit}) {
		t.Fatalf("unexpected any-of error: %v", err)
	}
	if !strings.Contains(err.Error(), "roles.view or roles.edit") {
		t.Fatalf("error should name the alternatives: %v", err)
	}

	if err := RequireAnyPermission(p, PermRolesView, PermUsersView); err != nil {
		t.Fatalf("one matching permission should pass: %v", err)
	}
}

func TestRequireOwnership(t *testing.T) {
	p := Principal{ID: 10, Permissions: NewPermissionSet(PermProfileSessions)}
	if err := RequireOwnership(p, 10); err != nil {
		t.Fatalf("owner rejected: %v", err)
	}
	err := RequireOwnership(p, 11)
	var fe *ForbiddenError
	if !errors.As(err, &fe) || fe.Reason != ReasonNotOwner {
		t.Fatalf("expected not-owner error, got %v", err)
	}
}

func TestPrincipalContext(t *testing.T) {
	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Fatal("empty context should carry no principal")
	}
	p := Principal{ID: 4, Username: "dora"}
	ctx := ContextWithToken(ContextWithPrincipal(context.Background(), p), "tok")
	got, ok := PrincipalFromContext(ctx)
	if !ok || got.ID != 4 {
		t.Fatalf("unexpected principal %+v", got)
	}
	if tok, ok := TokenFromContext(ctx); !ok || tok != "tok" {
		t.Fatalf("unexpected token %q", tok)
	}
	if _, ok := TokenFromContext(ContextWithToken(context.Background(), "")); ok {
		t.Fatal("empty token should not be reported")
	}
}
