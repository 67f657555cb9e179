package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gatehouse.dev/internal/auth"
)

type roles struct {
	db *sql.DB
}

const roleColumns = `id, name, description, permissions, is_active, created_at, updated_at`

func scanRole(row rowScanner) (auth.Role, error) {
	var (
		r     auth.Role
		perms []byte
	)
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &perms, &r.IsActive, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return auth.Role{}, err
	}
	r.Permissions = auth.NewPermissionSet()
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &r.Permissions); err != nil {
			return auth.Role{}, fmt.Errorf("decode permissions of role %d: %w", r.ID, err)
		}
	}
	return r, nil
}

func collectRoles(rows *sql.Rows) ([]auth.Role, error) {
	defer rows.Close()
	var out []auth.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s roles) List(ctx context.Context) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+roleColumns+` from roles order by id`)
	if err != nil {
		return nil, err
	}
	return collectRoles(rows)
}

func (s roles) Get(ctx context.Context, id int64) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	r, err := scanRole(s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Role{}, auth.ErrNotFound
	}
	return r, err
}

func (s roles) GetByName(ctx context.Context, name string) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	r, err := scanRole(s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles where name = $1`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Role{}, auth.ErrNotFound
	}
	return r, err
}

func (s roles) ListForUser(ctx context.Context, userID int64) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.name, r.description, r.permissions, r.is_active, r.created_at, r.updated_at
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = $1
		order by r.id
	`, userID)
	if err != nil {
		return nil, err
	}
	return collectRoles(rows)
}

func (s roles) Create(ctx context.Context, role auth.Role) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	perms, err := json.Marshal(role.Permissions)
	if err != nil {
		return auth.Role{}, fmt.Errorf("encode permissions: %w", err)
	}
	r, err := scanRole(s.db.QueryRowContext(ctx, `
		insert into roles (name, description, permissions, is_active)
		values ($1, $2, $3, $4)
		returning `+roleColumns,
		role.Name, role.Description, perms, role.IsActive))
	if err != nil {
		return auth.Role{}, mapWriteErr(err)
	}
	return r, nil
}

func (s roles) Update(ctx context.Context, id int64, upd auth.RoleUpdate) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	var (
		setClauses []string
		args       []any
		idx        = 1
	)
	if upd.Name != nil {
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", idx))
		args = append(args, *upd.Name)
		idx++
	}
	if upd.Description != nil {
		setClauses = append(setClauses, fmt.Sprintf("description = $%d", idx))
		args = append(args, *upd.Description)
		idx++
	}
	if upd.Permissions != nil {
		perms, err := json.Marshal(*upd.Permissions)
		if err != nil {
			return auth.Role{}, fmt.Errorf("encode permissions: %w", err)
		}
		setClauses = append(setClauses, fmt.Sprintf("permissions = $%d", idx))
		args = append(args, perms)
		idx++
	}
	if upd.IsActive != nil {
		setClauses = append(setClauses, fmt.Sprintf("is_active = $%d", idx))
		args = append(args, *upd.IsActive)
		idx++
	}
	if len(setClauses) == 0 {
		return s.Get(ctx, id)
	}
	setClauses = append(setClauses, "updated_at = now()")
	query := fmt.Sprintf(`update roles set %s where id = $%d returning `+roleColumns, strings.Join(setClauses, ", "), idx)
	args = append(args, id)
	r, err := scanRole(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return auth.Role{}, mapWriteErr(err)
	}
	return r, nil
}

func (s roles) Delete(ctx context.Context, id int64) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// MergePermissions locks the role row so concurrent service registrations
// do not lose each other's grants.
func (s roles) MergePermissions(ctx context.Context, name string, perms []string) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.Role{}, err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanRole(tx.QueryRowContext(ctx, `select `+roleColumns+` from roles where name = $1 for update`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Role{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Role{}, err
	}

	merged := current.Permissions.Union(auth.NewPermissionSet(perms...))
	if merged.Equal(current.Permissions) {
		return current, tx.Commit()
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return auth.Role{}, fmt.Errorf("encode permissions: %w", err)
	}
	updated, err := scanRole(tx.QueryRowContext(ctx, `
		update roles set permissions = $2, updated_at = now()
		where id = $1
		returning `+roleColumns, current.ID, raw))
	if err != nil {
		return auth.Role{}, err
	}
	if err := tx.Commit(); err != nil {
		return auth.Role{}, err
	}
	return updated, nil
}

func (s roles) ReplaceUserRoles(ctx context.Context, userID int64, roleIDs []int64, assignedBy int64) ([]auth.UserRole, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `select 1 from users where id = $1 for update`, userID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `delete from user_roles where user_id = $1`, userID); err != nil {
		return nil, err
	}

	var by sql.NullInt64
	if assignedBy > 0 {
		by = sql.NullInt64{Int64: assignedBy, Valid: true}
	}
	out := make([]auth.UserRole, 0, len(roleIDs))
	for _, roleID := range roleIDs {
		ur := auth.UserRole{UserID: userID, RoleID: roleID, AssignedBy: assignedBy}
		err := tx.QueryRowContext(ctx, `
			insert into user_roles (user_id, role_id, assigned_by)
			values ($1, $2, $3)
			returning assigned_at
		`, userID, roleID, by).Scan(&ur.AssignedAt)
		if err != nil {
			return nil, mapWriteErr(err)
		}
		out = append(out, ur)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}
