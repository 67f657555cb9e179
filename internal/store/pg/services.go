package pg

import (
	"context"
	"database/sql"
	"errors"

	"gatehouse.dev/internal/auth"
)

type services struct {
	db *sql.DB
}

const serviceColumns = `id, name, slug, description, is_active, created_at`

func scanService(row rowScanner) (auth.ServiceRegistration, error) {
	var svc auth.ServiceRegistration
	err := row.Scan(&svc.ID, &svc.Name, &svc.Slug, &svc.Description, &svc.IsActive, &svc.CreatedAt)
	return svc, err
}

func (s services) query(ctx context.Context, where string, args ...any) ([]auth.ServiceRegistration, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+serviceColumns+` from services `+where+` order by id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []auth.ServiceRegistration
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

func (s services) List(ctx context.Context) ([]auth.ServiceRegistration, error) {
	return s.query(ctx, "")
}

func (s services) ListActive(ctx context.Context) ([]auth.ServiceRegistration, error) {
	return s.query(ctx, "where is_active")
}

func (s services) FindBySlug(ctx context.Context, slug string) (auth.ServiceRegistration, error) {
	if s.db == nil {
		return auth.ServiceRegistration{}, errNoDB
	}
	svc, err := scanService(s.db.QueryRowContext(ctx, `select `+serviceColumns+` from services where slug = $1`, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ServiceRegistration{}, auth.ErrNotFound
	}
	return svc, err
}

func (s services) Create(ctx context.Context, svc auth.ServiceRegistration) (auth.ServiceRegistration, error) {
	if s.db == nil {
		return auth.ServiceRegistration{}, errNoDB
	}
	out, err := scanService(s.db.QueryRowContext(ctx, `
		insert into services (name, slug, description, is_active)
		values ($1, $2, $3, $4)
		returning `+serviceColumns,
		svc.Name, svc.Slug, svc.Description, svc.IsActive))
	if err != nil {
		return auth.ServiceRegistration{}, mapWriteErr(err)
	}
	return out, nil
}

func (s services) SetActive(ctx context.Context, id int64, active bool) (auth.ServiceRegistration, error) {
	if s.db == nil {
		return auth.ServiceRegistration{}, errNoDB
	}
	svc, err := scanService(s.db.QueryRowContext(ctx, `
		update services set is_active = $2 where id = $1
		returning `+serviceColumns, id, active))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ServiceRegistration{}, auth.ErrNotFound
	}
	return svc, err
}
