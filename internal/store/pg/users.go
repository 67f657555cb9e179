package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatehouse.dev/internal/auth"
)

type users struct {
	db *sql.DB
}

const userColumns = `id, username, email, password_hash, is_active, deleted_at,
	login_attempts, locked_until, last_login, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (auth.User, error) {
	var (
		u                          auth.User
		deleted, locked, lastLogin sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsActive, &deleted,
		&u.LoginAttempts, &locked, &lastLogin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return auth.User{}, err
	}
	u.DeletedAt = nullTime(deleted)
	u.LockedUntil = nullTime(locked)
	u.LastLogin = nullTime(lastLogin)
	return u, nil
}

func (s users) FindByIdentifier(ctx context.Context, identifier string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where (username = $1 or lower(email) = lower($1))
		  and is_active and deleted_at is null
		order by (username = $1) desc
		limit 1
	`, identifier)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	return u, err
}

func (s users) FindByID(ctx context.Context, id int64) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	return u, err
}

func (s users) Create(ctx context.Context, username, email, passwordHash string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `
		insert into users (username, email, password_hash)
		values ($1, $2, $3)
		returning `+userColumns,
		strings.TrimSpace(username), strings.TrimSpace(email), passwordHash)
	u, err := scanUser(row)
	if err != nil {
		return auth.User{}, mapWriteErr(err)
	}
	return u, nil
}

// RecordLoginFailure serializes concurrent failures on the user row so every
// attempt is counted exactly once. A row that is already locked is returned
// untouched.
func (s users) RecordLoginFailure(ctx context.Context, userID int64, policy auth.LockoutPolicy, now time.Time) (auth.LoginState, error) {
	if s.db == nil {
		return auth.LoginState{}, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.LoginState{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		attempts int
		locked   sql.NullTime
	)
	err = tx.QueryRowContext(ctx, `
		select login_attempts, locked_until from users where id = $1 for update
	`, userID).Scan(&attempts, &locked)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.LoginState{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.LoginState{}, err
	}
	if locked.Valid && locked.Time.After(now) {
		until := locked.Time
		return auth.LoginState{Attempts: attempts, LockedUntil: &until, AlreadyLocked: true}, nil
	}

	state := policy.Fail(attempts, now)
	if state.LockedUntil != nil {
		_, err = tx.ExecContext(ctx, `
			update users set login_attempts = $2, locked_until = $3, updated_at = $4
			where id = $1
		`, userID, state.Attempts, *state.LockedUntil, now)
	} else {
		_, err = tx.ExecContext(ctx, `
			update users set login_attempts = $2, updated_at = $3
			where id = $1
		`, userID, state.Attempts, now)
	}
	if err != nil {
		return auth.LoginState{}, fmt.Errorf("record login failure: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return auth.LoginState{}, err
	}
	return state, nil
}

// RecordLoginSuccess clears the counter unless a lock landed after the caller
// read the row, in which case it returns *auth.AccountLockedError.
func (s users) RecordLoginSuccess(ctx context.Context, userID int64, now time.Time) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update users
		set login_attempts = 0, locked_until = null, last_login = $2, updated_at = $2
		where id = $1 and (locked_until is null or locked_until <= $2)
	`, userID, now)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return err
	}

	var locked sql.NullTime
	err = s.db.QueryRowContext(ctx, `select locked_until from users where id = $1`, userID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	if err != nil {
		return err
	}
	if locked.Valid && locked.Time.After(now) {
		return &auth.AccountLockedError{Until: locked.Time}
	}
	return auth.ErrNotFound
}

func (s users) SetActive(ctx context.Context, userID int64, active bool) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update users set is_active = $2, updated_at = now()
		where id = $1 and deleted_at is null
	`, userID, active)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}
