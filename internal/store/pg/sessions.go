package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gatehouse.dev/internal/auth"
)

type sessions struct {
	db *sql.DB
}

const sessionColumns = `id, user_id, refresh_token, issued_at, expires_at, last_used,
	user_agent, ip_address, device_info, is_active, is_revoked`

func scanSession(row rowScanner) (auth.Session, error) {
	var s auth.Session
	err := row.Scan(&s.ID, &s.UserID, &s.RefreshToken, &s.IssuedAt, &s.ExpiresAt, &s.LastUsed,
		&s.UserAgent, &s.IPAddress, &s.DeviceInfo, &s.IsActive, &s.IsRevoked)
	return s, err
}

func (s sessions) Create(ctx context.Context, sess auth.Session) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into sessions (`+sessionColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, sess.ID, sess.UserID, sess.RefreshToken, sess.IssuedAt, sess.ExpiresAt, sess.LastUsed,
		sess.UserAgent, sess.IPAddress, sess.DeviceInfo, sess.IsActive, sess.IsRevoked)
	return mapWriteErr(err)
}

func (s sessions) FindUsable(ctx context.Context, token string, now time.Time) (auth.Session, error) {
	if s.db == nil {
		return auth.Session{}, errNoDB
	}
	sess, err := scanSession(s.db.QueryRowContext(ctx, `
		select `+sessionColumns+`
		from sessions
		where refresh_token = $1 and is_active and not is_revoked and expires_at > $2
	`, token, now))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Session{}, auth.ErrNotFound
	}
	return sess, err
}

func (s sessions) Touch(ctx context.Context, id string, now time.Time) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `update sessions set last_used = $2 where id = $1`, id, now)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (s sessions) RevokeByToken(ctx context.Context, token string) (int64, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update sessions set is_active = false, is_revoked = true
		where refresh_token = $1 and not is_revoked
	`, token)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s sessions) RevokeAllForUser(ctx context.Context, userID int64) (int64, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update sessions set is_active = false, is_revoked = true
		where user_id = $1 and not is_revoked
	`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s sessions) ListUsable(ctx context.Context, userID int64, now time.Time) ([]auth.Session, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+sessionColumns+`
		from sessions
		where user_id = $1 and is_active and not is_revoked and expires_at > $2
		order by last_used desc
	`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []auth.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
