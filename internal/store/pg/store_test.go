package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"gatehouse.dev/internal/auth"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("expectations not met: %v", err)
		}
		db.Close()
	})
	return New(db), mock
}

var userCols = []string{"id", "username", "email", "password_hash", "is_active", "deleted_at",
	"login_attempts", "locked_until", "last_login", "created_at", "updated_at"}

func TestRecordLoginFailureLocksAtThreshold(t *testing.T) {
	store, mock := newMock(t)
	policy := auth.LockoutPolicy{MaxAttempts: 5, Duration: 15 * time.Minute}

	mock.ExpectBegin()
	mock.ExpectQuery(`select login_attempts, locked_until from users where id = \$1 for update`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"login_attempts", "locked_until"}).AddRow(4, nil))
	mock.ExpectExec(`update users set login_attempts = \$2, locked_until = \$3`).
		WithArgs(int64(7), 0, testNow.Add(15*time.Minute), testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	state, err := store.Users().RecordLoginFailure(context.Background(), 7, policy, testNow)
	if err != nil {
		t.Fatalf("RecordLoginFailure: %v", err)
	}
	if state.Attempts != 0 || state.LockedUntil == nil || !state.LockedUntil.Equal(testNow.Add(15*time.Minute)) {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestRecordLoginFailureCountsBelowThreshold(t *testing.T) {
	store, mock := newMock(t)
	policy := auth.LockoutPolicy{MaxAttempts: 5, Duration: 15 * time.Minute}

	mock.ExpectBegin()
	mock.ExpectQuery(`select login_attempts, locked_until from users`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"login_attempts", "locked_until"}).AddRow(1, testNow.Add(-time.Minute)))
	mock.ExpectExec(`update users set login_attempts = \$2, updated_at = \$3`).
		WithArgs(int64(7), 2, testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	state, err := store.Users().RecordLoginFailure(context.Background(), 7, policy, testNow)
	if err != nil {
		t.Fatalf("RecordLoginFailure: %v", err)
	}
	if state.Attempts != 2 || state.Locked() {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestRecordLoginFailureRollsBackOnError(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`select login_attempts, locked_until from users`).
		WillReturnRows(sqlmock.NewRows([]string{"login_attempts", "locked_until"}).AddRow(0, nil))
	mock.ExpectExec(`update users`).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := store.Users().RecordLoginFailure(context.Background(), 7, auth.LockoutPolicy{MaxAttempts: 5, Duration: time.Minute}, testNow)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestRecordLoginFailureLeavesLiveLockAlone(t *testing.T) {
	store, mock := newMock(t)
	until := testNow.Add(10 * time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery(`select login_attempts, locked_until from users`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"login_attempts", "locked_until"}).AddRow(0, until))
	mock.ExpectRollback()

	state, err := store.Users().RecordLoginFailure(context.Background(), 7, auth.LockoutPolicy{MaxAttempts: 5, Duration: 15 * time.Minute}, testNow)
	if err != nil {
		t.Fatalf("RecordLoginFailure: %v", err)
	}
	if !state.AlreadyLocked || state.Attempts != 0 || !state.LockedUntil.Equal(until) {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestRecordLoginSuccessKeepsLiveLock(t *testing.T) {
	store, mock := newMock(t)
	until := testNow.Add(5 * time.Minute)

	mock.ExpectExec(`where id = \$1 and \(locked_until is null or locked_until <= \$2\)`).
		WithArgs(int64(7), testNow).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`select locked_until from users where id = \$1`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"locked_until"}).AddRow(until))

	err := store.Users().RecordLoginSuccess(context.Background(), 7, testNow)
	var locked *auth.AccountLockedError
	if !errors.As(err, &locked) || !locked.Until.Equal(until) {
		t.Fatalf("expected AccountLockedError until %v, got %v", until, err)
	}

	mock.ExpectExec(`update users`).
		WithArgs(int64(8), testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.Users().RecordLoginSuccess(context.Background(), 8, testNow); err != nil {
		t.Fatalf("RecordLoginSuccess: %v", err)
	}

	mock.ExpectExec(`update users`).
		WithArgs(int64(9), testNow).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`select locked_until from users`).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"locked_until"}))
	if err := store.Users().RecordLoginSuccess(context.Background(), 9, testNow); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindByIdentifier(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery(`where \(username = \$1 or lower\(email\) = lower\(\$1\)\)`).
		WithArgs("Alice@Example.com").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow(int64(3), "alice", "alice@example.com", "hash", true, nil, 2, nil, testNow, testNow, testNow))

	u, err := store.Users().FindByIdentifier(context.Background(), "Alice@Example.com")
	if err != nil {
		t.Fatalf("FindByIdentifier: %v", err)
	}
	if u.ID != 3 || u.LoginAttempts != 2 || u.LockedUntil != nil || u.LastLogin == nil {
		t.Fatalf("unexpected user %+v", u)
	}

	mock.ExpectQuery(`from users`).WithArgs("ghost").WillReturnRows(sqlmock.NewRows(userCols))
	if _, err := store.Users().FindByIdentifier(context.Background(), "ghost"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateUserConflict(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery(`insert into users`).
		WithArgs("alice", "alice@example.com", "hash").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	if _, err := store.Users().Create(context.Background(), " alice ", "alice@example.com", "hash"); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestSetActiveMissingUser(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec(`update users set is_active = \$2`).
		WithArgs(int64(99), false).
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.Users().SetActive(context.Background(), 99, false); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPingWithoutDB(t *testing.T) {
	var s *Store
	if err := s.Ping(context.Background()); err == nil {
		t.Fatal("expected error for nil store")
	}
}
