package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"gatehouse.dev/internal/ids"
	"gatehouse.dev/internal/obs"
)

const (
	defaultAccessTTL       = 15 * time.Minute
	defaultRefreshTTL      = 7 * 24 * time.Hour
	defaultMaxAttempts     = 5
	defaultLockoutDuration = 15 * time.Minute
)

// Service authenticates users and manages their sessions.
type Service struct {
	users    UserStore
	sessions SessionStore
	resolver *Resolver
	codec    *TokenCodec
	hasher   *Hasher

	lockout    LockoutPolicy
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	log        *zap.Logger
	events     EventPublisher
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token and session lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithLockout sets the failed-login threshold and lock duration.
func WithLockout(maxAttempts int, d time.Duration) ServiceOption {
	return func(s *Service) error {
		if maxAttempts < 1 {
			return fmt.Errorf("%w: max login attempts must be at least 1", ErrInvalidInput)
		}
		if d <= 0 {
			return fmt.Errorf("%w: lockout duration must be positive", ErrInvalidInput)
		}
		s.lockout = LockoutPolicy{MaxAttempts: maxAttempts, Duration: d}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.log = l
		}
		return nil
	}
}

func WithEvents(p EventPublisher) ServiceOption {
	return func(s *Service) error {
		if p != nil {
			s.events = p
		}
		return nil
	}
}

// NewService wires the authenticator from its collaborators.
func NewService(store Store, resolver *Resolver, codec *TokenCodec, hasher *Hasher, opts ...ServiceOption) (*Service, error) {
	if store == nil || resolver == nil || codec == nil || hasher == nil {
		return nil, errors.New("auth: store, resolver, codec and hasher are required")
	}
	svc := &Service{
		users:      store.Users(),
		sessions:   store.Sessions(),
		resolver:   resolver,
		codec:      codec,
		hasher:     hasher,
		lockout:    LockoutPolicy{MaxAttempts: defaultMaxAttempts, Duration: defaultLockoutDuration},
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
		log:        zap.NewNop(),
		events:     nopPublisher{},
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// TokenPair is the result of a successful login.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// AccessGrant is the result of a refresh.
type AccessGrant struct {
	AccessToken string
	ExpiresAt   time.Time
	Principal   Principal
}

// Login authenticates identifier (username or email) and password, applying
// the lockout policy, and opens a session on success.
func (s *Service) Login(ctx context.Context, identifier, password string, info SessionInfo) (TokenPair, Principal, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		obs.LoginAttempt("invalid_credentials")
		return TokenPair{}, Principal{}, ErrInvalidCredentials
	}

	user, err := s.users.FindByIdentifier(ctx, identifier)
	if errors.Is(err, ErrNotFound) {
		s.hasher.CompareDummy(password)
		obs.LoginAttempt("invalid_credentials")
		return TokenPair{}, Principal{}, ErrInvalidCredentials
	}
	if err != nil {
		return TokenPair{}, Principal{}, fmt.Errorf("find user: %w", err)
	}
	if !user.Usable() {
		s.hasher.CompareDummy(password)
		obs.LoginAttempt("invalid_credentials")
		return TokenPair{}, Principal{}, ErrInvalidCredentials
	}

	now := s.now()
	if _, locked := user.LockRemaining(now); locked {
		s.log.Warn("login attempt for locked account",
			zap.Int64("user_id", user.ID),
			zap.Time("locked_until", *user.LockedUntil))
		obs.LoginAttempt("locked")
		return TokenPair{}, Principal{}, lockedAt(*user.LockedUntil, now)
	}

	if err := ctx.Err(); err != nil {
		return TokenPair{}, Principal{}, err
	}
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		return TokenPair{}, Principal{}, s.failLogin(ctx, user, now)
	}

	if err := s.users.RecordLoginSuccess(ctx, user.ID, now); err != nil {
		var locked *AccountLockedError
		if errors.As(err, &locked) {
			obs.LoginAttempt("locked")
			return TokenPair{}, Principal{}, lockedAt(locked.Until, now)
		}
		return TokenPair{}, Principal{}, fmt.Errorf("record login: %w", err)
	}
	perms, err := s.resolver.PermissionsForUser(ctx, user.ID)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	principal := NewPrincipal(user, perms)
	pair, err := s.openSession(ctx, principal, info, now)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	s.log.Info("login succeeded", zap.Int64("user_id", user.ID), zap.String("ip", info.IPAddress))
	obs.LoginAttempt("success")
	return pair, principal, nil
}

// failLogin persists the failed attempt before reporting invalid credentials.
func (s *Service) failLogin(ctx context.Context, user User, now time.Time) error {
	state, err := s.users.RecordLoginFailure(ctx, user.ID, s.lockout, now)
	if err != nil {
		return fmt.Errorf("record failed login: %w", err)
	}
	if state.AlreadyLocked {
		obs.LoginAttempt("locked")
		return lockedAt(*state.LockedUntil, now)
	}
	if state.Locked() {
		s.log.Warn("account locked",
			zap.Int64("user_id", user.ID),
			zap.Time("locked_until", *state.LockedUntil),
			zap.Int("max_attempts", s.lockout.MaxAttempts))
		obs.Lockout()
		s.publish(ctx, Event{
			Type:       EventAccountLocked,
			UserID:     user.ID,
			OccurredAt: now.UTC(),
			Attributes: map[string]string{
				"locked_until": state.LockedUntil.UTC().Format(time.RFC3339),
			},
		})
	}
	obs.LoginAttempt("invalid_credentials")
	return ErrInvalidCredentials
}

func lockedAt(until, now time.Time) *AccountLockedError {
	return &AccountLockedError{Until: until, MinutesRemaining: minutesCeil(until.Sub(now))}
}

func (s *Service) openSession(ctx context.Context, p Principal, info SessionInfo, now time.Time) (TokenPair, error) {
	access, accessExp, err := s.codec.Issue(KindAccess, p, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, _, err := s.codec.Issue(KindRefresh, p, s.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	sess := Session{
		ID:           ids.NewAt(now),
		UserID:       p.ID,
		RefreshToken: refresh,
		IssuedAt:     now,
		ExpiresAt:    now.Add(s.refreshTTL),
		LastUsed:     now,
		UserAgent:    info.UserAgent,
		IPAddress:    info.IPAddress,
		DeviceInfo:   info.DeviceInfo,
		IsActive:     true,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return TokenPair{}, fmt.Errorf("create session: %w", err)
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: sess.ExpiresAt,
	}, nil
}

// Refresh issues a new access token for a live session. The refresh token
// itself is not rotated.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (AccessGrant, error) {
	if _, err := s.codec.VerifyKind(refreshToken, KindRefresh); err != nil {
		obs.TokenRefresh("rejected")
		return AccessGrant{}, err
	}
	now := s.now()
	sess, err := s.sessions.FindUsable(ctx, refreshToken, now)
	if errors.Is(err, ErrNotFound) {
		obs.TokenRefresh("invalid_session")
		return AccessGrant{}, ErrInvalidSession
	}
	if err != nil {
		return AccessGrant{}, fmt.Errorf("find session: %w", err)
	}
	user, err := s.users.FindByID(ctx, sess.UserID)
	if errors.Is(err, ErrNotFound) || (err == nil && !user.Usable()) {
		obs.TokenRefresh("invalid_session")
		return AccessGrant{}, ErrInvalidSession
	}
	if err != nil {
		return AccessGrant{}, fmt.Errorf("find user: %w", err)
	}
	if err := s.sessions.Touch(ctx, sess.ID, now); err != nil {
		return AccessGrant{}, fmt.Errorf("touch session: %w", err)
	}
	perms, err := s.resolver.PermissionsForUser(ctx, user.ID)
	if err != nil {
		return AccessGrant{}, err
	}
	principal := NewPrincipal(user, perms)
	access, exp, err := s.codec.Issue(KindAccess, principal, s.accessTTL)
	if err != nil {
		return AccessGrant{}, err
	}
	obs.TokenRefresh("success")
	return AccessGrant{AccessToken: access, ExpiresAt: exp, Principal: principal}, nil
}

// Logout revokes the session(s) holding refreshToken. Unknown tokens are not an error.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}
	n, err := s.sessions.RevokeByToken(ctx, refreshToken)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	s.log.Debug("logout", zap.Int64("revoked", n))
	return nil
}

// LogoutAll revokes every session of userID and returns how many were affected.
func (s *Service) LogoutAll(ctx context.Context, userID int64) (int64, error) {
	n, err := s.sessions.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}
	s.log.Info("all sessions revoked", zap.Int64("user_id", userID), zap.Int64("revoked", n))
	s.publish(ctx, Event{
		Type:       EventSessionsRevoked,
		UserID:     userID,
		OccurredAt: s.now().UTC(),
		Attributes: map[string]string{"revoked": strconv.FormatInt(n, 10)},
	})
	return n, nil
}

// Sessions lists the user's usable sessions, most recently used first.
func (s *Service) Sessions(ctx context.Context, userID int64) ([]SessionView, error) {
	list, err := s.sessions.ListUsable(ctx, userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]SessionView, 0, len(list))
	for _, sess := range list {
		out = append(out, sess.View())
	}
	return out, nil
}

// Deactivate disables the account and revokes all of its sessions.
func (s *Service) Deactivate(ctx context.Context, userID int64) error {
	if err := s.users.SetActive(ctx, userID, false); err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	n, err := s.sessions.RevokeAllForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	s.log.Info("user deactivated", zap.Int64("user_id", userID), zap.Int64("revoked", n))
	s.publish(ctx, Event{Type: EventUserDeactivated, UserID: userID, OccurredAt: s.now().UTC()})
	return nil
}

// CreateUser hashes password and stores a new account. Used by operator tooling.
func (s *Service) CreateUser(ctx context.Context, username, email, password string) (User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" {
		return User{}, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: email is invalid", ErrInvalidInput)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return User{}, err
	}
	return s.users.Create(ctx, username, email, hash)
}

func (s *Service) publish(ctx context.Context, ev Event) {
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn("publish event failed", zap.String("type", ev.Type), zap.Error(err))
	}
}
