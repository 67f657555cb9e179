package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultIssuer = "gatehouse"

// TokenKind distinguishes access from refresh tokens.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

func (k TokenKind) valid() bool { return k == KindAccess || k == KindRefresh }

// TokenPayload is the verified content of a token.
type TokenPayload struct {
	ID        string
	Kind      TokenKind
	Principal Principal
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type tokenClaims struct {
	UserID      int64     `json:"uid"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	Permissions []string  `json:"perms"`
	Kind        TokenKind `json:"kind"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies HS256 bearer tokens.
type TokenCodec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// CodecOption configures TokenCodec.
type CodecOption func(*TokenCodec)

// WithCodecIssuer overrides the iss claim.
func WithCodecIssuer(issuer string) CodecOption {
	return func(c *TokenCodec) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			c.issuer = issuer
		}
	}
}

// WithCodecClock overrides the time source.
func WithCodecClock(fn func() time.Time) CodecOption {
	return func(c *TokenCodec) {
		if fn != nil {
			c.now = fn
		}
	}
}

func NewTokenCodec(secret string, opts ...CodecOption) (*TokenCodec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: token secret is required")
	}
	c := &TokenCodec{
		secret: []byte(secret),
		issuer: defaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue signs a token of the given kind carrying the principal snapshot.
func (c *TokenCodec) Issue(kind TokenKind, p Principal, ttl time.Duration) (string, time.Time, error) {
	if !kind.valid() {
		return "", time.Time{}, fmt.Errorf("%w: unknown token kind %q", ErrInvalidInput, kind)
	}
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("%w: ttl must be positive", ErrInvalidInput)
	}
	now := c.now().UTC()
	exp := now.Add(ttl)
	claims := tokenClaims{
		UserID:      p.ID,
		Username:    p.Username,
		Email:       p.Email,
		Permissions: p.Permissions.Strings(),
		Kind:        kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   strconv.FormatInt(p.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature, expiry and shape. Every failure is ErrInvalidToken.
func (c *TokenCodec) Verify(token string) (TokenPayload, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return TokenPayload{}, ErrInvalidToken
	}
	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !parsed.Valid {
		return TokenPayload{}, ErrInvalidToken
	}
	if !claims.Kind.valid() || claims.IssuedAt == nil {
		return TokenPayload{}, ErrInvalidToken
	}
	if claims.Subject != strconv.FormatInt(claims.UserID, 10) {
		return TokenPayload{}, ErrInvalidToken
	}
	return TokenPayload{
		ID:   claims.ID,
		Kind: claims.Kind,
		Principal: Principal{
			ID:          claims.UserID,
			Username:    claims.Username,
			Email:       claims.Email,
			Permissions: NewPermissionSet(claims.Permissions...),
		},
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// VerifyKind is Verify plus a kind check that fails with ErrInvalidTokenType.
func (c *TokenCodec) VerifyKind(token string, kind TokenKind) (TokenPayload, error) {
	payload, err := c.Verify(token)
	if err != nil {
		return TokenPayload{}, err
	}
	if payload.Kind != kind {
		return TokenPayload{}, ErrInvalidTokenType
	}
	return payload, nil
}
