package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/team"
)

// ErrInvalidToken signals a missing, malformed, expired or wrongly signed bearer token.
var ErrInvalidToken = errors.New("auth: invalid token")

const defaultTTL = 24 * time.Hour

// Tokens signs and verifies HS256 bearer tokens carrying a user_id claim.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens creates a token codec for the shared secret.
func NewTokens(secret string) *Tokens {
	return &Tokens{
		secret: []byte(secret),
		ttl:    defaultTTL,
		now:    time.Now,
	}
}

// WithClock overrides the clock used for issued-at and expiry.
func (t *Tokens) WithClock(now func() time.Time) {
	if now != nil {
		t.now = now
	}
}

// WithTTL overrides the lifetime of issued tokens.
func (t *Tokens) WithTTL(ttl time.Duration) {
	if ttl > 0 {
		t.ttl = ttl
	}
}

// Issue signs a token for userID. Login lives with the platform's identity
// service; this is used by operator tooling and tests.
func (t *Tokens) Issue(userID team.UserID) (string, error) {
	issued := t.now()
	claims := jwt.MapClaims{
		"user_id": string(userID),
		"iat":     issued.Unix(),
		"exp":     issued.Add(t.ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Verify validates tokenString and returns the caller's user id.
func (t *Tokens) Verify(tokenString string) (team.UserID, error) {
	if tokenString == "" {
		return "", ErrInvalidToken
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	raw, ok := claims["user_id"].(string)
	if !ok {
		return "", fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	userID, err := team.ParseUserID(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return userID, nil
}
