// Package auth issues and verifies the bearer tokens that scope every vault
// request to an owner.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/vbonduro/timelock/internal/clock"
)

var ErrInvalidToken = errors.New("invalid token")

const issuer = "timelock"

// Tokens signs and verifies HS256 tokens whose subject is the owner id.
type Tokens struct {
	secret []byte
	clk    clock.Clock
}

func NewTokens(secret string, clk clock.Clock) (*Tokens, error) {
	if secret == "" {
		return nil, errors.New("token secret must not be empty")
	}
	return &Tokens{secret: []byte(secret), clk: clk}, nil
}

// Issue returns a signed token for owner. A zero ttl yields a token with no
// expiry.
func (t *Tokens) Issue(owner string, ttl time.Duration) (string, error) {
	if owner == "" {
		return "", errors.New("owner must not be empty")
	}
	now := t.clk.Now()
	claims := jwt.RegisteredClaims{
		Subject:  owner,
		Issuer:   issuer,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify returns the owner id carried by token.
func (t *Tokens) Verify(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(t.clk.Now))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
