package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/timelock/internal/clock"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTokens(t *testing.T, clk clock.Clock) *Tokens {
	t.Helper()
	tokens, err := NewTokens("test-secret", clk)
	require.NoError(t, err)
	return tokens
}

func TestIssueAndVerify(t *testing.T) {
	clk := clock.NewMock(epoch)
	tokens := newTokens(t, clk)

	tok, err := tokens.Issue("alice", time.Hour)
	require.NoError(t, err)

	owner, err := tokens.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)
}

func TestVerifyExpired(t *testing.T) {
	clk := clock.NewMock(epoch)
	tokens := newTokens(t, clk)

	tok, err := tokens.Issue("alice", time.Minute)
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	_, err = tokens.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssueWithoutExpiry(t *testing.T) {
	clk := clock.NewMock(epoch)
	tokens := newTokens(t, clk)

	tok, err := tokens.Issue("alice", 0)
	require.NoError(t, err)

	clk.Advance(24 * 365 * time.Hour)
	owner, err := tokens.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)
}

func TestVerifyRejectsOtherSecret(t *testing.T) {
	clk := clock.NewMock(epoch)
	other, err := NewTokens("other-secret", clk)
	require.NoError(t, err)

	tok, err := other.Issue("mallory", time.Hour)
	require.NoError(t, err)

	_, err = newTokens(t, clk).Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsNoneAlgorithm(t *testing.T) {
	clk := clock.NewMock(epoch)
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "mallory", Issuer: issuer})
	tok, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = newTokens(t, clk).Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyGarbage(t *testing.T) {
	_, err := newTokens(t, clock.NewMock(epoch)).Verify("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewTokensRequiresSecret(t *testing.T) {
	_, err := NewTokens("", clock.System())
	assert.Error(t, err)

	tokens := newTokens(t, clock.System())
	_, err = tokens.Issue("", time.Hour)
	assert.Error(t, err)
}
