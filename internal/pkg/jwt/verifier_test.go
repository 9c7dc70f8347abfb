package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	v, err := NewVerifier(Config{Secret: "s3cret", Issuer: "accounts"})
	require.NoError(t, err)

	token, err := v.Issue("cus_1", "jane@example.com", time.Hour)
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "cus_1", claims.CustomerID())
	assert.Equal(t, "jane@example.com", claims.Email)
}

func TestVerifyRejects(t *testing.T) {
	v, err := NewVerifier(Config{Secret: "s3cret", Issuer: "accounts"})
	require.NoError(t, err)

	expired, err := v.Issue("cus_1", "", -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	assert.Error(t, err)

	other, _ := NewVerifier(Config{Secret: "other", Issuer: "accounts"})
	forged, err := other.Issue("cus_1", "", time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(forged)
	assert.Error(t, err)

	wrongIssuer, _ := NewVerifier(Config{Secret: "s3cret", Issuer: "elsewhere"})
	foreign, err := wrongIssuer.Issue("cus_1", "", time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(foreign)
	assert.Error(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "cus_1"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = v.Verify(unsigned)
	assert.Error(t, err)
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier(Config{})
	assert.Error(t, err)
}
