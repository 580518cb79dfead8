package identity

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testGoogleIssuer   = "https://accounts.google.com"
	testGoogleClientID = "client-123.apps.googleusercontent.com"
)

func signGoogleToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return raw
}

func googleClaims(aud string) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":            testGoogleIssuer,
		"aud":            aud,
		"sub":            "1098765",
		"email":          "grace@example.com",
		"email_verified": true,
		"given_name":     "Grace",
		"family_name":    "Hopper",
		"picture":        "https://example.com/grace.png",
		"iat":            time.Now().Unix(),
		"exp":            time.Now().Add(time.Hour).Unix(),
	}
}

func newKeySetVerifier(t *testing.T) (*rsa.PrivateKey, GoogleVerifier) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}
	return key, NewGoogleVerifierWithKeySet(testGoogleIssuer, testGoogleClientID, keySet)
}

func TestGoogleVerifier_Valid(t *testing.T) {
	key, v := newKeySetVerifier(t)

	id, err := v.Verify(context.Background(), signGoogleToken(t, key, googleClaims(testGoogleClientID)))
	require.NoError(t, err)
	assert.Equal(t, GoogleIdentity{
		Subject:       "1098765",
		Email:         "grace@example.com",
		EmailVerified: true,
		GivenName:     "Grace",
		FamilyName:    "Hopper",
		Picture:       "https://example.com/grace.png",
	}, id)
}

func TestGoogleVerifier_WrongAudience(t *testing.T) {
	key, v := newKeySetVerifier(t)

	_, err := v.Verify(context.Background(), signGoogleToken(t, key, googleClaims("someone-else")))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestGoogleVerifier_WrongKey(t *testing.T) {
	_, v := newKeySetVerifier(t)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), signGoogleToken(t, other, googleClaims(testGoogleClientID)))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestGoogleVerifier_MissingEmail(t *testing.T) {
	key, v := newKeySetVerifier(t)
	claims := googleClaims(testGoogleClientID)
	delete(claims, "email")

	_, err := v.Verify(context.Background(), signGoogleToken(t, key, claims))
	assert.ErrorIs(t, err, ErrInvalidToken)
}
