package jwt

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestIssuer(t *testing.T, now func() time.Time) *Issuer {
	t.Helper()
	iss, err := NewIssuer(Options{
		Secret:   testSecret,
		Issuer:   "learnhub",
		Audience: "learnhub-users",
		Now:      now,
	})
	require.NoError(t, err)
	return iss
}

func TestIssueAndVerify(t *testing.T) {
	iss := newTestIssuer(t, nil)

	token, err := iss.IssueAccessToken("u1", "STUDENT")
	require.NoError(t, err)

	p, err := iss.VerifyAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, Principal{UserID: "u1", Role: "STUDENT"}, p)
	assert.Equal(t, DefaultAccessTTL, iss.AccessTTL())
}

func TestVerifyExpired(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	iss := newTestIssuer(t, func() time.Time { return clock })

	token, err := iss.IssueAccessToken("u1", "ADMIN")
	require.NoError(t, err)

	clock = base.Add(14 * time.Minute)
	_, err = iss.VerifyAccessToken(token)
	require.NoError(t, err)

	clock = base.Add(16 * time.Minute)
	_, err = iss.VerifyAccessToken(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsMismatches(t *testing.T) {
	iss := newTestIssuer(t, nil)

	other, err := NewIssuer(Options{Secret: testSecret, Issuer: "someone-else", Audience: "learnhub-users"})
	require.NoError(t, err)
	wrongIssuer, err := other.IssueAccessToken("u1", "STUDENT")
	require.NoError(t, err)

	otherAud, err := NewIssuer(Options{Secret: testSecret, Issuer: "learnhub", Audience: "admins"})
	require.NoError(t, err)
	wrongAudience, err := otherAud.IssueAccessToken("u1", "STUDENT")
	require.NoError(t, err)

	otherKey, err := NewIssuer(Options{Secret: "another-secret-of-32-characters!", Issuer: "learnhub", Audience: "learnhub-users"})
	require.NoError(t, err)
	wrongKey, err := otherKey.IssueAccessToken("u1", "STUDENT")
	require.NoError(t, err)

	hs512 := jwtlib.NewWithClaims(jwtlib.SigningMethodHS512, Claims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "u1",
			Issuer:    "learnhub",
			Audience:  jwtlib.ClaimStrings{"learnhub-users"},
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})
	wrongAlg, err := hs512.SignedString([]byte(testSecret))
	require.NoError(t, err)

	cases := map[string]string{
		"empty":          "",
		"garbage":        "not.a.token",
		"wrong issuer":   wrongIssuer,
		"wrong audience": wrongAudience,
		"wrong key":      wrongKey,
		"wrong method":   wrongAlg,
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := iss.VerifyAccessToken(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
			assert.False(t, errors.Is(err, ErrTokenExpired))
		})
	}
}

func TestNewIssuerValidation(t *testing.T) {
	_, err := NewIssuer(Options{Secret: "short", Issuer: "a", Audience: "b"})
	assert.ErrorIs(t, err, ErrWeakSecret)

	_, err = NewIssuer(Options{Secret: testSecret})
	assert.Error(t, err)
}

func TestGenerateRefreshSecret(t *testing.T) {
	a, err := GenerateRefreshSecret()
	require.NoError(t, err)
	b, err := GenerateRefreshSecret()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	raw, err := base64.RawURLEncoding.DecodeString(a)
	require.NoError(t, err)
	assert.Len(t, raw, RefreshSecretBytes)
}
