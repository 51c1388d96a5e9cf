package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bandbridge/audio/internal/config"
)

const secret = "test-secret"

func TestLegacyTokenRoundTrip(t *testing.T) {
	token, err := GenerateLegacyToken(secret, "user-1", "user@example.com", time.Hour)
	require.NoError(t, err)

	claims, err := ValidateLegacyToken(token, secret)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "user@example.com", claims.Email)
	assert.Equal(t, LegacyIssuer, claims.Issuer)
}

func TestLegacyTokenRejected(t *testing.T) {
	token, err := GenerateLegacyToken(secret, "user-1", "", time.Hour)
	require.NoError(t, err)
	_, err = ValidateLegacyToken(token, "other-secret")
	assert.Error(t, err)

	claims := LegacyClaims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	_, err = ValidateLegacyToken(expired, secret)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = ValidateLegacyToken(unsigned, secret)
	assert.Error(t, err)

	_, err = GenerateLegacyToken("", "user-1", "", 0)
	assert.Error(t, err)
}

// oidcServer serves a discovery document and a JWKS holding key.
func oidcServer(t *testing.T, key *rsa.PrivateKey) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server

	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":   srv.URL,
			"jwks_uri": srv.URL + "/keys",
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": "test-key",
				"alg": "RS256",
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func signRS256(t *testing.T, key *rsa.PrivateKey, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "test-key"
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestJWKSVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := oidcServer(t, key)

	v, err := NewJWKSVerifier(&config.AuthConfig{Issuer: srv.URL, Audience: "bandbridge"})
	require.NoError(t, err)
	t.Cleanup(func() { v.Close() })

	valid := Claims{
		UserID: "user-42",
		Email:  "u42@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    srv.URL,
			Audience:  jwt.ClaimStrings{"bandbridge"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	claims, err := v.Validate(signRS256(t, key, valid))
	require.NoError(t, err)
	assert.Equal(t, "user-42", claims.UserID)

	wrongAudience := valid
	wrongAudience.Audience = jwt.ClaimStrings{"someone-else"}
	_, err = v.Validate(signRS256(t, key, wrongAudience))
	assert.Error(t, err)

	noExpiry := valid
	noExpiry.ExpiresAt = nil
	_, err = v.Validate(signRS256(t, key, noExpiry))
	assert.Error(t, err)

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	_, err = v.Validate(signRS256(t, other, valid))
	assert.Error(t, err)
}

func TestJWKSVerifierRequiresIssuer(t *testing.T) {
	_, err := NewJWKSVerifier(&config.AuthConfig{})
	assert.Error(t, err)

	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	_, err = NewJWKSVerifier(&config.AuthConfig{Issuer: srv.URL})
	assert.Error(t, err)
}
