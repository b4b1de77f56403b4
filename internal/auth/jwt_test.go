package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackrec/trackrec/internal/auth"
)

func newService(t *testing.T, key, issuer, audience string) *auth.TokenService {
	t.Helper()
	svc, err := auth.NewTokenService(auth.TokenConfig{
		SigningKey: key,
		Issuer:     issuer,
		Audience:   audience,
	})
	require.NoError(t, err)
	return svc
}

func TestTokenService_IssueAndValidate(t *testing.T) {
	svc := newService(t, "test-secret-key-for-testing-only", "trackrec", "trackrec-api")

	token, expiresAt, err := svc.Issue("dev_pixel7")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(auth.DefaultTokenTTL), expiresAt, 5*time.Second)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "dev_pixel7", claims.DeviceID)
	assert.Equal(t, "dev_pixel7", claims.Subject)
	assert.Equal(t, "trackrec", claims.Issuer)

	deviceID, err := svc.ValidateDevice(token)
	require.NoError(t, err)
	assert.Equal(t, "dev_pixel7", deviceID)
}

func TestTokenService_MissingKey(t *testing.T) {
	_, err := auth.NewTokenService(auth.TokenConfig{})
	assert.ErrorIs(t, err, auth.ErrMissingKey)
}

func TestTokenService_EmptyDeviceID(t *testing.T) {
	svc := newService(t, "k", "trackrec", "trackrec-api")
	_, _, err := svc.Issue("")
	assert.Error(t, err)
}

func TestTokenService_InvalidToken(t *testing.T) {
	svc := newService(t, "test-secret-key-for-testing-only", "trackrec", "trackrec-api")

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"malformed token", "not.a.valid.jwt"},
		{"invalid base64", "xxx.yyy.zzz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Validate(tt.token)
			assert.ErrorIs(t, err, auth.ErrInvalidToken)
		})
	}
}

func TestTokenService_Expired(t *testing.T) {
	issuedAt := time.Now().Add(-2 * time.Hour)
	issuer, err := auth.NewTokenService(auth.TokenConfig{
		SigningKey: "k",
		Issuer:     "trackrec",
		Audience:   "trackrec-api",
		TTL:        time.Hour,
		Now:        func() time.Time { return issuedAt },
	})
	require.NoError(t, err)

	token, _, err := issuer.Issue("dev_1")
	require.NoError(t, err)

	_, err = newService(t, "k", "trackrec", "trackrec-api").Validate(token)
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
}

func TestTokenService_Mismatch(t *testing.T) {
	tests := []struct {
		name      string
		validator *auth.TokenService
	}{
		{"wrong signing key", newService(t, "key-two", "trackrec", "trackrec-api")},
		{"wrong issuer", newService(t, "key-one", "other", "trackrec-api")},
		{"wrong audience", newService(t, "key-one", "trackrec", "other-api")},
	}

	token, _, err := newService(t, "key-one", "trackrec", "trackrec-api").Issue("dev_1")
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.validator.Validate(token)
			assert.ErrorIs(t, err, auth.ErrInvalidToken)
		})
	}
}
