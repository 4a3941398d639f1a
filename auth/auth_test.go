package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/U22-2025/WIP-sub001/auth"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	key := []byte("shared-secret")
	data := []byte("packet bytes with signature field zeroed")

	sig := auth.Sign(key, data)
	require.True(t, auth.Verify(key, data, sig))
}

func TestVerifyRejectsTamperedData(t *testing.T) {
	key := []byte("shared-secret")
	data := []byte("original")
	sig := auth.Sign(key, data)

	require.False(t, auth.Verify(key, []byte("tampered"), sig))
}

func TestAuthHashMatchesBetweenClientAndServer(t *testing.T) {
	// scenario 6 from the protocol's testable properties
	hash := auth.AuthHash(42, 1700000000, "secret")
	require.True(t, auth.VerifyAuthHash(42, 1700000000, "secret", hash))
}

func TestAuthHashWrongPassphraseFails(t *testing.T) {
	hash := auth.AuthHash(42, 1700000000, "secret")
	require.False(t, auth.VerifyAuthHash(42, 1700000000, "wrong", hash))
}

func TestTokenRoundTrip(t *testing.T) {
	key := []byte("api-key")
	now := time.Unix(1700000000, 0)

	tok := auth.NewToken(key, "client-1", 0, now)
	parsed, err := auth.ParseToken(tok.String())
	require.NoError(t, err)

	require.NoError(t, auth.VerifyToken(key, "client-1", parsed, now.Add(30*time.Minute)))
}

func TestTokenExpires(t *testing.T) {
	key := []byte("api-key")
	now := time.Unix(1700000000, 0)

	tok := auth.NewToken(key, "client-1", time.Minute, now)
	err := auth.VerifyToken(key, "client-1", tok, now.Add(2*time.Minute))
	require.Error(t, err)
}

func TestTokenDefaultsToOneHourTTL(t *testing.T) {
	key := []byte("api-key")
	now := time.Unix(1700000000, 0)

	tok := auth.NewToken(key, "client-1", 0, now)
	require.Equal(t, now.Add(time.Hour).Unix(), tok.Expiry)
}

func TestTokenRejectsWrongClientID(t *testing.T) {
	key := []byte("api-key")
	now := time.Unix(1700000000, 0)

	tok := auth.NewToken(key, "client-1", 0, now)
	err := auth.VerifyToken(key, "client-2", tok, now)
	require.Error(t, err)
}
