package referral

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Numdrassl/proxy/internal/proxyerr"
)

func TestSignPlayerRoundTrip(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	signer := NewSigner(secret)
	playerID := uuid.New()
	now := time.Now()

	blob := signer.SignPlayer(playerID, "Steve", "lobby", "203.0.113.7", now)
	require.False(t, IsControl(blob))

	info, err := VerifyPlayer(signer, blob, playerID, "Steve", "lobby", now)
	require.NoError(t, err)
	require.Equal(t, playerID, info.PlayerID)
	require.Equal(t, "Steve", info.Username)
	require.Equal(t, "lobby", info.BackendName)
	require.Equal(t, "203.0.113.7", info.ClientIP)
}

func TestVerifyPlayerRejectsTamperedByte(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	signer := NewSigner(secret)
	playerID := uuid.New()
	now := time.Now()

	blob := signer.SignPlayer(playerID, "Steve", "lobby", "203.0.113.7", now)
	blob[10] ^= 0xFF

	_, err := VerifyPlayer(signer, blob, playerID, "Steve", "lobby", now)
	require.ErrorIs(t, err, proxyerr.ErrInvalidReferral)
}

func TestVerifyPlayerRejectsTamperedHMAC(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	signer := NewSigner(secret)
	playerID := uuid.New()
	now := time.Now()

	blob := signer.SignPlayer(playerID, "Steve", "lobby", "203.0.113.7", now)
	blob[len(blob)-1] ^= 0xFF

	_, err := VerifyPlayer(signer, blob, playerID, "Steve", "lobby", now)
	require.ErrorIs(t, err, proxyerr.ErrInvalidReferral)
}

func TestVerifyPlayerRejectsWrongSecret(t *testing.T) {
	playerID := uuid.New()
	now := time.Now()
	blob := NewSigner([]byte("secret-a-secret-a-secret-a-secre")).SignPlayer(playerID, "Steve", "lobby", "1.2.3.4", now)

	_, err := VerifyPlayer(NewSigner([]byte("secret-b-secret-b-secret-b-secre")), blob, playerID, "Steve", "lobby", now)
	require.ErrorIs(t, err, proxyerr.ErrInvalidReferral)
}

func TestVerifyPlayerRejectsIdentityMismatch(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	signer := NewSigner(secret)
	playerID := uuid.New()
	other := uuid.New()
	now := time.Now()

	blob := signer.SignPlayer(playerID, "Steve", "lobby", "1.2.3.4", now)

	_, err := VerifyPlayer(signer, blob, other, "Steve", "lobby", now)
	require.ErrorIs(t, err, proxyerr.ErrIdentityMismatch)

	_, err = VerifyPlayer(signer, blob, playerID, "NotSteve", "lobby", now)
	require.ErrorIs(t, err, proxyerr.ErrIdentityMismatch)

	_, err = VerifyPlayer(signer, blob, playerID, "Steve", "arena", now)
	require.ErrorIs(t, err, proxyerr.ErrIdentityMismatch)

	// Backend name match is case-insensitive.
	_, err = VerifyPlayer(signer, blob, playerID, "Steve", "LOBBY", now)
	require.NoError(t, err)
}

func TestVerifyPlayerRejectsStaleTimestamp(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	signer := NewSigner(secret)
	playerID := uuid.New()
	old := time.Now().Add(-10 * time.Minute)

	blob := signer.SignPlayer(playerID, "Steve", "lobby", "1.2.3.4", old)

	_, err := VerifyPlayer(signer, blob, playerID, "Steve", "lobby", time.Now())
	require.ErrorIs(t, err, proxyerr.ErrStaleReferral)
}

func TestControlRoundTrip(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	signer := NewSigner(secret)
	now := time.Now()

	blob := signer.SignControl("arena", now)
	require.True(t, IsControl(blob))

	info, err := VerifyControl(signer, blob, "arena", now)
	require.NoError(t, err)
	require.Equal(t, "arena", info.BackendName)
}

func TestControlRejectsWrongBackend(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	signer := NewSigner(secret)
	now := time.Now()

	blob := signer.SignControl("arena", now)
	_, err := VerifyControl(signer, blob, "lobby", now)
	require.ErrorIs(t, err, proxyerr.ErrIdentityMismatch)
}
