// Package referral implements the HMAC-tagged referral blobs that carry
// player identity and destination backend across the proxy-to-backend
// boundary without a second round trip to the session service.
//
// Wire layout (see SPEC_FULL.md §3, §4.4):
//
//	u16 len || tag bytes            (control marker, or the player's raw uuid)
//	i64      || millisecond timestamp
//	u16 len  || backend name bytes
//	u16 len  || username bytes      (player blobs only)
//	u16 len  || client ip bytes     (player blobs only)
//	32 bytes || HMAC-SHA256 over everything above
package referral

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"time"

	"github.com/google/uuid"

	"github.com/Numdrassl/proxy/internal/proxyerr"
)

// ControlTag is the literal marker that identifies a control-connection
// handshake blob, disambiguating it from a player-info blob whose first
// field is instead the player's raw uuid bytes.
const ControlTag = "NUMDRASSL_CONTROL"

// Window is the tolerance around "now" a referral timestamp must fall
// within to be accepted. Coarse replay protection; no nonce store.
const Window = 5 * time.Minute

const hmacSize = sha256.Size

// Signer signs and verifies referral blobs with a shared 32-byte secret.
type Signer struct {
	secret []byte
}

// NewSigner builds a Signer around the given shared secret.
func NewSigner(secret []byte) *Signer {
	cp := make([]byte, len(secret))
	copy(cp, secret)
	return &Signer{secret: cp}
}

// PlayerInfo is the decoded form of a player-info referral blob.
type PlayerInfo struct {
	PlayerID    uuid.UUID
	Username    string
	BackendName string
	ClientIP    string
	Timestamp   time.Time
}

// ControlInfo is the decoded form of a control-connection handshake blob.
type ControlInfo struct {
	BackendName string
	Timestamp   time.Time
}

func writeField(buf *[]byte, data []byte) {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(data)))
	*buf = append(*buf, lenBuf[:]...)
	*buf = append(*buf, data...)
}

func readField(data []byte) (field, rest []byte, ok bool) {
	if len(data) < 2 {
		return nil, nil, false
	}
	n := int(binary.BigEndian.Uint16(data[:2]))
	data = data[2:]
	if len(data) < n {
		return nil, nil, false
	}
	return data[:n], data[n:], true
}

// SignPlayer produces a player-info referral blob authorizing playerID
// (with the given username) to join backendName, as observed from
// clientIP.
func (s *Signer) SignPlayer(playerID uuid.UUID, username, backendName, clientIP string, now time.Time) []byte {
	var buf []byte
	writeField(&buf, playerID[:])

	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(now.UnixMilli()))
	buf = append(buf, tsBuf[:]...)

	writeField(&buf, []byte(backendName))
	writeField(&buf, []byte(username))
	writeField(&buf, []byte(clientIP))

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(buf)
	return append(buf, mac.Sum(nil)...)
}

// SignControl produces a control-connection handshake blob authorizing
// this proxy to open a control stream to backendName.
func (s *Signer) SignControl(backendName string, now time.Time) []byte {
	var buf []byte
	writeField(&buf, []byte(ControlTag))

	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(now.UnixMilli()))
	buf = append(buf, tsBuf[:]...)

	writeField(&buf, []byte(backendName))

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(buf)
	return append(buf, mac.Sum(nil)...)
}

// IsControl reports whether blob's leading tag field is the control
// marker, without verifying the HMAC. Used to route a decoded blob to
// VerifyControl or VerifyPlayer.
func IsControl(blob []byte) bool {
	tag, _, ok := readField(blob)
	if !ok {
		return false
	}
	return string(tag) == ControlTag
}

func (s *Signer) verifyMAC(blob []byte) ([]byte, bool) {
	if len(blob) < hmacSize {
		return nil, false
	}
	body := blob[:len(blob)-hmacSize]
	sig := blob[len(blob)-hmacSize:]
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	return body, hmac.Equal(mac.Sum(nil), sig)
}

// VerifyPlayer validates a player-info referral blob's signature and,
// when expectedPlayerID/expectedUsername/expectedBackend are non-empty,
// that the declared identity matches what the caller observed by other
// means (e.g. the QUIC handshake certificate, or the receiving backend's
// own configured name).
func VerifyPlayer(s *Signer, blob []byte, expectedPlayerID uuid.UUID, expectedUsername, expectedBackend string, now time.Time) (*PlayerInfo, error) {
	body, ok := s.verifyMAC(blob)
	if !ok {
		return nil, proxyerr.ErrInvalidReferral
	}

	rest := body
	tagBytes, rest, ok := readField(rest)
	if !ok || len(tagBytes) != 16 {
		return nil, proxyerr.ErrInvalidReferral
	}
	playerID, err := uuid.FromBytes(tagBytes)
	if err != nil {
		return nil, proxyerr.ErrInvalidReferral
	}

	if len(rest) < 8 {
		return nil, proxyerr.ErrInvalidReferral
	}
	tsMillis := binary.BigEndian.Uint64(rest[:8])
	rest = rest[8:]
	ts := time.UnixMilli(int64(tsMillis))

	backendBytes, rest, ok := readField(rest)
	if !ok {
		return nil, proxyerr.ErrInvalidReferral
	}
	usernameBytes, rest, ok := readField(rest)
	if !ok {
		return nil, proxyerr.ErrInvalidReferral
	}
	ipBytes, _, ok := readField(rest)
	if !ok {
		return nil, proxyerr.ErrInvalidReferral
	}

	info := &PlayerInfo{
		PlayerID:    playerID,
		Username:    string(usernameBytes),
		BackendName: string(backendBytes),
		ClientIP:    string(ipBytes),
		Timestamp:   ts,
	}

	if now.Sub(ts) > Window || ts.Sub(now) > Window {
		return info, proxyerr.ErrStaleReferral
	}

	if expectedPlayerID != uuid.Nil && expectedPlayerID != info.PlayerID {
		return info, proxyerr.ErrIdentityMismatch
	}
	if expectedUsername != "" && expectedUsername != info.Username {
		return info, proxyerr.ErrIdentityMismatch
	}
	if expectedBackend != "" && !equalFold(expectedBackend, info.BackendName) {
		return info, proxyerr.ErrIdentityMismatch
	}

	return info, nil
}

// VerifyControl validates a control-connection handshake blob and
// returns the target backend name it authorizes.
func VerifyControl(s *Signer, blob []byte, expectedBackend string, now time.Time) (*ControlInfo, error) {
	body, ok := s.verifyMAC(blob)
	if !ok {
		return nil, proxyerr.ErrInvalidReferral
	}

	rest := body
	tagBytes, rest, ok := readField(rest)
	if !ok || string(tagBytes) != ControlTag {
		return nil, proxyerr.ErrInvalidReferral
	}

	if len(rest) < 8 {
		return nil, proxyerr.ErrInvalidReferral
	}
	tsMillis := binary.BigEndian.Uint64(rest[:8])
	rest = rest[8:]
	ts := time.UnixMilli(int64(tsMillis))

	backendBytes, _, ok := readField(rest)
	if !ok {
		return nil, proxyerr.ErrInvalidReferral
	}

	info := &ControlInfo{BackendName: string(backendBytes), Timestamp: ts}

	if now.Sub(ts) > Window || ts.Sub(now) > Window {
		return info, proxyerr.ErrStaleReferral
	}
	if expectedBackend != "" && !equalFold(expectedBackend, info.BackendName) {
		return info, proxyerr.ErrIdentityMismatch
	}
	return info, nil
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
