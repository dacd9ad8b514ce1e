// Package proxyproto defines the small set of named frames the proxy
// core must intercept (see SPEC_FULL.md §6.1). Everything else on a
// session's stream is the game's own application protocol, which is out
// of scope and is forwarded as an opaque byte buffer.
//
// Each frame is written on the wire as:
//
//	u8  type
//	u32 payload length
//	... payload (fields themselves length-prefixed the same way the
//	    Referral blob is, see internal/referral)
package proxyproto

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Type identifies a named frame.
type Type byte

const (
	TypeConnect Type = iota + 1
	TypeAuthGrant
	TypeAuthToken
	TypeServerAuthToken
	TypeConnectAccept
	TypeDisconnect
	TypeClientReferral
	TypeChatMessage
	// TypeOpaque tags a passthrough buffer that was not recognized as one
	// of the above; Encoder.WriteOpaque writes it with this type byte and
	// the payload is forwarded verbatim.
	TypeOpaque
)

// Connect is the client's (or the proxy's synthesized) handshake frame.
type Connect struct {
	PlayerID            uuid.UUID
	Username             string
	ProtocolFingerprint  []byte
	IdentityToken        []byte
	ReferralData         []byte
}

// AuthGrant carries the authorization grant issued by the session service.
type AuthGrant struct {
	AuthorizationGrant []byte
	ServerIdentityToken []byte
}

// AuthToken carries the client's access token and, optionally, a server
// authorization grant to be exchanged for a server access token.
type AuthToken struct {
	AccessToken             []byte
	ServerAuthorizationGrant []byte
}

// ServerAuthToken carries the (possibly absent) server access token.
type ServerAuthToken struct {
	ServerAccessToken []byte
}

// ConnectAccept is sent by the backend to accept the forwarded connect.
type ConnectAccept struct{}

// Disconnect carries a human-readable disconnect reason.
type Disconnect struct {
	Reason string
}

// ClientReferral redirects the client to reconnect at host:port carrying
// an encoded referral blob that will resolve straight to a backend.
type ClientReferral struct {
	Host string
	Port uint16
	Blob []byte
}

// ChatMessage is the user-visible notification frame used for transfer
// status ("Connecting to X", "Failed to connect to X...").
type ChatMessage struct {
	Text string
}

func putField(buf *[]byte, data []byte) {
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(data)))
	*buf = append(*buf, l[:]...)
	*buf = append(*buf, data...)
}

func getField(data []byte) (field, rest []byte, err error) {
	if len(data) < 2 {
		return nil, nil, io.ErrUnexpectedEOF
	}
	n := int(binary.BigEndian.Uint16(data[:2]))
	data = data[2:]
	if len(data) < n {
		return nil, nil, io.ErrUnexpectedEOF
	}
	return data[:n], data[n:], nil
}

// Encode serializes frame into its type byte and payload bytes.
func Encode(frame any) (Type, []byte, error) {
	switch f := frame.(type) {
	case *Connect:
		var buf []byte
		putField(&buf, f.PlayerID[:])
		putField(&buf, []byte(f.Username))
		putField(&buf, f.ProtocolFingerprint)
		putField(&buf, f.IdentityToken)
		putField(&buf, f.ReferralData)
		return TypeConnect, buf, nil
	case *AuthGrant:
		var buf []byte
		putField(&buf, f.AuthorizationGrant)
		putField(&buf, f.ServerIdentityToken)
		return TypeAuthGrant, buf, nil
	case *AuthToken:
		var buf []byte
		putField(&buf, f.AccessToken)
		putField(&buf, f.ServerAuthorizationGrant)
		return TypeAuthToken, buf, nil
	case *ServerAuthToken:
		var buf []byte
		putField(&buf, f.ServerAccessToken)
		return TypeServerAuthToken, buf, nil
	case *ConnectAccept:
		return TypeConnectAccept, nil, nil
	case *Disconnect:
		var buf []byte
		putField(&buf, []byte(f.Reason))
		return TypeDisconnect, buf, nil
	case *ClientReferral:
		var buf []byte
		putField(&buf, []byte(f.Host))
		var p [2]byte
		binary.BigEndian.PutUint16(p[:], f.Port)
		buf = append(buf, p[:]...)
		putField(&buf, f.Blob)
		return TypeClientReferral, buf, nil
	case *ChatMessage:
		var buf []byte
		putField(&buf, []byte(f.Text))
		return TypeChatMessage, buf, nil
	default:
		return 0, nil, fmt.Errorf("proxyproto: unknown frame type %T", frame)
	}
}

// Decode parses payload according to typ into the corresponding frame
// struct, returned as any.
func Decode(typ Type, payload []byte) (any, error) {
	switch typ {
	case TypeConnect:
		idBytes, rest, err := getField(payload)
		if err != nil {
			return nil, err
		}
		id, err := uuidFromField(idBytes)
		if err != nil {
			return nil, err
		}
		username, rest, err := getField(rest)
		if err != nil {
			return nil, err
		}
		fingerprint, rest, err := getField(rest)
		if err != nil {
			return nil, err
		}
		identityToken, rest, err := getField(rest)
		if err != nil {
			return nil, err
		}
		referral, _, err := getField(rest)
		if err != nil {
			return nil, err
		}
		return &Connect{PlayerID: id, Username: string(username), ProtocolFingerprint: fingerprint, IdentityToken: identityToken, ReferralData: referral}, nil
	case TypeAuthGrant:
		grant, rest, err := getField(payload)
		if err != nil {
			return nil, err
		}
		serverIdentity, _, err := getField(rest)
		if err != nil {
			return nil, err
		}
		return &AuthGrant{AuthorizationGrant: grant, ServerIdentityToken: serverIdentity}, nil
	case TypeAuthToken:
		access, rest, err := getField(payload)
		if err != nil {
			return nil, err
		}
		grant, _, err := getField(rest)
		if err != nil {
			return nil, err
		}
		return &AuthToken{AccessToken: access, ServerAuthorizationGrant: grant}, nil
	case TypeServerAuthToken:
		access, _, err := getField(payload)
		if err != nil {
			return nil, err
		}
		return &ServerAuthToken{ServerAccessToken: access}, nil
	case TypeConnectAccept:
		return &ConnectAccept{}, nil
	case TypeDisconnect:
		reason, _, err := getField(payload)
		if err != nil {
			return nil, err
		}
		return &Disconnect{Reason: string(reason)}, nil
	case TypeClientReferral:
		host, rest, err := getField(payload)
		if err != nil {
			return nil, err
		}
		if len(rest) < 2 {
			return nil, io.ErrUnexpectedEOF
		}
		port := binary.BigEndian.Uint16(rest[:2])
		blob, _, err := getField(rest[2:])
		if err != nil {
			return nil, err
		}
		return &ClientReferral{Host: string(host), Port: port, Blob: blob}, nil
	case TypeChatMessage:
		text, _, err := getField(payload)
		if err != nil {
			return nil, err
		}
		return &ChatMessage{Text: string(text)}, nil
	default:
		return nil, fmt.Errorf("proxyproto: unknown frame type %d", typ)
	}
}

func uuidFromField(b []byte) (uuid.UUID, error) {
	if len(b) != 16 {
		return uuid.Nil, fmt.Errorf("proxyproto: expected 16-byte uuid, got %d bytes", len(b))
	}
	return uuid.FromBytes(b)
}
