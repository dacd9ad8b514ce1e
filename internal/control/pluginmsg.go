// Package control implements the Backend Control Manager (K): a
// persistent bidirectional QUIC stream per backend used for
// player-independent plugin messages (see SPEC_FULL.md §4.8).
package control

import (
	"encoding/binary"
	"fmt"
	"io"
)

// magic identifies a plugin-message envelope on the wire; every envelope
// on a control stream starts with it.
var magic = [4]byte{'N', 'D', 'P', 'M'}

// Envelope is the Plugin Message Packet data model (spec §3): 4-byte
// magic, length-prefixed channel identifier, payload bytes.
type Envelope struct {
	Channel string
	Payload []byte
}

// Encode serializes an Envelope for writing to a control stream.
func Encode(e Envelope) []byte {
	var buf []byte
	buf = append(buf, magic[:]...)
	var chLen [2]byte
	binary.BigEndian.PutUint16(chLen[:], uint16(len(e.Channel)))
	buf = append(buf, chLen[:]...)
	buf = append(buf, e.Channel...)
	var plLen [4]byte
	binary.BigEndian.PutUint32(plLen[:], uint32(len(e.Payload)))
	buf = append(buf, plLen[:]...)
	buf = append(buf, e.Payload...)
	return buf
}

// WriteEnvelope writes e to w as a u32-length-prefixed frame so a reader
// on a byte stream knows exactly how much to read.
func WriteEnvelope(w io.Writer, e Envelope) error {
	body := Encode(e)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// ReadEnvelope reads one u32-length-prefixed frame from r and decodes it.
func ReadEnvelope(r io.Reader) (Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Envelope{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Envelope{}, err
	}
	return Decode(body)
}

// Decode parses an Envelope from data written by Encode.
func Decode(data []byte) (Envelope, error) {
	if len(data) < 4 || string(data[:4]) != string(magic[:]) {
		return Envelope{}, fmt.Errorf("control: bad envelope magic")
	}
	data = data[4:]
	if len(data) < 2 {
		return Envelope{}, io.ErrUnexpectedEOF
	}
	chLen := int(binary.BigEndian.Uint16(data[:2]))
	data = data[2:]
	if len(data) < chLen {
		return Envelope{}, io.ErrUnexpectedEOF
	}
	channel := string(data[:chLen])
	data = data[chLen:]
	if len(data) < 4 {
		return Envelope{}, io.ErrUnexpectedEOF
	}
	plLen := int(binary.BigEndian.Uint32(data[:4]))
	data = data[4:]
	if len(data) < plLen {
		return Envelope{}, io.ErrUnexpectedEOF
	}
	return Envelope{Channel: channel, Payload: data[:plLen]}, nil
}
