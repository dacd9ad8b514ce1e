package proxyproto

import (
	"encoding/binary"
	"io"
)

// Encoder writes frames and opaque passthrough buffers to an underlying
// stream using a u8 type + u32 length header.
type Encoder struct {
	w io.Writer
}

// NewEncoder wraps w.
func NewEncoder(w io.Writer) *Encoder { return &Encoder{w: w} }

// WriteFrame encodes and writes a named frame.
func (e *Encoder) WriteFrame(frame any) error {
	typ, payload, err := Encode(frame)
	if err != nil {
		return err
	}
	return e.writeRaw(typ, payload)
}

// WriteOpaque writes a passthrough buffer verbatim, tagged so the peer's
// Decoder forwards it without attempting to parse a named frame.
func (e *Encoder) WriteOpaque(data []byte) error {
	return e.writeRaw(TypeOpaque, data)
}

func (e *Encoder) writeRaw(typ Type, payload []byte) error {
	header := make([]byte, 5)
	header[0] = byte(typ)
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := e.w.Write(header); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := e.w.Write(payload)
	return err
}

// Decoder reads frames and opaque passthrough buffers from an underlying
// stream.
type Decoder struct {
	r io.Reader
}

// NewDecoder wraps r.
func NewDecoder(r io.Reader) *Decoder { return &Decoder{r: r} }

// Message is one decoded unit read from the stream: either a recognized
// named Frame, or raw Opaque bytes when Frame is nil.
type Message struct {
	Frame  any
	Opaque []byte
}

// ReadMessage reads one frame off the stream.
func (d *Decoder) ReadMessage() (*Message, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(d.r, header); err != nil {
		return nil, err
	}
	typ := Type(header[0])
	n := binary.BigEndian.Uint32(header[1:])
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(d.r, payload); err != nil {
			return nil, err
		}
	}
	if typ == TypeOpaque {
		return &Message{Opaque: payload}, nil
	}
	frame, err := Decode(typ, payload)
	if err != nil {
		return nil, err
	}
	return &Message{Frame: frame}, nil
}
