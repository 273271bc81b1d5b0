// Package wire frames txq messages on a byte stream.
//
// Each frame is an 8-byte little-endian length followed by that many bytes
// of JSON:
//
//	{"type":"put","payload":{"tx":{...},"leaves":[...]}}
//
// The payload shape depends on the type and is decoded into a concrete Go
// type by Msg.UnmarshalJSON.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/txq/internal/ir"
)

// MsgType names the kind of a message.
type MsgType string

const (
	TypeSubscribe   MsgType = "subscribe"
	TypeUnsubscribe MsgType = "unsubscribe"
	TypePut         MsgType = "put"
	TypeAck         MsgType = "ack"
	TypeError       MsgType = "error"
)

// MaxFrameSize bounds a single frame so a corrupt length cannot make
// ReadMsg allocate without limit.
const MaxFrameSize = 16 << 20

var (
	// ErrUnknownType is returned when decoding a message of unknown type.
	ErrUnknownType = errors.New("wire: unknown message type")
	// ErrFrameTooLarge is returned for frames over MaxFrameSize.
	ErrFrameTooLarge = errors.New("wire: frame too large")
)

// Msg is one framed message. Payload holds a Put, Ack, or a string for
// subscribe, unsubscribe and error messages.
type Msg struct {
	Type    MsgType `json:"type"`
	Payload any     `json:"payload"`
}

// Put carries a transaction to apply.
type Put struct {
	Tx     ir.Tx    `json:"tx"`
	Leaves []string `json:"leaves,omitempty"`
}

// Ack confirms that a transaction was applied.
type Ack struct {
	StateURI string `json:"state_uri"`
	ID       string `json:"id"`
	Seq      int64  `json:"seq,omitempty"`
}

// NewPut builds a put message.
func NewPut(tx ir.Tx, leaves []string) Msg {
	return Msg{Type: TypePut, Payload: Put{Tx: tx, Leaves: leaves}}
}

// NewAck builds an ack message.
func NewAck(stateURI, id string, seq int64) Msg {
	return Msg{Type: TypeAck, Payload: Ack{StateURI: stateURI, ID: id, Seq: seq}}
}

// NewSubscribe builds a subscribe message for stateURI.
func NewSubscribe(stateURI string) Msg {
	return Msg{Type: TypeSubscribe, Payload: stateURI}
}

// NewError builds an error message.
func NewError(message string) Msg {
	return Msg{Type: TypeError, Payload: message}
}

// UnmarshalJSON decodes the payload according to the message type.
func (m *Msg) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type    MsgType         `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	m.Type = raw.Type
	switch raw.Type {
	case TypePut:
		var p Put
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return fmt.Errorf("wire: put payload: %w", err)
		}
		m.Payload = p
	case TypeAck:
		var a Ack
		if err := json.Unmarshal(raw.Payload, &a); err != nil {
			return fmt.Errorf("wire: ack payload: %w", err)
		}
		m.Payload = a
	case TypeSubscribe, TypeUnsubscribe, TypeError:
		var s string
		if err := json.Unmarshal(raw.Payload, &s); err != nil {
			return fmt.Errorf("wire: %s payload: %w", raw.Type, err)
		}
		m.Payload = s
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, raw.Type)
	}
	return nil
}

// WriteMsg writes msg as one frame. Header and body go out in a single
// Write so concurrent writers serialised by the caller never interleave.
func WriteMsg(w io.Writer, msg Msg) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("wire: marshal %s: %w", msg.Type, err)
	}
	if len(body) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}

	frame := make([]byte, 8+len(body))
	binary.LittleEndian.PutUint64(frame, uint64(len(body)))
	copy(frame[8:], body)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("wire: write %s: %w", msg.Type, err)
	}
	return nil
}

// ReadMsg reads one frame. It returns io.EOF only when the stream ends
// cleanly between frames; a stream cut inside a frame yields
// io.ErrUnexpectedEOF.
func ReadMsg(r io.Reader) (Msg, error) {
	return ReadMsgLimit(r, MaxFrameSize)
}

// ReadMsgLimit is ReadMsg with a caller-chosen frame size bound.
func ReadMsgLimit(r io.Reader, maxSize uint64) (Msg, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Msg{}, io.EOF
		}
		return Msg{}, fmt.Errorf("wire: read length: %w", err)
	}

	size := binary.LittleEndian.Uint64(header[:])
	if size > maxSize {
		return Msg{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Msg{}, fmt.Errorf("wire: read body: %w", err)
	}

	var msg Msg
	if err := json.Unmarshal(body, &msg); err != nil {
		return Msg{}, err
	}
	return msg, nil
}
