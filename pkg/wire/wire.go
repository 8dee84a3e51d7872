// Package wire implements the length-prefixed control protocol spoken between the broker and
// its TCP subscribers.
//
// Every frame is a 1-byte command, a 2-byte payload length in network byte order, and exactly
// that many payload bytes. A zero length frame carries no payload bytes at all.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	// HeaderSize is the encoded size of command plus length.
	HeaderSize = 3
	// MaxPayload is the largest payload a 2-byte length can describe.
	MaxPayload = math.MaxUint16
)

var (
	// ErrClosed is returned by ReadFrame when the peer closed the stream.
	ErrClosed = errors.New("connection closed by peer")
	// ErrPayloadTooLarge is returned when a payload does not fit the length field.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// Command identifies the kind of a frame.
type Command uint8

// Command values, in wire order.
const (
	// ConnectReq presents the client identity.
	ConnectReq Command = iota
	// ConnectAccepted admits a new or resumed session.
	ConnectAccepted
	// ConnectDenied refuses a live or invalid identity; the broker closes the connection after it.
	ConnectDenied
	// SubscribeReq carries a topic pattern to add.
	SubscribeReq
	// UnsubscribeReq carries a topic pattern to remove, compared verbatim.
	UnsubscribeReq
	SubscribeSucc
	SubscribeFail
	UnsubscribeSucc
	UnsubscribeFail
	// MsgFromUDP carries one rendered publication.
	MsgFromUDP
)

func (c Command) String() string {
	switch c {
	case ConnectReq:
		return "CONNECT_REQ"
	case ConnectAccepted:
		return "CONNECT_ACCEPTED"
	case ConnectDenied:
		return "CONNECT_DENIED"
	case SubscribeReq:
		return "SUBSCRIBE_REQ"
	case UnsubscribeReq:
		return "UNSUBSCRIBE_REQ"
	case SubscribeSucc:
		return "SUBSCRIBE_SUCC"
	case SubscribeFail:
		return "SUBSCRIBE_FAIL"
	case UnsubscribeSucc:
		return "UNSUBSCRIBE_SUCC"
	case UnsubscribeFail:
		return "UNSUBSCRIBE_FAIL"
	case MsgFromUDP:
		return "MSG_FROM_UDP"
	default:
		return fmt.Sprintf("Command(%d)", uint8(c))
	}
}

// Frame is one decoded protocol unit. Payload is nil for zero length frames.
type Frame struct {
	Command Command
	Payload []byte
}

// Encode serializes a frame into a single buffer, so a fanout can encode once and write the
// same bytes to many connections.
func Encode(cmd Command, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = byte(cmd)
	binary.BigEndian.PutUint16(buf[1:HeaderSize], uint16(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// WriteFrame writes cmd and payload to w.
func WriteFrame(w io.Writer, cmd Command, payload []byte) error {
	buf, err := Encode(cmd, payload)
	if err != nil {
		return err
	}
	return WriteFull(w, buf)
}

// WriteFull writes all of buf, looping over short writes. Only an error from w stops it.
func WriteFull(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		buf = buf[n:]
	}
	return nil
}

// ReadFrame reads one frame from r. A stream that ends before or inside a frame yields ErrClosed,
// any other transport failure is returned as is.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, closedOr(err)
	}

	f := Frame{Command: Command(hdr[0])}
	n := binary.BigEndian.Uint16(hdr[1:])
	if n == 0 {
		return f, nil
	}

	f.Payload = make([]byte, n)
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		return Frame{}, closedOr(err)
	}
	return f, nil
}

func closedOr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrClosed
	}
	return err
}
