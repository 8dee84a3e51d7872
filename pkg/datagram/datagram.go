// Package datagram decodes the fixed-layout UDP datagrams published to the broker and renders
// them as the text line delivered to subscribers.
//
// Layout: bytes [0,50) hold the NUL-padded topic, byte 50 the type tag, and bytes [51,...) the
// type payload. Numeric fields are in network byte order.
package datagram

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

const (
	// TopicLen is the width of the topic field.
	TopicLen = 50
	// TypeOffset is the position of the type tag.
	TypeOffset = TopicLen
	// PayloadOffset is where the type payload starts.
	PayloadOffset = TypeOffset + 1
	// MaxStringLen bounds a STRING payload.
	MaxStringLen = 1500
	// MaxSize is the largest datagram the broker reads.
	MaxSize = PayloadOffset + MaxStringLen
)

var (
	// ErrUnsupportedType is returned for a type tag outside the known set.
	ErrUnsupportedType = errors.New("unsupported data type")
	// ErrTruncated is returned when a datagram is shorter than its layout requires.
	ErrTruncated = errors.New("datagram truncated")
)

// Type is the one-byte type tag.
type Type uint8

// Type tags as they appear on the wire.
const (
	// Int is a sign byte followed by a big-endian uint32 magnitude.
	Int Type = iota
	// ShortReal is a big-endian uint16 holding the value times 100.
	ShortReal
	// Float is a sign byte, a big-endian uint32 mantissa and a uint8 power of ten to divide by.
	Float
	// String is text up to the first NUL or the end of the datagram.
	String
)

func (t Type) String() string {
	switch t {
	case Int:
		return "INT"
	case ShortReal:
		return "SHORT_REAL"
	case Float:
		return "FLOAT"
	case String:
		return "STRING"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// Message is a decoded datagram. Value is the canonical rendering of the typed payload.
type Message struct {
	Topic string
	Type  Type
	Value string
}

// Format renders the line sent to subscribers: "<ip>:<port> - <topic> - <TYPE> - <value>".
func (m Message) Format(from netip.AddrPort) string {
	return fmt.Sprintf("%s:%d - %s - %s - %s", from.Addr().Unmap(), from.Port(), m.Topic, m.Type, m.Value)
}

type valueDecoder func(payload []byte) (string, error)

var decoders = map[Type]valueDecoder{
	Int:       decodeInt,
	ShortReal: decodeShortReal,
	Float:     decodeFloat,
	String:    decodeString,
}

// Decode parses b. The topic is cut at the first NUL inside the 50-byte field.
func Decode(b []byte) (Message, error) {
	if len(b) < PayloadOffset {
		return Message{}, fmt.Errorf("%w: %d bytes, header needs %d", ErrTruncated, len(b), PayloadOffset)
	}

	m := Message{
		Topic: cstring(b[:TopicLen]),
		Type:  Type(b[TypeOffset]),
	}

	decode, ok := decoders[m.Type]
	if !ok {
		return m, fmt.Errorf("%w: tag %d", ErrUnsupportedType, uint8(m.Type))
	}

	v, err := decode(b[PayloadOffset:])
	if err != nil {
		return m, fmt.Errorf("%s payload: %w", m.Type, err)
	}
	m.Value = v
	return m, nil
}

// Render decodes b and formats it for delivery, returning the bare topic used for matching.
func Render(b []byte, from netip.AddrPort) (topic, text string, err error) {
	m, err := Decode(b)
	if err != nil {
		return m.Topic, "", err
	}
	return m.Topic, m.Format(from), nil
}

func need(p []byte, n int) error {
	if len(p) < n {
		return fmt.Errorf("%w: %d bytes, need %d", ErrTruncated, len(p), n)
	}
	return nil
}

// decodeInt reads a sign byte and a 4-byte magnitude. Only sign 1 is negative.
func decodeInt(p []byte) (string, error) {
	if err := need(p, 5); err != nil {
		return "", err
	}
	v := int64(binary.BigEndian.Uint32(p[1:5]))
	if p[0] == 1 {
		v = -v
	}
	return strconv.FormatInt(v, 10), nil
}

// decodeShortReal reads a 2-byte value in hundredths.
func decodeShortReal(p []byte) (string, error) {
	if err := need(p, 2); err != nil {
		return "", err
	}
	v := binary.BigEndian.Uint16(p[:2])
	return fmt.Sprintf("%d.%02d", v/100, v%100), nil
}

// decodeFloat reads a sign byte, a 4-byte magnitude and a decimal power. The value is
// magnitude / 10^power rendered with exactly power decimals, computed on the digit string so
// no precision is lost.
func decodeFloat(p []byte) (string, error) {
	if err := need(p, 6); err != nil {
		return "", err
	}
	digits := strconv.FormatUint(uint64(binary.BigEndian.Uint32(p[1:5])), 10)
	power := int(p[5])

	var b strings.Builder
	if p[0] == 1 {
		b.WriteByte('-')
	}
	if power == 0 {
		b.WriteString(digits)
		return b.String(), nil
	}
	if len(digits) <= power {
		digits = strings.Repeat("0", power-len(digits)+1) + digits
	}
	cut := len(digits) - power
	b.WriteString(digits[:cut])
	b.WriteByte('.')
	b.WriteString(digits[cut:])
	return b.String(), nil
}

// decodeString reads up to the first NUL or the end of the datagram.
func decodeString(p []byte) (string, error) {
	if len(p) > MaxStringLen {
		p = p[:MaxStringLen]
	}
	return cstring(p), nil
}

func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
