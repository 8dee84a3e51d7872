package datagram

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrTopicTooLong is returned when a topic does not fit the 50-byte field
	ErrTopicTooLong = errors.New("topic longer than 50 bytes")
	// ErrOutOfRange is returned when a value cannot be represented by its type
	ErrOutOfRange = errors.New("value out of range")
)

// Datagram is an encodable publication. Payload holds the type-specific bytes that follow the
// type tag.
type Datagram struct {
	Topic   string
	Type    Type
	Payload []byte
}

// Encode serializes d into the wire layout.
func Encode(d Datagram) ([]byte, error) {
	if len(d.Topic) > TopicLen {
		return nil, fmt.Errorf("%w: %q", ErrTopicTooLong, d.Topic)
	}
	b := make([]byte, PayloadOffset+len(d.Payload))
	copy(b, d.Topic)
	b[TypeOffset] = byte(d.Type)
	copy(b[PayloadOffset:], d.Payload)
	return b, nil
}

// NewInt builds an INT datagram.
func NewInt(topic string, v int64) (Datagram, error) {
	mag := v
	var sign byte
	if v < 0 {
		sign, mag = 1, -v
	}
	if mag > math.MaxUint32 {
		return Datagram{}, fmt.Errorf("%w: %d", ErrOutOfRange, v)
	}
	p := make([]byte, 5)
	p[0] = sign
	binary.BigEndian.PutUint32(p[1:], uint32(mag))
	return Datagram{Topic: topic, Type: Int, Payload: p}, nil
}

// NewShortReal builds a SHORT_REAL datagram from a value in hundredths.
func NewShortReal(topic string, hundredths uint16) Datagram {
	p := make([]byte, 2)
	binary.BigEndian.PutUint16(p, hundredths)
	return Datagram{Topic: topic, Type: ShortReal, Payload: p}
}

// NewFloat builds a FLOAT datagram with value magnitude / 10^power.
func NewFloat(topic string, negative bool, magnitude uint32, power uint8) Datagram {
	p := make([]byte, 6)
	if negative {
		p[0] = 1
	}
	binary.BigEndian.PutUint32(p[1:5], magnitude)
	p[5] = power
	return Datagram{Topic: topic, Type: Float, Payload: p}
}

// NewString builds a NUL-terminated STRING datagram.
func NewString(topic, s string) (Datagram, error) {
	if len(s) >= MaxStringLen {
		return Datagram{}, fmt.Errorf("%w: string of %d bytes", ErrOutOfRange, len(s))
	}
	p := make([]byte, len(s)+1)
	copy(p, s)
	return Datagram{Topic: topic, Type: String, Payload: p}, nil
}

// Parse builds a datagram from a textual value, as typed by an operator. Type names are the
// rendered names (INT, SHORT_REAL, FLOAT, STRING), case insensitive.
func Parse(topic, typeName, value string) (Datagram, error) {
	switch strings.ToUpper(typeName) {
	case Int.String():
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return Datagram{}, fmt.Errorf("parse INT: %w", err)
		}
		return NewInt(topic, v)
	case ShortReal.String():
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return Datagram{}, fmt.Errorf("parse SHORT_REAL: %w", err)
		}
		h := math.Round(f * 100)
		if h < 0 || h > math.MaxUint16 {
			return Datagram{}, fmt.Errorf("%w: %s", ErrOutOfRange, value)
		}
		return NewShortReal(topic, uint16(h)), nil
	case Float.String():
		return parseFloat(topic, value)
	case String.String():
		return NewString(topic, value)
	default:
		return Datagram{}, fmt.Errorf("%w: %s", ErrUnsupportedType, typeName)
	}
}

// parseFloat keeps the decimal digits the operator typed, so "31.41" encodes as 3141 with
// power 2 and renders back identically.
func parseFloat(topic, value string) (Datagram, error) {
	s := value
	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > math.MaxUint8 {
		return Datagram{}, fmt.Errorf("%w: %s", ErrOutOfRange, value)
	}
	mag, err := strconv.ParseUint(whole+frac, 10, 32)
	if err != nil {
		return Datagram{}, fmt.Errorf("parse FLOAT: %w", err)
	}
	return NewFloat(topic, negative, uint32(mag), uint8(len(frac))), nil
}
