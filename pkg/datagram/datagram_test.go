package datagram

import (
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sender = netip.MustParseAddrPort("127.0.0.1:4573")

func raw(t *testing.T, topic string, tag byte, payload ...byte) []byte {
	t.Helper()
	b, err := Encode(Datagram{Topic: topic, Type: Type(tag), Payload: payload})
	require.NoError(t, err)
	return b
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name  string
		data  []byte
		typ   Type
		value string
	}{
		{"negative int", raw(t, "t", 0, 1, 0, 0, 0, 42), Int, "-42"},
		{"positive int", raw(t, "t", 0, 0, 0, 0, 0x01, 0x00), Int, "256"},
		{"negative zero int", raw(t, "t", 0, 1, 0, 0, 0, 0), Int, "0"},
		{"max int magnitude", raw(t, "t", 0, 1, 0xFF, 0xFF, 0xFF, 0xFF), Int, "-4294967295"},
		{"short real", raw(t, "t", 1, 0x00, 0xFA), ShortReal, "2.50"},
		{"short real small", raw(t, "t", 1, 0x00, 0x05), ShortReal, "0.05"},
		{"float", raw(t, "t", 2, 0, 0, 0, 0x0C, 0x45, 2), Float, "31.41"},
		{"negative float", raw(t, "t", 2, 1, 0, 0, 0x0C, 0x45, 2), Float, "-31.41"},
		{"float zero power", raw(t, "t", 2, 0, 0, 0, 0, 7, 0), Float, "7"},
		{"float leading zeros", raw(t, "t", 2, 0, 0, 0, 0, 5, 4), Float, "0.0005"},
		{"string", raw(t, "t", 3, 'h', 'i', 0, 'x'), String, "hi"},
		{"string without terminator", raw(t, "t", 3, 'o', 'k'), String, "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Decode(tt.data)
			require.NoError(t, err)
			assert.Equal(t, "t", m.Topic)
			assert.Equal(t, tt.typ, m.Type)
			assert.Equal(t, tt.value, m.Value)
		})
	}
}

func TestDecode_TopicField(t *testing.T) {
	full := strings.Repeat("a", TopicLen)
	b := raw(t, full, 0, 0, 0, 0, 0, 1)
	m, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, full, m.Topic, "a full topic field has no terminator and is read to its width")

	m, err = Decode(raw(t, "short/topic", 0, 0, 0, 0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, "short/topic", m.Topic)
}

func TestDecode_Unsupported(t *testing.T) {
	_, err := Decode(raw(t, "t", 5, 1, 2, 3))
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestDecode_Truncated(t *testing.T) {
	_, err := Decode(make([]byte, 10))
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = Decode(raw(t, "t", 0, 1, 0))
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = Decode(raw(t, "t", 2, 0, 0, 0, 0, 1))
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestRender(t *testing.T) {
	topic, text, err := Render(raw(t, "sensors/room1/temp", 1, 0x00, 0xFA), sender)
	require.NoError(t, err)
	assert.Equal(t, "sensors/room1/temp", topic)
	assert.Equal(t, "127.0.0.1:4573 - sensors/room1/temp - SHORT_REAL - 2.50", text)

	mapped := netip.AddrPortFrom(netip.MustParseAddr("::ffff:10.0.0.7"), 9000)
	_, text, err = Render(raw(t, "a", 0, 1, 0, 0, 0, 42), mapped)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.7:9000 - a - INT - -42", text)

	_, _, err = Render(raw(t, "a", 9), sender)
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestParse(t *testing.T) {
	tests := []struct {
		typ, value, want string
	}{
		{"int", "-42", "INT - -42"},
		{"INT", "17", "INT - 17"},
		{"short_real", "2.5", "SHORT_REAL - 2.50"},
		{"float", "31.41", "FLOAT - 31.41"},
		{"float", "-0.001", "FLOAT - -0.001"},
		{"float", "12", "FLOAT - 12"},
		{"string", "hello world", "STRING - hello world"},
	}

	for _, tt := range tests {
		d, err := Parse("x/y", tt.typ, tt.value)
		require.NoError(t, err, "%s %s", tt.typ, tt.value)
		b, err := Encode(d)
		require.NoError(t, err)

		_, text, err := Render(b, sender)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:4573 - x/y - "+tt.want, text)
	}
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse("t", "bogus", "1")
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = Parse("t", "int", "99999999999")
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = Parse("t", "short_real", "-1")
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = Parse("t", "int", "abc")
	assert.Error(t, err)

	_, err = Encode(Datagram{Topic: strings.Repeat("x", TopicLen+1)})
	assert.ErrorIs(t, err, ErrTopicTooLong)
}
