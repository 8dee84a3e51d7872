package subscriber

import (
	"strings"
	"time"
)

// Config holds client configuration
type Config struct {
	// ServerAddr is the broker's TCP address (e.g., "127.0.0.1:4000")
	ServerAddr string

	// ClientID is the identity presented on connect, 1 to 10 bytes
	ClientID string

	// Timeout bounds dialing and each request/reply exchange
	Timeout time.Duration

	// MessageBuffer is the capacity of the Messages channel
	MessageBuffer int
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MessageBuffer == 0 {
		c.MessageBuffer = 64
	}
}

// Message is one relayed publication.
type Message struct {
	// Text is the line exactly as the broker sent it.
	Text string

	Origin string
	Topic  string
	Type   string
	Value  string
}

// ParseMessage splits a relayed line of the form "<ip>:<port> - <topic> - <TYPE> - <value>".
// Fields stay empty when the line does not have that shape; Text is always set.
func ParseMessage(text string) Message {
	m := Message{Text: text}
	parts := strings.SplitN(text, " - ", 4)
	if len(parts) == 4 {
		m.Origin, m.Topic, m.Type, m.Value = parts[0], parts[1], parts[2], parts[3]
	}
	return m
}
