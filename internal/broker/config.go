package broker

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/rmacdonaldsmith/topicrelay/internal/session"
	"github.com/rmacdonaldsmith/topicrelay/pkg/datagram"
	"github.com/rmacdonaldsmith/topicrelay/pkg/topic"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidPort is returned when the port is outside 0..65535
	ErrInvalidPort = errors.New("port must be between 0 and 65535")
	// ErrInvalidLimit is returned when a size limit is negative
	ErrInvalidLimit = errors.New("limits cannot be negative")
	// ErrMissingAdminSecret is returned when the admin HTTP API is enabled without a secret
	ErrMissingAdminSecret = errors.New("admin secret is required when the HTTP API is enabled")
)

// DefaultShutdownToken is the control line that stops the broker.
const DefaultShutdownToken = "exit"

// Config represents configuration for a Broker
type Config struct {
	// Host is the interface both sockets bind to. Empty means all interfaces.
	Host string `yaml:"host"`

	// Port is shared by the TCP listener and the UDP socket. Zero picks ephemeral ports.
	Port int `yaml:"port"`

	MaxIdentityLen  int `yaml:"maxIdentityLen"`
	MaxTopicLen     int `yaml:"maxTopicLen"`
	MaxDatagramSize int `yaml:"maxDatagramSize"`

	// WriteTimeout bounds each write to a subscriber. Zero waits indefinitely, so a slow
	// subscriber delays the fanout to everyone after it.
	WriteTimeout time.Duration `yaml:"writeTimeout"`

	// ShutdownToken is the control input line that stops the broker.
	ShutdownToken string `yaml:"shutdownToken"`

	// HTTPAddr enables the admin HTTP API when set, e.g. "localhost:8081".
	HTTPAddr string `yaml:"httpAddr"`
	// GRPCAddr enables the admin gRPC service when set, e.g. "localhost:9090".
	GRPCAddr string `yaml:"grpcAddr"`
	// AdminSecret signs and verifies admin tokens for the HTTP API.
	AdminSecret string `yaml:"adminSecret"`
}

// NewConfig creates a new Broker configuration with safe defaults
func NewConfig(port int) *Config {
	c := &Config{Port: port}
	c.SetDefaults()
	return c
}

// LoadConfig reads a YAML configuration file and applies defaults to unset fields.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c := &Config{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	c.SetDefaults()
	return c, nil
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.MaxIdentityLen == 0 {
		c.MaxIdentityLen = session.DefaultMaxIdentityLen
	}
	if c.MaxTopicLen == 0 {
		c.MaxTopicLen = topic.MaxLen
	}
	if c.MaxDatagramSize == 0 {
		c.MaxDatagramSize = datagram.MaxSize
	}
	if c.ShutdownToken == "" {
		c.ShutdownToken = DefaultShutdownToken
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}
	if c.MaxIdentityLen < 0 || c.MaxTopicLen < 0 || c.MaxDatagramSize < 0 || c.WriteTimeout < 0 {
		return ErrInvalidLimit
	}
	if c.MaxDatagramSize > 0 && c.MaxDatagramSize < datagram.PayloadOffset {
		return fmt.Errorf("%w: datagram size %d below header size %d", ErrInvalidLimit, c.MaxDatagramSize, datagram.PayloadOffset)
	}
	if c.HTTPAddr != "" && c.AdminSecret == "" {
		return ErrMissingAdminSecret
	}
	return nil
}

// Address returns the host:port both sockets bind to.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// WithHost sets the bind interface
func (c *Config) WithHost(host string) *Config {
	c.Host = host
	return c
}

// WithWriteTimeout sets the per-write deadline for subscriber connections
func (c *Config) WithWriteTimeout(d time.Duration) *Config {
	c.WriteTimeout = d
	return c
}

// WithHTTPAddr enables the admin HTTP API
func (c *Config) WithHTTPAddr(addr, secret string) *Config {
	c.HTTPAddr = addr
	c.AdminSecret = secret
	return c
}

// WithGRPCAddr enables the admin gRPC service
func (c *Config) WithGRPCAddr(addr string) *Config {
	c.GRPCAddr = addr
	return c
}
