package broker

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rmacdonaldsmith/topicrelay/internal/session"
	"github.com/rmacdonaldsmith/topicrelay/pkg/datagram"
	"github.com/rmacdonaldsmith/topicrelay/pkg/topic"
)

// TestNewConfig tests creating a new config with defaults
func TestNewConfig(t *testing.T) {
	config := NewConfig(4000)

	if config.Port != 4000 {
		t.Errorf("Expected port 4000, got %d", config.Port)
	}
	if config.MaxIdentityLen != session.DefaultMaxIdentityLen {
		t.Errorf("Expected identity limit %d, got %d", session.DefaultMaxIdentityLen, config.MaxIdentityLen)
	}
	if config.MaxTopicLen != topic.MaxLen {
		t.Errorf("Expected topic limit %d, got %d", topic.MaxLen, config.MaxTopicLen)
	}
	if config.MaxDatagramSize != datagram.MaxSize {
		t.Errorf("Expected datagram limit %d, got %d", datagram.MaxSize, config.MaxDatagramSize)
	}
	if config.ShutdownToken != DefaultShutdownToken {
		t.Errorf("Expected shutdown token %q, got %q", DefaultShutdownToken, config.ShutdownToken)
	}
	if config.WriteTimeout != 0 {
		t.Errorf("Expected no write timeout, got %v", config.WriteTimeout)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Expected default config to be valid, got %v", err)
	}
}

// TestConfigValidate tests validation failures
func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr error
	}{
		{"port too large", NewConfig(70000), ErrInvalidPort},
		{"negative port", NewConfig(-1), ErrInvalidPort},
		{"negative timeout", NewConfig(1).WithWriteTimeout(-time.Second), ErrInvalidLimit},
		{"datagram smaller than header", &Config{Port: 1, MaxDatagramSize: 10}, ErrInvalidLimit},
		{"http without secret", NewConfig(1).WithHTTPAddr("localhost:0", ""), ErrMissingAdminSecret},
		{"http with secret", NewConfig(1).WithHTTPAddr("localhost:0", "s3cret"), nil},
		{"grpc only", NewConfig(1).WithGRPCAddr("localhost:0"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Expected valid config, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

// TestLoadConfig tests reading YAML with defaults filled in
func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broker.yaml")
	data := []byte(`
host: 127.0.0.1
port: 4000
writeTimeout: 250ms
httpAddr: localhost:8081
adminSecret: s3cret
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Expected no error loading config, got %v", err)
	}
	if config.Address() != "127.0.0.1:4000" {
		t.Errorf("Expected address 127.0.0.1:4000, got %s", config.Address())
	}
	if config.WriteTimeout != 250*time.Millisecond {
		t.Errorf("Expected 250ms write timeout, got %v", config.WriteTimeout)
	}
	if config.ShutdownToken != DefaultShutdownToken {
		t.Errorf("Expected default shutdown token, got %q", config.ShutdownToken)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Expected loaded config to be valid, got %v", err)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("port: [1, 2"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("Expected error for malformed YAML")
	}
}
