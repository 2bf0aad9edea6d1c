package config

import (
	"strings"
	"testing"

	"github.com/marmos91/dittostore/pkg/authz"
)

// sampleDigest is the BLAKE3 digest of an arbitrary token.
const sampleDigest = "9a1b0d8e5c7f2a3b4c5d6e7f8091a2b3c4d5e6f708192a3b4c5d6e7f8091a2b3"

var nextUserID int64

func userConfig(name string, roles ...string) authz.UserConfig {
	nextUserID++
	return authz.UserConfig{
		ID:          nextUserID,
		Name:        name,
		TokenDigest: sampleDigest,
		Roles:       roles,
	}
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := GetDefaultConfig()
	cfg.Server.DataDir = t.TempDir()
	return cfg
}

func TestValidate_Valid(t *testing.T) {
	if err := Validate(validConfig(t)); err != nil {
		t.Fatalf("Expected valid config, got: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "TRACE" },
			wantErr: "Level",
		},
		{
			name:    "invalid log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "Format",
		},
		{
			name:    "zero shutdown timeout",
			mutate:  func(c *Config) { c.Server.ShutdownTimeout = 0 },
			wantErr: "ShutdownTimeout",
		},
		{
			name:    "unknown content type",
			mutate:  func(c *Config) { c.Content.Type = "ftp" },
			wantErr: "Type",
		},
		{
			name:    "unknown metadata type",
			mutate:  func(c *Config) { c.Metadata.Type = "postgres" },
			wantErr: "Type",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Control.Port = 70000 },
			wantErr: "Port",
		},
		{
			name: "planes share a port",
			mutate: func(c *Config) {
				c.Control.Port = 9000
				c.Storage.Port = 9000
			},
			wantErr: "already used by control",
		},
		{
			name: "metrics share a plane port",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Port = c.Storage.Port
			},
			wantErr: "already used by storage",
		},
		{
			name:    "tls cert without key",
			mutate:  func(c *Config) { c.Storage.TLS.CertFile = "/cert.pem" },
			wantErr: "KeyFile",
		},
		{
			name: "chunk larger than read block",
			mutate: func(c *Config) {
				c.Engine.ChunkSize = 1 << 21
			},
			wantErr: "chunk_size",
		},
		{
			name:    "unknown anonymous permission",
			mutate:  func(c *Config) { c.Authorization.Anonymous = []string{"FLY"} },
			wantErr: "authorization",
		},
		{
			name: "unknown role reference",
			mutate: func(c *Config) {
				c.Authorization.Users = append(c.Authorization.Users, userConfig("bob", "ghost"))
			},
			wantErr: "unknown role",
		},
		{
			name: "s3 without bucket",
			mutate: func(c *Config) {
				c.Content.Type = "s3"
				c.Content.S3 = map[string]any{"region": "us-east-1"}
			},
			wantErr: "bucket",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_EphemeralPortsDoNotCollide(t *testing.T) {
	cfg := validConfig(t)
	cfg.Control.Port = 0
	cfg.Storage.Port = 0

	if err := Validate(cfg); err != nil {
		t.Fatalf("Expected two ephemeral ports to be valid, got: %v", err)
	}
}

func TestValidate_UsersWithRoles(t *testing.T) {
	cfg := validConfig(t)
	cfg.Authorization.Users = append(cfg.Authorization.Users, userConfig("alice", "admin"))

	if err := Validate(cfg); err != nil {
		t.Fatalf("Expected valid config, got: %v", err)
	}
}
