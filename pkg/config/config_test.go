package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_DefaultConfig(t *testing.T) {
	dataDir := t.TempDir()
	configPath := writeConfig(t, `
logging:
  level: "info"

server:
  data_dir: "`+dataDir+`"

content:
  type: "filesystem"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected normalized level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Control.Port != 8888 {
		t.Errorf("Expected default control port 8888, got %d", cfg.Control.Port)
	}
	if cfg.Storage.Port != 8889 {
		t.Errorf("Expected default storage port 8889, got %d", cfg.Storage.Port)
	}
	if cfg.Metadata.Type != "sqlite" {
		t.Errorf("Expected default metadata type 'sqlite', got %q", cfg.Metadata.Type)
	}
	if got := cfg.Content.Filesystem["path"]; got != filepath.Join(dataDir, "cloud") {
		t.Errorf("Expected cloud folder under the data dir, got %v", got)
	}
}

func TestLoad_FullConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  data_dir: "/srv/dittostore"
  shutdown_timeout: 5s

control:
  host: "127.0.0.1"
  port: 7000
  idle_timeout: 2m
  requests_per_second: 50

storage:
  port: 7001
  max_connections: 64
  tls:
    cert_file: /etc/dittostore/cert.pem
    key_file: /etc/dittostore/key.pem

engine:
  chunk_size: 4096
  read_status_byte: true
  key_ttl: 30s

metadata:
  type: memory

authorization:
  anonymous: [READ_FILE, READ_TREE_DIRECTORY]
  roles:
    editor: [WRITE_FILE, CREATE_SUB_DIRECTORY]
  users:
    - id: 1
      name: alice
      token_digest: "`+sampleDigest+`"
      roles: [editor]

consistency:
  enabled: true
  interval: 15m
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("Expected shutdown_timeout 5s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Control.Host != "127.0.0.1" || cfg.Control.Port != 7000 {
		t.Errorf("Unexpected control listener %s", cfg.Control.Addr())
	}
	if cfg.Control.IdleTimeout != 2*time.Minute {
		t.Errorf("Expected idle_timeout 2m, got %v", cfg.Control.IdleTimeout)
	}
	if cfg.Control.RequestsPerSecond != 50 {
		t.Errorf("Expected requests_per_second 50, got %d", cfg.Control.RequestsPerSecond)
	}
	if cfg.Storage.MaxConnections != 64 || !cfg.Storage.TLS.Enabled() {
		t.Errorf("Unexpected storage listener %+v", cfg.Storage.Config)
	}
	if cfg.Engine.ChunkSize != 4096 || !cfg.Engine.ReadStatusByte {
		t.Errorf("Unexpected engine settings %+v", cfg.Engine)
	}
	if cfg.Engine.KeyTTL != 30*time.Second || cfg.Engine.KeyPruneInterval != 30*time.Second {
		t.Errorf("Expected key ttl and prune interval 30s, got %v and %v", cfg.Engine.KeyTTL, cfg.Engine.KeyPruneInterval)
	}
	if len(cfg.Authorization.Users) != 1 || cfg.Authorization.Users[0].Name != "alice" {
		t.Errorf("Unexpected users %+v", cfg.Authorization.Users)
	}
	if !cfg.Consistency.Enabled || cfg.Consistency.Interval != 15*time.Minute {
		t.Errorf("Unexpected consistency settings %+v", cfg.Consistency)
	}
	if got := cfg.ResolvePath(cfg.Security.SigningKeyFile); got != "/srv/dittostore/signing.key" {
		t.Errorf("Expected signing key under the data dir, got %q", got)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	nonExistentPath := filepath.Join(t.TempDir(), "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Content.Type != "filesystem" {
		t.Errorf("Expected default content type 'filesystem', got %q", cfg.Content.Type)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, `
logging:
  level: INFO
  invalid yaml here [[[
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	configPath := writeConfig(t, `
control:
  port: 9000
storage:
  port: 9000
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error for planes sharing a port, got nil")
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("DITTOSTORE_LOGGING_LEVEL", "ERROR")
	t.Setenv("DITTOSTORE_CONTROL_PORT", "5888")

	configPath := writeConfig(t, `
logging:
  level: "INFO"

control:
  port: 8888
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.Control.Port != 5888 {
		t.Errorf("Expected port 5888 from env var, got %d", cfg.Control.Port)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")

	if got := GetDefaultConfigPath(); got != "/tmp/xdg/dittostore/config.yaml" {
		t.Errorf("Unexpected default config path %q", got)
	}
	if filepath.Base(GetConfigDir()) != "dittostore" {
		t.Errorf("Expected directory name 'dittostore', got %q", GetConfigDir())
	}
}

func TestConfigExists(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if ConfigExists() {
		t.Fatal("Expected no config in an empty config dir")
	}
	if _, err := InitConfig(false); err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}
	if !ConfigExists() {
		t.Fatal("Expected config to exist after InitConfig")
	}
}

func TestResolvePath(t *testing.T) {
	cfg := &Config{Server: ServerConfig{DataDir: "/data"}}

	if got := cfg.ResolvePath("key"); got != "/data/key" {
		t.Errorf("Expected relative path under data dir, got %q", got)
	}
	if got := cfg.ResolvePath("/etc/key"); got != "/etc/key" {
		t.Errorf("Expected absolute path unchanged, got %q", got)
	}
	if got := cfg.ResolvePath(""); got != "" {
		t.Errorf("Expected empty path unchanged, got %q", got)
	}
}
