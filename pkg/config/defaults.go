package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/dittostore/pkg/adapter/control"
	storageAdapter "github.com/marmos91/dittostore/pkg/adapter/storage"
	"github.com/marmos91/dittostore/pkg/authz"
	"github.com/marmos91/dittostore/pkg/session"
)

// DefaultMetricsPort is the Prometheus endpoint port.
const DefaultMetricsPort = 9090

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced, explicit values are preserved. Backend-specific
// knobs beyond paths are left to the backends themselves.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applySecurityDefaults(&cfg.Security)

	if cfg.Control.Port == 0 {
		cfg.Control.Port = control.DefaultPort
	}
	cfg.Control.ApplyDefaults()

	if cfg.Storage.Port == 0 {
		cfg.Storage.Port = storageAdapter.DefaultPort
	}
	cfg.Storage.ApplyDefaults()

	applyEngineDefaults(&cfg.Engine)
	applyContentDefaults(&cfg.Content, cfg.Server.DataDir)
	applyMetadataDefaults(&cfg.Metadata, cfg.Server.DataDir)
	cfg.Consistency.ApplyDefaults()
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}
	if cfg.LockFile == "" {
		cfg.LockFile = "dittostore.lock"
	}
}

func applySecurityDefaults(cfg *SecurityConfig) {
	if cfg.SigningKeyFile == "" {
		cfg.SigningKeyFile = "signing.key"
	}
	if cfg.MaxMintAttempts == 0 {
		cfg.MaxMintAttempts = session.DefaultMaxMintAttempts
	}
}

func applyEngineDefaults(cfg *EngineConfig) {
	cfg.Config.ApplyDefaults()
	if cfg.KeyTTL == 0 {
		cfg.KeyTTL = authz.DefaultKeyTTL
	}
	if cfg.KeyPruneInterval == 0 {
		cfg.KeyPruneInterval = cfg.KeyTTL
	}
}

// applyContentDefaults fills the path of the filesystem store so that a
// fresh install serves a folder under the data dir.
func applyContentDefaults(cfg *ContentConfig, dataDir string) {
	if cfg.Type == "" {
		cfg.Type = "filesystem"
	}
	if cfg.Filesystem == nil {
		cfg.Filesystem = make(map[string]any)
	}
	if _, ok := cfg.Filesystem["path"]; !ok {
		cfg.Filesystem["path"] = filepath.Join(dataDir, "cloud")
	}
}

func applyMetadataDefaults(cfg *MetadataConfig, dataDir string) {
	if cfg.Type == "" {
		cfg.Type = "sqlite"
	}
	if cfg.SQLite == nil {
		cfg.SQLite = make(map[string]any)
	}
	if _, ok := cfg.SQLite["path"]; !ok {
		cfg.SQLite["path"] = filepath.Join(dataDir, "metadata.db")
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if _, ok := cfg.Badger["path"]; !ok {
		cfg.Badger["path"] = filepath.Join(dataDir, "badger")
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultMetricsPort
	}
}

// defaultDataDir returns $XDG_DATA_HOME/dittostore, falling back to
// ~/.local/share/dittostore.
func defaultDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "dittostore")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "data"
	}
	return filepath.Join(home, ".local", "share", "dittostore")
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// The default policy lets anonymous sessions do everything but assign
// roles, and declares an "admin" role with every permission.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Authorization: authz.PolicyConfig{
			Anonymous: []string{
				"CREATE_FILE", "READ_FILE", "EDIT_FILE", "DELETE_FILE",
				"CREATE_SUB_DIRECTORY", "DELETE_SUB_DIRECTORY",
				"READ_TREE_DIRECTORY", "WRITE_FILE",
			},
			Roles: map[string][]string{
				"admin": {"ALL"},
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
