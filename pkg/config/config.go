package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/marmos91/dittostore/pkg/adapter/control"
	storageAdapter "github.com/marmos91/dittostore/pkg/adapter/storage"
	"github.com/marmos91/dittostore/pkg/authz"
	"github.com/marmos91/dittostore/pkg/consistency"
	"github.com/marmos91/dittostore/pkg/storage"
)

// Config represents the complete DittoStore configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DITTOSTORE_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
//
// Content and metadata backends follow a type-plus-section pattern: Type
// selects the implementation and only the section with the same name is
// decoded, by the backend's own Config type.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Security holds the session-id signing settings.
	Security SecurityConfig `mapstructure:"security" yaml:"security"`

	// Control is the control-plane listener.
	Control control.Config `mapstructure:"control" yaml:"control"`

	// Storage is the storage-plane listener.
	Storage storageAdapter.Config `mapstructure:"storage" yaml:"storage"`

	// Engine tunes the storage operations themselves.
	Engine EngineConfig `mapstructure:"engine" yaml:"engine"`

	Content ContentConfig `mapstructure:"content" yaml:"content"`

	Metadata MetadataConfig `mapstructure:"metadata" yaml:"metadata"`

	// Authorization declares anonymous permissions, roles and users.
	Authorization authz.PolicyConfig `mapstructure:"authorization" yaml:"authorization"`

	Consistency consistency.Config `mapstructure:"consistency" yaml:"consistency"`

	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ShutdownTimeout bounds the whole shutdown sequence.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// DataDir holds the signing key, the lock file and, by default, the
	// metadata database and the cloud folder.
	DataDir string `mapstructure:"data_dir" validate:"required" yaml:"data_dir"`

	// LockFile prevents two servers from sharing a data dir. Relative
	// paths are resolved against DataDir.
	LockFile string `mapstructure:"lock_file" validate:"required" yaml:"lock_file"`
}

// SecurityConfig controls session-id signing.
type SecurityConfig struct {
	// SigningKeyFile is created with random bytes when missing. Relative
	// paths are resolved against the data dir.
	SigningKeyFile string `mapstructure:"signing_key_file" validate:"required" yaml:"signing_key_file"`

	// MaxMintAttempts bounds retries when a minted id collides.
	MaxMintAttempts int `mapstructure:"max_mint_attempts" validate:"min=1" yaml:"max_mint_attempts"`
}

// EngineConfig tunes the storage engine and its operation keys.
type EngineConfig struct {
	storage.Config `mapstructure:",squash" yaml:",inline"`

	// KeyTTL is how long an unused operation key stays valid.
	KeyTTL time.Duration `mapstructure:"key_ttl" validate:"gt=0" yaml:"key_ttl"`

	// KeyPruneInterval is how often expired keys are dropped.
	KeyPruneInterval time.Duration `mapstructure:"key_prune_interval" validate:"gt=0" yaml:"key_prune_interval"`
}

// ContentConfig selects the content store.
type ContentConfig struct {
	// Type specifies which content store implementation to use
	// Valid values: filesystem, memory, s3
	Type string `mapstructure:"type" validate:"required,oneof=filesystem memory s3" yaml:"type"`

	// Filesystem is decoded into fs.Config when Type = "filesystem".
	Filesystem map[string]any `mapstructure:"filesystem" yaml:"filesystem,omitempty"`

	// S3 is decoded into s3.Config when Type = "s3".
	S3 map[string]any `mapstructure:"s3" yaml:"s3,omitempty"`
}

// MetadataConfig selects the metadata store.
type MetadataConfig struct {
	// Type specifies which metadata store implementation to use
	// Valid values: sqlite, badger, memory
	Type string `mapstructure:"type" validate:"required,oneof=sqlite badger memory" yaml:"type"`

	// SQLite is decoded into sqlite.Config when Type = "sqlite".
	SQLite map[string]any `mapstructure:"sqlite" yaml:"sqlite,omitempty"`

	// Badger is decoded into badger.Config when Type = "badger".
	Badger map[string]any `mapstructure:"badger" yaml:"badger,omitempty"`

	// Memory is decoded into memory.Config when Type = "memory".
	Memory map[string]any `mapstructure:"memory" yaml:"memory,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Host    string `mapstructure:"host" yaml:"host"`
	Port    int    `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// Load loads configuration from file, environment, and defaults.
//
// An empty configPath uses the default location; a missing file there is
// not an error. The returned config has defaults applied and is valid.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: DITTOSTORE_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTOSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}

	// $XDG_CONFIG_HOME/dittostore/config.yaml
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns $XDG_CONFIG_HOME/dittostore, falling back to
// ~/.config/dittostore and finally to the current directory.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittostore")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittostore")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}

// ResolvePath anchors a relative path at the data dir.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Server.DataDir, p)
}
