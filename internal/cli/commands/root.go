// Package commands implements the dittostore command line.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/config"
)

var (
	version = "dev"
	commit  = "none"

	// configPath is the --config flag shared by every command.
	configPath string
)

// SetVersion sets the string printed by --version.
func SetVersion(v, c string) {
	version = v
	commit = c
	rootCmd.Version = fmt.Sprintf("%s (commit %s)", version, commit)
}

var rootCmd = &cobra.Command{
	Use:   "dittostore",
	Short: "Permission-gated remote file storage",
	Long: `DittoStore serves a cloud folder over two TCP planes: a control plane
that carries sessions, logins and operation keys, and a storage plane that
runs single file operations authorized by those keys.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate("dittostore version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default "+config.GetDefaultConfigPath()+")")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads the configuration and applies its logging section.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := logger.Configure(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return nil, err
	}
	return cfg, nil
}
