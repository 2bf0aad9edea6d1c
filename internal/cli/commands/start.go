package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/metrics"
	"github.com/marmos91/dittostore/pkg/server"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the server",
	Long: `Run the control and storage planes until SIGINT or SIGTERM.

On a signal the listeners close, in-flight storage operations get up to
server.shutdown_timeout to finish, then the stores and the data-dir lock
are released.`,
	Args: cobra.NoArgs,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, metrics.GetRegistry())
	if err != nil {
		if errors.Is(err, server.ErrLocked) {
			logger.Error("Another server is already running on %s", cfg.Server.DataDir)
		}
		return err
	}

	logger.Info("DittoStore %s starting: control=%s storage=%s",
		version, cfg.Control.Addr(), cfg.Storage.Addr())

	if err := srv.Serve(ctx); err != nil {
		return err
	}
	return nil
}
