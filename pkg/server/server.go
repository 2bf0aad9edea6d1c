// Package server assembles a DittoStore instance from its configuration and
// runs it.
//
// A Server owns everything with a lifecycle: the data-dir lock, the
// metadata and content stores, the session registry, the operation key
// table and its pruner, the control and storage adapters, the consistency
// sweeper and the metrics endpoint.
//
// Lifecycle:
//  1. Creation: New() opens the stores and wires the components
//  2. Startup: Serve() binds both planes and blocks
//  3. Shutdown: cancelling the Serve context (or calling Stop) closes the
//     listeners, lets in-flight storage operations finish within the
//     shutdown timeout, then releases the stores and the lock
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/adapter"
	"github.com/marmos91/dittostore/pkg/adapter/control"
	storageAdapter "github.com/marmos91/dittostore/pkg/adapter/storage"
	"github.com/marmos91/dittostore/pkg/authz"
	"github.com/marmos91/dittostore/pkg/config"
	"github.com/marmos91/dittostore/pkg/consistency"
	"github.com/marmos91/dittostore/pkg/content"
	"github.com/marmos91/dittostore/pkg/metadata"
	"github.com/marmos91/dittostore/pkg/metrics"
	"github.com/marmos91/dittostore/pkg/router"
	"github.com/marmos91/dittostore/pkg/session"
	"github.com/marmos91/dittostore/pkg/storage"
)

// ErrLocked is returned by New when another server holds the data dir.
var ErrLocked = errors.New("data dir is in use by another server")

// Server is one running DittoStore instance.
type Server struct {
	cfg *config.Config

	lock     *flock.Flock
	metadata metadata.Store
	content  content.Store

	keys     *authz.Keys
	policy   *authz.StaticPolicy
	registry *session.Registry
	router   *router.Router
	engine   *storage.Engine

	control  *control.Adapter
	storage  *storageAdapter.Adapter
	adapters []adapter.Adapter

	sweeper *consistency.Sweeper
	metrics *config.MetricsResult

	serveOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	closeOnce sync.Once
}

// New builds a server from cfg, which must already be validated. reg
// receives the metrics when cfg.Metrics.Enabled is set; it may be nil.
//
// New takes the data-dir lock and opens both stores. Callers that do not
// reach Serve must call Close.
func New(ctx context.Context, cfg *config.Config, reg *prometheus.Registry) (_ *Server, err error) {
	s := &Server{cfg: cfg, stopCh: make(chan struct{})}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if err := os.MkdirAll(cfg.Server.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir %s: %w", cfg.Server.DataDir, err)
	}

	s.lock = flock.New(cfg.ResolvePath(cfg.Server.LockFile))
	locked, err := s.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		s.lock = nil
		return nil, fmt.Errorf("%w: %s", ErrLocked, cfg.Server.DataDir)
	}

	secret, err := session.LoadOrCreateKey(cfg.ResolvePath(cfg.Security.SigningKeyFile))
	if err != nil {
		return nil, err
	}
	signer, err := session.NewSigner(secret)
	if err != nil {
		return nil, err
	}

	s.metrics = config.InitializeMetrics(cfg, reg)

	meta, err := config.CreateMetadataStore(ctx, &cfg.Metadata)
	if err != nil {
		return nil, err
	}
	s.metadata = metrics.InstrumentMetadata(meta, s.metrics.Metadata)
	if err := s.metadata.Healthcheck(ctx); err != nil {
		return nil, fmt.Errorf("metadata store is not healthy: %w", err)
	}

	s.content, err = config.CreateContentStore(ctx, &cfg.Content)
	if err != nil {
		return nil, err
	}

	s.policy, err = authz.NewStaticPolicy(cfg.Authorization)
	if err != nil {
		return nil, fmt.Errorf("authorization: %w", err)
	}
	s.keys = authz.NewKeys(cfg.Engine.KeyTTL)

	s.registry = session.NewRegistry(signer, cfg.Security.MaxMintAttempts)
	s.registry.OnSessionEnd(func(sessionID string) {
		if n := s.keys.DropSession(sessionID); n > 0 {
			logger.Debug("Dropped %d operation keys of ended session", n)
		}
	})
	s.registry.OnReverseRequest(s.metrics.Control.RecordReverseRequest)

	s.router = router.New()
	router.RegisterBuiltins(s.router, router.Builtins{
		Registry:      s.registry,
		Authorizer:    authz.NewAuthorizer(s.policy, s.keys),
		Authenticator: s.policy,
	})

	s.engine = storage.New(engineConfig(cfg), storage.Deps{
		Keys:     s.keys,
		Metadata: s.metadata,
		Content:  s.content,
		Users:    s.registry,
		Metrics:  s.metrics.Storage,
	})

	s.control = control.New(cfg.Control, control.Deps{
		Registry:    s.registry,
		Router:      s.router,
		Metrics:     s.metrics.Control,
		ConnMetrics: s.metrics.ControlConnections,
	})
	s.storage = storageAdapter.New(cfg.Storage, s.engine, s.metrics.StorageConnections)
	s.adapters = []adapter.Adapter{s.control, s.storage}

	s.sweeper = consistency.New(s.metadata, s.content, cfg.Consistency, s.metrics.Consistency)

	logger.Info("Server initialized: data_dir=%s metadata=%s content=%s",
		cfg.Server.DataDir, cfg.Metadata.Type, cfg.Content.Type)
	return s, nil
}

// engineConfig hands the storage listener's deadlines to the engine.
func engineConfig(cfg *config.Config) storage.Config {
	ec := cfg.Engine.Config
	ec.ReadTimeout = cfg.Storage.ReadTimeout
	ec.IdleTimeout = cfg.Storage.IdleTimeout
	return ec
}

// Router returns the view router, for registering application views
// before Serve.
func (s *Server) Router() *router.Router { return s.router }

// Registry returns the session registry.
func (s *Server) Registry() *session.Registry { return s.registry }

// Keys returns the operation key table.
func (s *Server) Keys() *authz.Keys { return s.keys }

// Metadata returns the metadata store.
func (s *Server) Metadata() metadata.Store { return s.metadata }

// Sweeper returns the consistency sweeper, for manual runs.
func (s *Server) Sweeper() *consistency.Sweeper { return s.sweeper }

// Listen binds both planes without serving, so callers can learn the
// ports before Serve.
func (s *Server) Listen() error {
	if err := s.control.Listen(); err != nil {
		return err
	}
	return s.storage.Listen()
}

// ControlAddr returns the bound control-plane address.
func (s *Server) ControlAddr() string { return s.control.Addr() }

// StorageAddr returns the bound storage-plane address.
func (s *Server) StorageAddr() string { return s.storage.Addr() }

// Serve runs both planes and the background workers until ctx is
// cancelled, Stop is called, or a plane fails. It releases every resource
// before returning. Serve may only be called once.
func (s *Server) Serve(ctx context.Context) error {
	err := errors.New("server is already serving")
	s.serveOnce.Do(func() {
		err = s.serve(ctx)
	})
	return err
}

func (s *Server) serve(ctx context.Context) error {
	defer s.Close()

	if err := s.Listen(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	for _, a := range s.adapters {
		g.Go(func() error {
			logger.Info("Starting %s plane on port %d", a.Protocol(), a.Port())
			if err := a.Serve(gctx); err != nil {
				return fmt.Errorf("%s plane: %w", a.Protocol(), err)
			}
			return nil
		})
	}

	g.Go(func() error {
		s.keys.RunPruner(gctx, s.cfg.Engine.KeyPruneInterval)
		return nil
	})

	if s.metrics.Server != nil {
		g.Go(func() error {
			return s.metrics.Server.Start(gctx)
		})
	}

	s.sweeper.Start()

	g.Go(func() error {
		<-gctx.Done()
		s.shutdown()
		return nil
	})

	err := g.Wait()
	if err != nil {
		logger.Error("Server stopped with error: %v", err)
		return err
	}

	logger.Info("Server stopped gracefully")
	return nil
}

// shutdown stops the adapters in reverse order, then the sweeper. Each
// adapter drains its connections up to its own shutdown timeout; the
// whole sequence is bounded by server.shutdown_timeout.
func (s *Server) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	logger.Info("Initiating graceful shutdown of %d plane(s)", len(s.adapters))
	for i := len(s.adapters) - 1; i >= 0; i-- {
		a := s.adapters[i]
		if err := a.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s plane: %v", a.Protocol(), err)
		}
	}

	if err := s.sweeper.Stop(ctx); err != nil {
		logger.Warn("Consistency sweep did not stop in time: %v", err)
	}
}

// Stop asks a serving server to shut down. It does not wait; Serve
// returns once the shutdown completes.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Close releases the stores and the data-dir lock. Serve calls it on
// return; it is only needed directly when Serve is never called.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		if s.content != nil {
			if err := s.content.Close(); err != nil {
				logger.Warn("Error closing content store: %v", err)
			}
		}
		if s.metadata != nil {
			if err := s.metadata.Close(); err != nil {
				logger.Warn("Error closing metadata store: %v", err)
			}
		}
		if s.lock != nil {
			if err := s.lock.Unlock(); err != nil {
				logger.Warn("Error releasing lock: %v", err)
			}
		}
	})
}
