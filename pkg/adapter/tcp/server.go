// Package tcp is the accept loop shared by both DittoStore planes.
//
// Server owns the listener, the connection limit and the shutdown sequence.
// What happens on a connection is decided by the ConnHandler it is given.
package tcp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/metrics"
)

// ConnHandler serves one accepted connection. It must return when ctx is
// cancelled or the connection fails. The server closes the connection
// after ServeConn returns.
type ConnHandler interface {
	ServeConn(ctx context.Context, conn net.Conn)
}

// ConnHandlerFunc adapts a function to ConnHandler.
type ConnHandlerFunc func(ctx context.Context, conn net.Conn)

func (f ConnHandlerFunc) ServeConn(ctx context.Context, conn net.Conn) { f(ctx, conn) }

// TLSConfig enables TLS on a listener when both files are set.
type TLSConfig struct {
	CertFile string `mapstructure:"cert_file" yaml:"cert_file,omitempty" validate:"required_with=KeyFile"`
	KeyFile  string `mapstructure:"key_file" yaml:"key_file,omitempty" validate:"required_with=CertFile"`
}

// Enabled reports whether a certificate pair is configured.
func (c TLSConfig) Enabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// Config holds the listener settings of one plane.
type Config struct {
	// Host is the bind address. Empty binds every interface.
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the TCP port. 0 lets the OS pick one.
	Port int `mapstructure:"port" validate:"min=0,max=65535" yaml:"port"`

	// MaxConnections limits concurrent connections. Connections past the
	// limit are accepted and closed immediately. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0" yaml:"max_connections"`

	// ReadTimeout bounds each read of a request.
	ReadTimeout time.Duration `mapstructure:"read_timeout" validate:"min=0" yaml:"read_timeout"`

	// IdleTimeout closes a connection with no traffic for this long.
	// 0 disables idle expiry.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"min=0" yaml:"idle_timeout"`

	// ShutdownTimeout is how long Serve waits for active connections
	// before force-closing them.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0" yaml:"shutdown_timeout"`

	TLS TLSConfig `mapstructure:"tls" yaml:"tls,omitempty"`
}

// ApplyDefaults fills zero values. The port has no default: each plane
// sets its own.
func (c *Config) ApplyDefaults() {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

// Validate checks the settings that tags cannot express.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid max_connections %d: must be >= 0", c.MaxConnections)
	}
	if c.ReadTimeout < 0 || c.IdleTimeout < 0 {
		return errors.New("timeouts must be >= 0")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown_timeout %v: must be > 0", c.ShutdownTimeout)
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return errors.New("tls cert_file and key_file must be set together")
	}
	return nil
}

// Addr returns the host:port the listener binds.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Server is a TCP accept loop with a connection limit and graceful
// shutdown.
type Server struct {
	name    string
	config  Config
	handler ConnHandler
	metrics metrics.ConnectionMetrics

	mu       sync.Mutex
	listener net.Listener

	// activeConns tracks running connection goroutines.
	activeConns sync.WaitGroup

	// activeConnections maps connection ids to net.Conn for force-close.
	activeConnections sync.Map
	nextID            atomic.Uint64

	connCount     atomic.Int32
	connSemaphore chan struct{}

	shutdown     chan struct{}
	shutdownOnce sync.Once

	// shutdownCtx is handed to every connection. It is cancelled when
	// shutdown starts so handlers can stop between requests.
	shutdownCtx    context.Context
	cancelRequests context.CancelFunc

	// drained is closed once every connection goroutine has returned.
	drained     chan struct{}
	drainedOnce sync.Once
}

// New creates a server. name labels log lines ("control", "storage").
// A nil connMetrics disables metrics.
func New(name string, config Config, handler ConnHandler, connMetrics metrics.ConnectionMetrics) *Server {
	config.ApplyDefaults()

	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
		logger.Debug("%s connection limit: %d", name, config.MaxConnections)
	} else {
		logger.Debug("%s connection limit: unlimited", name)
	}

	if connMetrics == nil {
		connMetrics = metrics.NewConnectionMetrics(nil, name)
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	return &Server{
		name:           name,
		config:         config,
		handler:        handler,
		metrics:        connMetrics,
		connSemaphore:  connSemaphore,
		shutdown:       make(chan struct{}),
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancelRequests,
		drained:        make(chan struct{}),
	}
}

// Config returns the effective configuration.
func (s *Server) Config() Config { return s.config }

// Listen binds the listener without serving. Serve calls it when needed;
// tests call it first to learn the port.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil
	}
	select {
	case <-s.shutdown:
		return net.ErrClosed
	default:
	}

	listener, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("failed to create %s listener on %s: %w", s.name, s.config.Addr(), err)
	}

	if s.config.TLS.Enabled() {
		cert, err := tls.LoadX509KeyPair(s.config.TLS.CertFile, s.config.TLS.KeyFile)
		if err != nil {
			_ = listener.Close()
			return fmt.Errorf("load %s TLS key pair: %w", s.name, err)
		}
		listener = tls.NewListener(listener, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
	}

	s.listener = listener
	return nil
}

// Serve accepts connections until ctx is cancelled or Stop is called.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	logger.Info("%s plane listening on %s (tls=%v)", s.name, listener.Addr(), s.config.TLS.Enabled())
	logger.Debug("%s config: max_connections=%d read_timeout=%v idle_timeout=%v shutdown_timeout=%v",
		s.name, s.config.MaxConnections, s.config.ReadTimeout, s.config.IdleTimeout, s.config.ShutdownTimeout)

	stopWatch := context.AfterFunc(ctx, func() {
		logger.Info("%s shutdown signal received: %v", s.name, context.Cause(ctx))
		s.initiateShutdown()
	})
	defer stopWatch()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return s.gracefulShutdown()
			}
			logger.Debug("Error accepting %s connection: %v", s.name, err)
			continue
		}

		select {
		case <-s.shutdown:
			_ = conn.Close()
			return s.gracefulShutdown()
		default:
		}

		if !s.acquire() {
			s.metrics.RecordConnectionRejected()
			logger.Warn("%s connection from %s rejected: limit of %d reached",
				s.name, conn.RemoteAddr(), s.config.MaxConnections)
			_ = conn.Close()
			continue
		}

		s.track(conn)
	}
}

func (s *Server) acquire() bool {
	if s.connSemaphore == nil {
		return true
	}
	select {
	case s.connSemaphore <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Server) release() {
	if s.connSemaphore != nil {
		<-s.connSemaphore
	}
}

// track registers conn and runs the handler on its own goroutine.
func (s *Server) track(conn net.Conn) {
	id := s.nextID.Add(1)

	s.activeConns.Add(1)
	s.activeConnections.Store(id, conn)
	current := s.connCount.Add(1)

	s.metrics.RecordConnectionAccepted()
	s.metrics.SetActiveConnections(current)

	logger.Debug("%s connection accepted from %s (active: %d)", s.name, conn.RemoteAddr(), current)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic in %s connection handler from %s: %v", s.name, conn.RemoteAddr(), r)
			}
			_ = conn.Close()

			s.activeConnections.Delete(id)
			current := s.connCount.Add(-1)
			s.release()

			s.metrics.RecordConnectionClosed()
			s.metrics.SetActiveConnections(current)
			logger.Debug("%s connection closed from %s (active: %d)", s.name, conn.RemoteAddr(), current)

			s.activeConns.Done()
		}()

		s.handler.ServeConn(s.shutdownCtx, conn)
	}()
}

// initiateShutdown closes the listener and cancels in-flight contexts.
// Safe to call more than once.
func (s *Server) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("%s shutdown initiated", s.name)
		close(s.shutdown)

		s.mu.Lock()
		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				logger.Debug("Error closing %s listener: %v", s.name, err)
			}
		}
		s.mu.Unlock()

		s.cancelRequests()

		go func() {
			s.activeConns.Wait()
			s.drainedOnce.Do(func() { close(s.drained) })
		}()
	})
}

// gracefulShutdown waits up to ShutdownTimeout, then force-closes.
func (s *Server) gracefulShutdown() error {
	logger.Info("%s graceful shutdown: waiting for %d active connection(s) (timeout: %v)",
		s.name, s.connCount.Load(), s.config.ShutdownTimeout)

	s.initiateShutdown()

	timer := time.NewTimer(s.config.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-s.drained:
		logger.Info("%s graceful shutdown complete: all connections closed", s.name)
		return nil

	case <-timer.C:
		remaining := s.connCount.Load()
		logger.Warn("%s shutdown timeout exceeded: %d connection(s) still active after %v, forcing closure",
			s.name, remaining, s.config.ShutdownTimeout)
		s.forceCloseConnections()
		return fmt.Errorf("%s shutdown timeout: %d connection(s) force-closed", s.name, remaining)
	}
}

func (s *Server) forceCloseConnections() {
	closed := 0
	s.activeConnections.Range(func(key, value any) bool {
		conn := value.(net.Conn)
		if err := conn.Close(); err != nil {
			logger.Debug("Error force-closing %s connection %v: %v", s.name, key, err)
			return true
		}
		closed++
		s.metrics.RecordConnectionForceClosed()
		return true
	})

	if closed > 0 {
		logger.Info("Force-closed %d %s connection(s)", closed, s.name)
	}
}

// Stop initiates shutdown and waits for active connections until ctx
// expires. It does not force-close; Serve does that past ShutdownTimeout.
func (s *Server) Stop(ctx context.Context) error {
	s.initiateShutdown()

	select {
	case <-s.drained:
		return nil
	case <-ctx.Done():
		logger.Warn("%s shutdown context cancelled: %d connection(s) still active: %v",
			s.name, s.connCount.Load(), ctx.Err())
		return ctx.Err()
	}
}

// ActiveConnections returns the number of open connections.
func (s *Server) ActiveConnections() int32 {
	return s.connCount.Load()
}

// Port returns the bound port, or the configured one before Listen.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return s.config.Port
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Addr()
}

// Protocol returns the plane name.
func (s *Server) Protocol() string { return s.name }
