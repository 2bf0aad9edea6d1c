package tcp

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittostore/pkg/metrics"
)

// echoLine answers every line with the same line until the client leaves
// or the server shuts down.
func echoLine(ctx context.Context, conn net.Conn) {
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		if _, err := io.WriteString(conn, line); err != nil {
			return
		}
	}
}

func startServer(t *testing.T, cfg Config, h ConnHandler, m metrics.ConnectionMetrics) (*Server, context.CancelFunc, <-chan error) {
	t.Helper()

	cfg.Host = "127.0.0.1"
	s := New("test", cfg, h, m)
	require.NoError(t, s.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	})
	return s, cancel, done
}

func dial(t *testing.T, s *Server) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", s.Addr(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestServeEcho(t *testing.T) {
	s, _, _ := startServer(t, Config{ShutdownTimeout: time.Second}, ConnHandlerFunc(echoLine), nil)
	assert.NotZero(t, s.Port())
	assert.Equal(t, "test", s.Protocol())

	conn := dial(t, s)
	_, err := io.WriteString(conn, "ping\n")
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "ping\n", line)

	require.Eventually(t, func() bool { return s.ActiveConnections() == 1 }, time.Second, 10*time.Millisecond)
}

func TestGracefulShutdownWaitsForHandlers(t *testing.T) {
	s, cancel, done := startServer(t, Config{ShutdownTimeout: 2 * time.Second}, ConnHandlerFunc(echoLine), nil)

	conn := dial(t, s)
	require.Eventually(t, func() bool { return s.ActiveConnections() == 1 }, time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err, "handlers honour the shutdown context")
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
	}

	_, err := conn.Read(make([]byte, 1))
	assert.Error(t, err, "connection is closed after shutdown")
	assert.Zero(t, s.ActiveConnections())
}

func TestShutdownForceClosesStuckConnections(t *testing.T) {
	m := &countingMetrics{}

	// The handler ignores ctx and blocks on the socket.
	stuck := ConnHandlerFunc(func(_ context.Context, conn net.Conn) {
		_, _ = io.Copy(io.Discard, conn)
	})
	s, cancel, done := startServer(t, Config{ShutdownTimeout: 100 * time.Millisecond}, stuck, m)

	dial(t, s)
	require.Eventually(t, func() bool { return s.ActiveConnections() == 1 }, time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "force-closed")
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
	}

	require.Eventually(t, func() bool { return s.ActiveConnections() == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), m.forceClosed.Load())
	require.Eventually(t, func() bool { return m.closed.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestMaxConnectionsRejectsExcess(t *testing.T) {
	m := &countingMetrics{}

	s, _, _ := startServer(t, Config{MaxConnections: 1, ShutdownTimeout: time.Second}, ConnHandlerFunc(echoLine), m)

	dial(t, s)
	require.Eventually(t, func() bool { return s.ActiveConnections() == 1 }, time.Second, 10*time.Millisecond)

	second := dial(t, s)
	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := second.Read(make([]byte, 1))
	assert.Error(t, err, "excess connection is closed by the server")

	assert.Equal(t, int32(1), s.ActiveConnections())
	assert.Equal(t, int32(1), m.rejected.Load())
	assert.Equal(t, int32(1), m.accepted.Load())
}

func TestStopWithoutServe(t *testing.T) {
	s := New("idle", Config{Host: "127.0.0.1", Port: 0}, ConnHandlerFunc(echoLine), nil)
	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()), "second stop is a no-op")
	assert.ErrorIs(t, s.Listen(), net.ErrClosed)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Port: 4000}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 60*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)

	bad := cfg
	bad.Port = 70000
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.TLS.CertFile = "cert.pem"
	assert.Error(t, bad.Validate())

	bad.TLS.KeyFile = "key.pem"
	assert.NoError(t, bad.Validate())
	assert.True(t, bad.TLS.Enabled())
}

func TestListenFailsOnMissingCertificate(t *testing.T) {
	s := New("tls", Config{
		Host: "127.0.0.1",
		TLS:  TLSConfig{CertFile: "/nonexistent/cert.pem", KeyFile: "/nonexistent/key.pem"},
	}, ConnHandlerFunc(echoLine), nil)

	err := s.Listen()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TLS key pair")
}

// countingMetrics records lifecycle events for assertions.
type countingMetrics struct {
	accepted, closed, forceClosed, rejected atomic.Int32
	active                                  atomic.Int32
}

func (m *countingMetrics) RecordConnectionAccepted()        { m.accepted.Add(1) }
func (m *countingMetrics) RecordConnectionClosed()          { m.closed.Add(1) }
func (m *countingMetrics) RecordConnectionForceClosed()     { m.forceClosed.Add(1) }
func (m *countingMetrics) RecordConnectionRejected()        { m.rejected.Add(1) }
func (m *countingMetrics) SetActiveConnections(count int32) { m.active.Store(count) }
