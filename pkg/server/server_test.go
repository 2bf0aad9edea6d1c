package server

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittostore/internal/protocol/frame"
	"github.com/marmos91/dittostore/internal/protocol/message"
	"github.com/marmos91/dittostore/pkg/config"
	"github.com/marmos91/dittostore/pkg/storage"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.GetDefaultConfig()
	cfg.Server.DataDir = t.TempDir()
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Control.Host, cfg.Control.Port = "127.0.0.1", 0
	cfg.Storage.Host, cfg.Storage.Port = "127.0.0.1", 0
	cfg.Content.Type = "memory"
	cfg.Metadata.Type = "memory"
	return cfg
}

func bootstrap(t *testing.T, addr string) string {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	require.NoError(t, frame.WriteFrame(conn, frame.ControlWidth, message.EncodeControl(message.BootstrapView, "", nil)))
	sid, err := frame.ReadFrame(conn, frame.ControlWidth, 0)
	require.NoError(t, err)
	return string(sid)
}

func TestNewCreatesKeyAndLock(t *testing.T) {
	cfg := memoryConfig(t)

	srv, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer srv.Close()

	info, err := os.Stat(filepath.Join(cfg.Server.DataDir, "signing.key"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	_, err = New(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestCloseReleasesLock(t *testing.T) {
	cfg := memoryConfig(t)

	srv, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	srv.Close()

	srv, err = New(context.Background(), cfg, nil)
	require.NoError(t, err)
	srv.Close()
}

func TestSigningKeySurvivesRestart(t *testing.T) {
	cfg := memoryConfig(t)

	srv, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	sid := srv.Registry().Signer().Mint()
	srv.Close()

	srv, err = New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer srv.Close()
	assert.True(t, srv.Registry().Signer().Verify(sid))
}

func TestServeAndStop(t *testing.T) {
	srv, err := New(context.Background(), memoryConfig(t), nil)
	require.NoError(t, err)
	require.NoError(t, srv.Listen())

	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()

	sid := bootstrap(t, srv.ControlAddr())
	assert.True(t, srv.Registry().Exists(sid))

	srv.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}

	_, err = net.DialTimeout("tcp", srv.StorageAddr(), 200*time.Millisecond)
	assert.Error(t, err, "storage plane still accepting after stop")

	assert.Error(t, srv.Serve(context.Background()), "second Serve must fail")
}

func TestServeRecordsAudit(t *testing.T) {
	srv, err := New(context.Background(), memoryConfig(t), nil)
	require.NoError(t, err)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	conn, err := net.DialTimeout("tcp", srv.StorageAddr(), time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	payload := message.EncodeStorageHeader("docs", "no-such-session")
	require.NoError(t, frame.WriteFrame(conn, frame.StorageWidth, payload))
	buf := make([]byte, 128)
	n, _ := conn.Read(buf)
	assert.Contains(t, string(buf[:n]), "AccessDenied")

	require.Eventually(t, func() bool {
		recs, err := srv.Metadata().ListAudit(context.Background(), 10)
		return err == nil && len(recs) == 1 && recs[0].Operation == "NONE" && recs[0].Outcome == storage.OutcomeDenied
	}, 2*time.Second, 20*time.Millisecond)
}

func TestEngineTakesStorageDeadlines(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Storage.ReadTimeout = 5 * time.Second
	cfg.Storage.IdleTimeout = time.Second

	ec := engineConfig(cfg)
	assert.Equal(t, 5*time.Second, ec.ReadTimeout)
	assert.Equal(t, time.Second, ec.IdleTimeout)
	assert.Equal(t, cfg.Engine.ChunkSize, ec.ChunkSize)
}
