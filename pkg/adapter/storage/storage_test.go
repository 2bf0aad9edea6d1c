package storage

import (
	"context"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittostore/internal/protocol/frame"
	"github.com/marmos91/dittostore/internal/protocol/message"
	"github.com/marmos91/dittostore/pkg/adapter/tcp"
	"github.com/marmos91/dittostore/pkg/authz"
	contentfs "github.com/marmos91/dittostore/pkg/content/fs"
	"github.com/marmos91/dittostore/pkg/metadata/memory"
	engine "github.com/marmos91/dittostore/pkg/storage"
)

func startAdapter(t *testing.T, h Handler) *Adapter {
	t.Helper()

	a := New(Config{tcp.Config{Host: "127.0.0.1", ShutdownTimeout: time.Second}}, h, nil)
	require.NoError(t, a.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("storage adapter did not stop")
		}
	})
	return a
}

// roundTrip sends one storage frame and reads until the server closes.
func roundTrip(t *testing.T, a *Adapter, path, sid string, body []byte) string {
	t.Helper()

	conn, err := net.DialTimeout("tcp", a.Addr(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	payload := append(message.EncodeStorageHeader(path, sid), body...)
	require.NoError(t, frame.WriteFrame(conn, frame.StorageWidth, payload))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	reply, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(reply)
}

func TestStoragePlaneEndToEnd(t *testing.T) {
	keys := authz.NewKeys(time.Minute)
	eng := engine.New(engine.Config{ReadTimeout: 2 * time.Second}, engine.Deps{
		Keys:     keys,
		Metadata: memory.New(memory.Config{}),
		Content:  contentfs.NewMemory(),
	})
	a := startAdapter(t, eng)
	assert.Equal(t, "storage", a.Protocol())
	assert.NotZero(t, a.Port())

	keys.Grant("docs", "S1", authz.CreateDir)
	assert.Equal(t, engine.StatusSuccess, roundTrip(t, a, "docs", "S1", nil))
	assert.Equal(t, engine.StatusAccessDenied, roundTrip(t, a, "docs", "S1", nil))

	keys.Grant("docs/a.txt", "S1", authz.WriteFile)
	assert.Equal(t, engine.StatusSuccess, roundTrip(t, a, "docs/a.txt", "S1", []byte("hello")))

	keys.Grant("docs/a.txt", "S1", authz.ReadFile)
	assert.Equal(t, "0000000005hello", roundTrip(t, a, "docs/a.txt", "S1", nil))
}

type countingHandler struct {
	calls atomic.Int32
}

func (h *countingHandler) Handle(_ context.Context, conn net.Conn) error {
	h.calls.Add(1)
	_, err := frame.ReadLength(conn, frame.StorageWidth)
	return err
}

func TestEmptyConnectionIsHarmless(t *testing.T) {
	h := &countingHandler{}
	a := startAdapter(t, h)

	conn, err := net.DialTimeout("tcp", a.Addr(), time.Second)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return h.calls.Load() == 1 && a.ActiveConnections() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
