package session

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittostore/internal/protocol/frame"
	"github.com/marmos91/dittostore/internal/protocol/message"
)

func testSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	return s
}

// pipeConn returns a registry connection and the client end of its socket.
func pipeConn(t *testing.T) (*Conn, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})
	return NewConn(server), client
}

func TestSignerRoundTrip(t *testing.T) {
	s := testSigner(t)

	id := s.Mint()
	raw, sig, ok := strings.Cut(id, ".")
	require.True(t, ok)
	assert.Len(t, raw, 36)
	assert.NotContains(t, sig, "=")
	assert.True(t, s.Verify(id))
}

func TestSignerRejectsTampering(t *testing.T) {
	s := testSigner(t)
	id := s.Mint()

	assert.False(t, s.Verify(""))
	assert.False(t, s.Verify("no-dot"))
	assert.False(t, s.Verify(id+"x"))
	assert.False(t, s.Verify("00000000-0000-4000-8000-000000000000"+id[36:]))

	other, err := NewSigner([]byte("another secret with enough bytes"))
	require.NoError(t, err)
	assert.False(t, other.Verify(id))
}

func TestSignerRequiresLongSecret(t *testing.T) {
	_, err := NewSigner([]byte("short"))
	assert.Error(t, err)
}

func TestLoadOrCreateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "signing.key")

	first, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	assert.Len(t, first, keyFileSize)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	require.NoError(t, os.Chmod(path, 0644))
	second, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	info, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm(), "permissions are restored on load")
}

func TestLoadOrCreateKeyRejectsShortFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signing.key")
	require.NoError(t, os.WriteFile(path, []byte("tiny"), 0600))

	_, err := LoadOrCreateKey(path)
	assert.Error(t, err)
}

func TestBootstrapMintsDistinctIDs(t *testing.T) {
	r := NewRegistry(testSigner(t), 0)
	c1, _ := pipeConn(t)
	c2, _ := pipeConn(t)

	s1, err := r.Bootstrap(c1, "")
	require.NoError(t, err)
	s2, err := r.Bootstrap(c2, "")
	require.NoError(t, err)

	assert.NotEqual(t, s1, s2)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, s1, r.SessionOf(c1))
}

func TestBootstrapAttachesToLiveSession(t *testing.T) {
	r := NewRegistry(testSigner(t), 0)
	c1, _ := pipeConn(t)
	c2, _ := pipeConn(t)

	s1, err := r.Bootstrap(c1, "")
	require.NoError(t, err)

	got, err := r.Bootstrap(c2, s1)
	require.NoError(t, err)
	assert.Equal(t, s1, got)
	assert.Equal(t, 1, r.Len())
	assert.Len(t, r.Members(s1), 2)
	assert.True(t, r.IsReceiver(c2))
	assert.False(t, r.IsReceiver(c1))
}

func TestBootstrapWithInvalidIDMintsFresh(t *testing.T) {
	signer := testSigner(t)
	r := NewRegistry(signer, 0)
	c1, _ := pipeConn(t)

	forged := "11111111-1111-4111-8111-111111111111.bogus"
	got, err := r.Bootstrap(c1, forged)
	require.NoError(t, err)
	assert.NotEqual(t, forged, got)
	assert.True(t, signer.Verify(got))

	// Validly signed but not live.
	stale := signer.Mint()
	c2, _ := pipeConn(t)
	got, err = r.Bootstrap(c2, stale)
	require.NoError(t, err)
	assert.NotEqual(t, stale, got)
}

func TestBootstrapGivesUpAfterMaxAttempts(t *testing.T) {
	signer := testSigner(t)
	signer.newID = func() string { return "00000000-0000-4000-8000-000000000000" }
	r := NewRegistry(signer, 3)

	c1, _ := pipeConn(t)
	_, err := r.Bootstrap(c1, "")
	require.NoError(t, err)

	c2, _ := pipeConn(t)
	_, err = r.Bootstrap(c2, "")
	assert.ErrorIs(t, err, ErrSessionGeneration)
	assert.Empty(t, r.SessionOf(c2))
}

func TestResolveKeepsExistingSession(t *testing.T) {
	r := NewRegistry(testSigner(t), 0)
	c1, _ := pipeConn(t)

	id, err := r.Resolve(c1, "")
	require.NoError(t, err)

	again, err := r.Resolve(c1, "ignored")
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, 1, r.Len())
}

func TestCloseEndsSessionWithLastMember(t *testing.T) {
	r := NewRegistry(testSigner(t), 0)

	var ended []string
	r.OnSessionEnd(func(id string) { ended = append(ended, id) })

	c1, _ := pipeConn(t)
	c2, _ := pipeConn(t)
	s1, _ := r.Bootstrap(c1, "")
	_, _ = r.Bootstrap(c2, s1)
	require.NoError(t, r.Login(c1, 7))

	r.Close(c1)
	assert.True(t, r.Exists(s1))
	assert.Empty(t, ended)

	r.Close(c2)
	assert.False(t, r.Exists(s1))
	assert.Equal(t, []string{s1}, ended)

	_, ok := r.SessionOfUser(7)
	assert.False(t, ok, "user binding is removed with the session")

	r.Close(c2)
	assert.Len(t, ended, 1)
}

func TestLoginMovesUserBinding(t *testing.T) {
	r := NewRegistry(testSigner(t), 0)
	c1, _ := pipeConn(t)
	c2, _ := pipeConn(t)
	s1, _ := r.Bootstrap(c1, "")
	s2, _ := r.Bootstrap(c2, "")

	require.NoError(t, r.Login(c1, 42))
	uid, ok := r.UserOf(s1)
	require.True(t, ok)
	assert.Equal(t, int64(42), *uid)

	require.NoError(t, r.Login(c2, 42))
	_, ok = r.UserOf(s1)
	assert.False(t, ok, "older session loses the binding")

	sid, ok := r.SessionOfUser(42)
	require.True(t, ok)
	assert.Equal(t, s2, sid)

	require.NoError(t, r.Login(c2, 43))
	_, ok = r.SessionOfUser(42)
	assert.False(t, ok)

	require.NoError(t, r.Logout(c2))
	_, ok = r.UserOf(s2)
	assert.False(t, ok)
}

func TestLoginWithoutSession(t *testing.T) {
	r := NewRegistry(testSigner(t), 0)
	c1, _ := pipeConn(t)

	assert.ErrorIs(t, r.Login(c1, 1), ErrNoSession)
	assert.ErrorIs(t, r.Logout(c1), ErrNoSession)
}

func TestSessionsSorted(t *testing.T) {
	r := NewRegistry(testSigner(t), 0)
	for i := 0; i < 5; i++ {
		c, _ := pipeConn(t)
		_, err := r.Bootstrap(c, "")
		require.NoError(t, err)
	}

	ids := r.Sessions()
	assert.Len(t, ids, 5)
	assert.IsIncreasing(t, ids)
}

func readPush(t *testing.T, c net.Conn) (string, string) {
	t.Helper()
	payload, err := frame.ReadFrame(c, frame.ControlWidth, frame.DefaultBufferLimit)
	require.NoError(t, err)
	view, body, err := message.ParsePush(payload)
	require.NoError(t, err)
	return view, string(body)
}

func TestReverseRequestPrefersReceiver(t *testing.T) {
	r := NewRegistry(testSigner(t), 0)
	primary, _ := pipeConn(t)
	receiver, receiverClient := pipeConn(t)

	s1, _ := r.Bootstrap(primary, "")
	_, _ = r.Bootstrap(receiver, s1)
	require.NoError(t, r.Login(primary, 5))

	var wg sync.WaitGroup
	wg.Add(1)
	var view, body string
	go func() {
		defer wg.Done()
		view, body = readPush(t, receiverClient)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ok, err := r.ReverseRequest(ctx, 5, "notify", map[string]string{"msg": "hi"})
	require.NoError(t, err)
	assert.True(t, ok)

	wg.Wait()
	assert.Equal(t, "notify", view)
	assert.JSONEq(t, `{"msg":"hi"}`, body)
}

func TestReverseRequestFallsBackWhenWriteFails(t *testing.T) {
	r := NewRegistry(testSigner(t), 0)
	primary, primaryClient := pipeConn(t)
	receiver, receiverClient := pipeConn(t)

	s1, _ := r.Bootstrap(primary, "")
	_, _ = r.Bootstrap(receiver, s1)
	require.NoError(t, r.Login(primary, 5))

	require.NoError(t, receiverClient.Close())

	done := make(chan string, 1)
	go func() {
		view, _ := readPush(t, primaryClient)
		done <- view
	}()

	ok, err := r.ReverseRequest(context.Background(), 5, "ping", nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ping", <-done)
}

func TestReverseRequestOffline(t *testing.T) {
	r := NewRegistry(testSigner(t), 0)

	ok, err := r.ReverseRequest(context.Background(), 99, "ping", nil)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestSendWithoutDeadlineTimesOut(t *testing.T) {
	conn, _ := pipeConn(t)
	conn.sendTimeout = 50 * time.Millisecond

	done := make(chan error, 1)
	go func() { done <- conn.Send(context.Background(), []byte("ping|null")) }()

	select {
	case err := <-done:
		require.Error(t, err)
		var ne net.Error
		require.ErrorAs(t, err, &ne)
		assert.True(t, ne.Timeout())
	case <-time.After(2 * time.Second):
		t.Fatal("send blocked on a peer that never reads")
	}

	// The write lock was released.
	go func() { done <- conn.Send(context.Background(), []byte("ping|null")) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second send did not return")
	}
}

func TestReverseRequestHooks(t *testing.T) {
	r := NewRegistry(testSigner(t), 0)
	conn, client := pipeConn(t)
	_, _ = r.Bootstrap(conn, "")
	require.NoError(t, r.Login(conn, 5))

	type call struct {
		view      string
		delivered bool
	}
	var calls []call
	r.OnReverseRequest(func(view string, delivered bool) {
		calls = append(calls, call{view, delivered})
	})

	done := make(chan string, 1)
	go func() {
		view, _ := readPush(t, client)
		done <- view
	}()
	ok, err := r.ReverseRequest(context.Background(), 5, "notify", nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "notify", <-done)

	ok, err = r.ReverseRequest(context.Background(), 99, "ping", nil)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = r.ReverseRequest(context.Background(), 5, "bad", make(chan int))
	require.Error(t, err)

	assert.Equal(t, []call{{"notify", true}, {"ping", false}}, calls)
}

func TestReverseRequestUnencodable(t *testing.T) {
	r := NewRegistry(testSigner(t), 0)

	_, err := r.ReverseRequest(context.Background(), 1, "ping", make(chan int))
	assert.Error(t, err)
}
