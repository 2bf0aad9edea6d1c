package control

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittostore/internal/protocol/frame"
	"github.com/marmos91/dittostore/internal/protocol/message"
	"github.com/marmos91/dittostore/pkg/authz"
	"github.com/marmos91/dittostore/pkg/router"
	"github.com/marmos91/dittostore/pkg/session"
)

type harness struct {
	adapter  *Adapter
	registry *session.Registry
	keys     *authz.Keys
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	signer, err := session.NewSigner([]byte("control-test-secret-0123456789ab"))
	require.NoError(t, err)
	registry := session.NewRegistry(signer, 0)

	policy, err := authz.NewStaticPolicy(authz.PolicyConfig{Anonymous: []string{"ALL"}})
	require.NoError(t, err)
	keys := authz.NewKeys(time.Minute)
	registry.OnSessionEnd(func(sid string) { keys.DropSession(sid) })

	r := router.New()
	router.RegisterBuiltins(r, router.Builtins{
		Registry:   registry,
		Authorizer: authz.NewAuthorizer(policy, keys),
	})
	r.Handle("test.panic", func(context.Context, *router.Request) (any, error) {
		panic("boom")
	})

	return &harness{
		adapter:  New(cfg, Deps{Registry: registry, Router: r}),
		registry: registry,
		keys:     keys,
	}
}

// connect runs ServeConn on one end of a pipe and returns the other end.
func (h *harness) connect(t *testing.T, ctx context.Context) (net.Conn, <-chan struct{}) {
	t.Helper()

	server, client := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.adapter.ServeConn(ctx, server)
		_ = server.Close()
	}()

	t.Cleanup(func() {
		_ = client.Close()
		<-done
	})
	return client, done
}

func send(t *testing.T, c net.Conn, view, sid string, body string) {
	t.Helper()
	require.NoError(t, c.SetWriteDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, frame.WriteFrame(c, frame.ControlWidth, message.EncodeControl(view, sid, []byte(body))))
}

func recv(t *testing.T, c net.Conn) []byte {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	payload, err := frame.ReadFrame(c, frame.ControlWidth, 0)
	require.NoError(t, err)
	return payload
}

// recvReply reads a reply and decodes its body.
func recvReply(t *testing.T, c net.Conn) (string, map[string]any) {
	t.Helper()
	sid, body, err := message.ParseReply(recv(t, c))
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(body, &out))
	return sid, out
}

func bootstrap(t *testing.T, c net.Conn, presented string) string {
	t.Helper()
	send(t, c, message.BootstrapView, presented, "")
	return string(recv(t, c))
}

func TestBootstrapHandshake(t *testing.T) {
	h := newHarness(t, Config{})
	c, _ := h.connect(t, context.Background())

	require.NoError(t, frame.WriteFull(c, []byte("00003_||")))
	sid := string(recv(t, c))

	assert.True(t, h.registry.Signer().Verify(sid))
	assert.True(t, h.registry.Exists(sid))
}

func TestBootstrapAttachesReceiver(t *testing.T) {
	h := newHarness(t, Config{})
	main, _ := h.connect(t, context.Background())
	second, _ := h.connect(t, context.Background())

	sid := bootstrap(t, main, "")
	assert.Equal(t, sid, bootstrap(t, second, sid))
	assert.Equal(t, 1, h.registry.Len())
	assert.Len(t, h.registry.Members(sid), 2)

	send(t, second, router.ViewSessionInfo, sid, "{}")
	_, body := recvReply(t, second)
	info := body["response"].(map[string]any)
	assert.Equal(t, true, info["receiver"])
	assert.Equal(t, 2.0, info["members"])
}

func TestAuthorizeGrantsKey(t *testing.T) {
	h := newHarness(t, Config{})
	c, _ := h.connect(t, context.Background())
	sid := bootstrap(t, c, "")

	send(t, c, router.ViewAuthorize, sid, `{"path":"docs","operation":"CREATE_DIR"}`)
	gotSID, body := recvReply(t, c)

	assert.Equal(t, sid, gotSID)
	grant := body["response"].(map[string]any)
	assert.Equal(t, "docs", grant["path"])
	assert.Equal(t, "CREATE_DIR", grant["operation"])
	assert.NotContains(t, body, "error")

	op, ok := h.keys.Peek("docs", sid)
	require.True(t, ok)
	assert.Equal(t, authz.CreateDir, op)
}

func TestFirstRequestWithoutBootstrapResolvesSession(t *testing.T) {
	h := newHarness(t, Config{})
	c, _ := h.connect(t, context.Background())

	send(t, c, router.ViewSessionInfo, "", "{}")
	sid, body := recvReply(t, c)

	assert.True(t, h.registry.Exists(sid))
	assert.Equal(t, sid, body["response"].(map[string]any)["session"])
}

func TestInvalidJSONKeepsConnection(t *testing.T) {
	h := newHarness(t, Config{})
	c, _ := h.connect(t, context.Background())
	sid := bootstrap(t, c, "")

	send(t, c, router.ViewAuthorize, sid, "{not json")
	payload := recv(t, c)
	assert.Equal(t, sid+`|{"response":"Invalid JSON payload"}`, string(payload))

	send(t, c, router.ViewPermissions, sid, "{}")
	_, body := recvReply(t, c)
	assert.Contains(t, body["response"], "READ_FILE")
}

func TestUnknownView(t *testing.T) {
	h := newHarness(t, Config{})
	c, _ := h.connect(t, context.Background())
	sid := bootstrap(t, c, "")

	send(t, c, "nope", sid, "{}")
	payload := recv(t, c)
	assert.Equal(t, sid+`|{"response":"view 'nope' not found"}`, string(payload))
}

func TestMissingSeparatorIsTypedError(t *testing.T) {
	h := newHarness(t, Config{})
	c, _ := h.connect(t, context.Background())

	require.NoError(t, frame.WriteFrame(c, frame.ControlWidth, []byte("no-separators")))
	_, body := recvReply(t, c)
	assert.Equal(t, "SerializationError", body["error"])

	// The connection survives.
	assert.NotEmpty(t, bootstrap(t, c, ""))
}

func TestHandlerErrorsAreTyped(t *testing.T) {
	h := newHarness(t, Config{})
	c, _ := h.connect(t, context.Background())
	sid := bootstrap(t, c, "")

	send(t, c, router.ViewAuthorize, sid, `{"path":"","operation":"CREATE_DIR"}`)
	_, body := recvReply(t, c)
	assert.Equal(t, "AuthorizationError", body["error"])

	send(t, c, "test.panic", sid, "{}")
	_, body = recvReply(t, c)
	assert.Equal(t, "InternalError", body["error"])
	assert.Equal(t, "internal error", body["response"], "panic details never reach the client")
}

func TestDisconnectEndsSession(t *testing.T) {
	h := newHarness(t, Config{})
	c, done := h.connect(t, context.Background())
	sid := bootstrap(t, c, "")

	send(t, c, router.ViewAuthorize, sid, `{"path":"a.txt","operation":"WRITE_FILE"}`)
	recvReply(t, c)
	require.Equal(t, 1, h.keys.Len())

	require.NoError(t, c.Close())
	<-done

	assert.False(t, h.registry.Exists(sid))
	assert.Zero(t, h.keys.Len(), "keys of an ended session are dropped")
}

func TestEmptyReadTimeoutContinues(t *testing.T) {
	cfg := Config{}
	cfg.ReadTimeout = 30 * time.Millisecond
	h := newHarness(t, cfg)
	c, done := h.connect(t, context.Background())

	time.Sleep(100 * time.Millisecond)

	select {
	case <-done:
		t.Fatal("connection closed on an empty read timeout")
	default:
	}
	assert.NotEmpty(t, bootstrap(t, c, ""))
}

func TestIdleExpiryCloses(t *testing.T) {
	cfg := Config{}
	cfg.ReadTimeout = 20 * time.Millisecond
	cfg.IdleTimeout = 80 * time.Millisecond
	h := newHarness(t, cfg)
	_, done := h.connect(t, context.Background())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("idle connection was not closed")
	}
}

func TestMidFrameTimeoutCloses(t *testing.T) {
	cfg := Config{}
	cfg.ReadTimeout = 50 * time.Millisecond
	h := newHarness(t, cfg)
	c, done := h.connect(t, context.Background())

	require.NoError(t, frame.WriteFull(c, []byte("00010_|")))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("truncated frame did not close the connection")
	}
}

func TestMalformedPrefixCloses(t *testing.T) {
	h := newHarness(t, Config{})
	c, done := h.connect(t, context.Background())

	require.NoError(t, frame.WriteFull(c, []byte("abcde")))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("malformed prefix did not close the connection")
	}
}

func TestShutdownContextStopsLoop(t *testing.T) {
	h := newHarness(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	c, done := h.connect(t, ctx)
	sid := bootstrap(t, c, "")

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ServeConn ignored cancellation")
	}
	assert.False(t, h.registry.Exists(sid))
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	assert.Zero(t, cfg.Port)
	assert.Equal(t, frame.DefaultBufferLimit, cfg.BufferLimit)
	assert.Equal(t, 60*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 10*time.Minute, cfg.IdleTimeout)

	h := newHarness(t, Config{})
	assert.Equal(t, "control", h.adapter.Protocol())
	assert.Zero(t, h.adapter.Port())
}
