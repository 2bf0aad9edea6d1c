package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/marmos91/dittostore/internal/protocol/frame"
	"github.com/marmos91/dittostore/internal/protocol/message"
	"github.com/marmos91/dittostore/pkg/authz"
	"github.com/marmos91/dittostore/pkg/router"
)

// DefaultTimeout bounds a round trip when the context has no deadline.
const DefaultTimeout = 30 * time.Second

// ReplyError is a typed error returned by a control view.
type ReplyError struct {
	View string

	// Kind is the error kind name, for example "AuthorizationError".
	Kind    string
	Message string
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.View, e.Kind, e.Message)
}

// IsKind reports whether err is a ReplyError of the given kind.
func IsKind(err error, kind string) bool {
	var re *ReplyError
	return errors.As(err, &re) && re.Kind == kind
}

// replyBody mirrors the JSON object the control plane sends back.
type replyBody struct {
	Response json.RawMessage `json:"response"`
	Error    string          `json:"error,omitempty"`
}

// Control is a control-plane connection. Calls are serialized; use one
// Control per goroutine for parallel requests.
type Control struct {
	conn    net.Conn
	timeout time.Duration

	mu        sync.Mutex
	sessionID string
}

// DialControl opens a control connection. tlsConfig may be nil.
func DialControl(ctx context.Context, addr string, tlsConfig *tls.Config) (*Control, error) {
	conn, err := dial(ctx, addr, tlsConfig)
	if err != nil {
		return nil, err
	}
	return &Control{conn: conn, timeout: DefaultTimeout}, nil
}

func dial(ctx context.Context, addr string, tlsConfig *tls.Config) (net.Conn, error) {
	if tlsConfig != nil {
		d := &tls.Dialer{Config: tlsConfig}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		return conn, nil
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

// SessionID returns the session id learned from the last reply.
func (c *Control) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Close closes the connection; the server ends the session when no other
// connection is attached to it.
func (c *Control) Close() error {
	return c.conn.Close()
}

func (c *Control) deadline(ctx context.Context) {
	d, ok := ctx.Deadline()
	if !ok {
		d = time.Now().Add(c.timeout)
	}
	_ = c.conn.SetDeadline(d)
}

// Bootstrap runs the handshake. An empty presented id asks for a new
// session; a known id attaches this connection to that session.
func (c *Control) Bootstrap(ctx context.Context, presented string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.deadline(ctx)
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetDeadline(time.Now()) })
	defer stop()

	payload := message.EncodeControl(message.BootstrapView, presented, nil)
	if err := frame.WriteFrame(c.conn, frame.ControlWidth, payload); err != nil {
		return "", fmt.Errorf("bootstrap: %w", err)
	}
	reply, err := frame.ReadFrame(c.conn, frame.ControlWidth, 0)
	if err != nil {
		return "", fmt.Errorf("bootstrap: %w", err)
	}

	c.sessionID = string(reply)
	return c.sessionID, nil
}

// Call sends req to view and decodes the response into resp, which may be
// nil. A typed error reply is returned as a *ReplyError.
func (c *Control) Call(ctx context.Context, view string, req, resp any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", view, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.deadline(ctx)
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetDeadline(time.Now()) })
	defer stop()

	if err := frame.WriteFrame(c.conn, frame.ControlWidth, message.EncodeControl(view, c.sessionID, body)); err != nil {
		return fmt.Errorf("%s: %w", view, err)
	}
	payload, err := frame.ReadFrame(c.conn, frame.ControlWidth, 0)
	if err != nil {
		return fmt.Errorf("%s: %w", view, err)
	}

	sid, raw, err := message.ParseReply(payload)
	if err != nil {
		return fmt.Errorf("%s: %w", view, err)
	}
	c.sessionID = sid

	var out replyBody
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("%s: decode reply: %w", view, err)
	}
	if out.Error != "" {
		var msg string
		if json.Unmarshal(out.Response, &msg) != nil {
			msg = string(out.Response)
		}
		return &ReplyError{View: view, Kind: out.Error, Message: msg}
	}

	if resp == nil {
		return nil
	}
	if err := json.Unmarshal(out.Response, resp); err != nil {
		return fmt.Errorf("%s: decode response: %w", view, err)
	}
	return nil
}

// Authorize asks for an operation key on path.
func (c *Control) Authorize(ctx context.Context, path string, op authz.Operation) (*authz.Grant, error) {
	var grant authz.Grant
	err := c.Call(ctx, router.ViewAuthorize, map[string]any{"path": path, "operation": op}, &grant)
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

// LoginResult describes the user bound by Login.
type LoginResult struct {
	ID    int64    `json:"id"`
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

// Login binds a configured user to the session.
func (c *Control) Login(ctx context.Context, name, token string) (*LoginResult, error) {
	var out LoginResult
	if err := c.Call(ctx, router.ViewLogin, map[string]string{"name": name, "token": token}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout unbinds the user.
func (c *Control) Logout(ctx context.Context) error {
	return c.Call(ctx, router.ViewLogout, struct{}{}, nil)
}

// SessionInfo describes the caller's session.
type SessionInfo struct {
	Session  string `json:"session"`
	User     *int64 `json:"user"`
	Receiver bool   `json:"receiver"`
	Members  int    `json:"members"`
}

func (c *Control) SessionInfo(ctx context.Context) (*SessionInfo, error) {
	var out SessionInfo
	if err := c.Call(ctx, router.ViewSessionInfo, struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Permissions lists the caller's effective permission names.
func (c *Control) Permissions(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.Call(ctx, router.ViewPermissions, struct{}{}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Push is a server-initiated message.
type Push struct {
	View string
	Body json.RawMessage
}

// Receiver is a connection attached to an existing session that only
// waits for reverse requests.
type Receiver struct {
	conn net.Conn
}

// AttachReceiver opens a receiver connection for sessionID.
func AttachReceiver(ctx context.Context, addr string, tlsConfig *tls.Config, sessionID string) (*Receiver, error) {
	c, err := DialControl(ctx, addr, tlsConfig)
	if err != nil {
		return nil, err
	}
	got, err := c.Bootstrap(ctx, sessionID)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	if got != sessionID {
		_ = c.Close()
		return nil, fmt.Errorf("attach receiver: session %s is unknown to the server", sessionID)
	}
	_ = c.conn.SetDeadline(time.Time{})
	return &Receiver{conn: c.conn}, nil
}

// Receive blocks until the next push or ctx is done.
func (r *Receiver) Receive(ctx context.Context) (*Push, error) {
	if d, ok := ctx.Deadline(); ok {
		_ = r.conn.SetReadDeadline(d)
	} else {
		_ = r.conn.SetReadDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() { _ = r.conn.SetReadDeadline(time.Now()) })
	defer stop()

	payload, err := frame.ReadFrame(r.conn, frame.ControlWidth, 0)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	view, body, err := message.ParsePush(payload)
	if err != nil {
		return nil, err
	}
	return &Push{View: view, Body: body}, nil
}

func (r *Receiver) Close() error {
	return r.conn.Close()
}
