// Package client talks to a DittoStore server.
//
// Control is the control-plane connection that carries the session;
// Storage sends the one-shot requests of the storage plane. Client ties
// the two together: every storage method first asks the control plane for
// an operation key on the path, then spends it.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/marmos91/dittostore/pkg/authz"
	"github.com/marmos91/dittostore/pkg/content"
)

// Config describes where the server is.
type Config struct {
	ControlAddr string
	StorageAddr string

	// TLS is used for both planes when set.
	TLS *tls.Config

	// StatusByte must match the server's engine.read_status_byte.
	StatusByte bool

	// Timeout bounds a round trip when the context has no deadline.
	Timeout time.Duration

	// DialAttempts retries a refused control connection, for clients
	// started alongside the server.
	DialAttempts uint
}

// Client is a session on a DittoStore server.
type Client struct {
	Control *Control
	Storage *Storage
}

// Dial connects to the control plane and opens a new session.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	attempts := max(cfg.DialAttempts, 1)

	ctl, err := retry.DoWithData(
		func() (*Control, error) {
			return DialControl(ctx, cfg.ControlAddr, cfg.TLS)
		},
		retry.Attempts(attempts),
		retry.Delay(100*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isRefused),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		return nil, err
	}
	ctl.timeout = timeout

	sid, err := ctl.Bootstrap(ctx, "")
	if err != nil {
		_ = ctl.Close()
		return nil, err
	}

	return &Client{
		Control: ctl,
		Storage: &Storage{
			Addr:       cfg.StorageAddr,
			TLSConfig:  cfg.TLS,
			SessionID:  sid,
			StatusByte: cfg.StatusByte,
			Timeout:    timeout,
		},
	}, nil
}

func isRefused(err error) bool {
	var opErr *net.OpError
	return errors.Is(err, syscall.ECONNREFUSED) || (errors.As(err, &opErr) && opErr.Op == "dial" && !opErr.Timeout())
}

// Close ends the session.
func (c *Client) Close() error {
	return c.Control.Close()
}

// SessionID returns the session id.
func (c *Client) SessionID() string {
	return c.Control.SessionID()
}

// Login binds a user to the session.
func (c *Client) Login(ctx context.Context, name, token string) (*LoginResult, error) {
	return c.Control.Login(ctx, name, token)
}

func (c *Client) authorize(ctx context.Context, path string, op authz.Operation) error {
	if _, err := c.Control.Authorize(ctx, path, op); err != nil {
		return err
	}
	// The storage header must carry the id the key was granted to.
	c.Storage.SessionID = c.Control.SessionID()
	return nil
}

// Mkdir creates one directory; the parent must exist.
func (c *Client) Mkdir(ctx context.Context, path string) error {
	if err := c.authorize(ctx, path, authz.CreateDir); err != nil {
		return err
	}
	return c.Storage.Mkdir(ctx, path)
}

// Put writes size bytes from r to path, replacing any previous content.
func (c *Client) Put(ctx context.Context, path string, r io.Reader, size int64) error {
	if err := c.authorize(ctx, path, authz.WriteFile); err != nil {
		return err
	}
	return c.Storage.Put(ctx, path, r, size)
}

// Get copies the file at path into w.
func (c *Client) Get(ctx context.Context, path string, w io.Writer) (int64, error) {
	if err := c.authorize(ctx, path, authz.ReadFile); err != nil {
		return 0, err
	}
	return c.Storage.Get(ctx, path, w)
}

// Delete removes a file or a directory with everything below it.
func (c *Client) Delete(ctx context.Context, path string) error {
	if err := c.authorize(ctx, path, authz.DeleteItem); err != nil {
		return err
	}
	return c.Storage.Delete(ctx, path)
}

// Tree lists the subtree rooted at path; "" is the cloud folder.
func (c *Client) Tree(ctx context.Context, path string) (content.Tree, error) {
	if err := c.authorize(ctx, path, authz.ReadTree); err != nil {
		return nil, err
	}
	return c.Storage.Tree(ctx, path)
}
