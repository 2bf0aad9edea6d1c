package session

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittostore/internal/protocol/frame"
)

// DefaultSendTimeout bounds a Send whose context has no deadline.
const DefaultSendTimeout = 30 * time.Second

var connSeq atomic.Uint64

// Conn is one live control-plane socket. Writes are serialized so a reverse
// request never interleaves with a reply on the same socket.
type Conn struct {
	id   uint64
	conn net.Conn
	peer string

	writeMu     sync.Mutex
	sendTimeout time.Duration

	// Guarded by the registry lock.
	sessionID string
	receiver  bool
}

func NewConn(c net.Conn) *Conn {
	peer := ""
	if addr := c.RemoteAddr(); addr != nil {
		peer = addr.String()
	}
	return &Conn{
		id:          connSeq.Add(1),
		conn:        c,
		peer:        peer,
		sendTimeout: DefaultSendTimeout,
	}
}

// ID is a process-unique connection number used in logs.
func (c *Conn) ID() uint64 { return c.id }

func (c *Conn) Peer() string { return c.peer }

// NetConn returns the underlying socket. Readers may use it directly;
// writers must go through Send or WriteFrame.
func (c *Conn) NetConn() net.Conn { return c.conn }

// WriteFrame writes one length-prefixed frame.
func (c *Conn) WriteFrame(width int, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return frame.WriteFrame(c.conn, width, payload)
}

// Send writes one control frame before the deadline of ctx, or within
// DefaultSendTimeout when ctx has none.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.sendTimeout)
	}
	_ = c.conn.SetWriteDeadline(deadline)
	defer func() { _ = c.conn.SetWriteDeadline(time.Time{}) }()

	return frame.WriteFrame(c.conn, frame.ControlWidth, payload)
}

func (c *Conn) Close() error {
	return c.conn.Close()
}
