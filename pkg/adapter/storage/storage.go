// Package storage serves the storage plane: one file operation per
// connection, executed by a storage.Engine.
package storage

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/internal/protocol/frame"
	"github.com/marmos91/dittostore/pkg/adapter/tcp"
	"github.com/marmos91/dittostore/pkg/metrics"
	engine "github.com/marmos91/dittostore/pkg/storage"
)

// DefaultPort is the storage-plane port of the default configuration.
const DefaultPort = 8889

// Config is the storage-plane listener configuration.
type Config struct {
	tcp.Config `mapstructure:",squash" yaml:",inline"`
}

// Handler runs one storage request on a connection.
type Handler interface {
	Handle(ctx context.Context, conn net.Conn) error
}

var _ Handler = (*engine.Engine)(nil)

// Adapter is the storage-plane listener.
type Adapter struct {
	*tcp.Server

	handler Handler
}

// New creates the storage adapter. connMetrics may be nil.
func New(config Config, handler Handler, connMetrics metrics.ConnectionMetrics) *Adapter {
	a := &Adapter{handler: handler}
	a.Server = tcp.New("storage", config.Config, a, connMetrics)
	return a
}

// ServeConn runs the single request of a storage connection. An operation
// already reading or writing file bytes is allowed to finish after
// shutdown starts; the listener force-closes it past the shutdown timeout.
func (a *Adapter) ServeConn(ctx context.Context, conn net.Conn) {
	if ctx.Err() != nil {
		return
	}

	err := a.handler.Handle(context.WithoutCancel(ctx), conn)
	if err == nil {
		return
	}

	var fe *frame.FramingError
	switch {
	case errors.As(err, &fe) && errors.Is(fe.Err, io.EOF) && fe.Read == 0:
		logger.Debug("Storage connection from %s closed before sending a request", conn.RemoteAddr())
	default:
		logger.Debug("Storage connection from %s ended: %v", conn.RemoteAddr(), err)
	}
}
