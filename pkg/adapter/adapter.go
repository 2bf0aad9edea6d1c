package adapter

import (
	"context"
)

// Adapter is one network listener managed by the server.
//
// DittoStore runs two adapters side by side: the control plane, which
// carries session bootstrap and view requests, and the storage plane, which
// carries one file operation per connection. Both share the same registry,
// key table and stores.
//
// Lifecycle:
//  1. Creation: the adapter is built with its listener configuration and
//     its collaborators already injected
//  2. Startup: Serve() binds the listener and blocks until shutdown
//  3. Shutdown: Stop() closes the listener and drains active connections
//
// Implementations must be safe for concurrent use. Stop() may be called
// concurrently with Serve().
type Adapter interface {
	// Serve starts the listener and blocks until the context is cancelled
	// or an unrecoverable error occurs.
	//
	// When the context is cancelled, Serve stops accepting connections,
	// waits for active connections up to the shutdown timeout, force-closes
	// the rest and returns.
	//
	// If Serve returns before context cancellation the server treats it as
	// fatal and stops the other adapter.
	Serve(ctx context.Context) error

	// Stop initiates graceful shutdown and waits for active connections
	// until ctx expires. Calling Stop more than once is safe.
	Stop(ctx context.Context) error

	// Protocol returns the plane name used in logs and metrics
	// ("control" or "storage").
	Protocol() string

	// Port returns the bound TCP port. Before Serve binds the listener it
	// returns the configured port.
	Port() int
}
