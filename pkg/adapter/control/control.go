// Package control serves the control plane: session bootstrap and view
// requests over long-lived connections.
//
// Every request is a 5-digit frame carrying view|sessionid|json. Requests
// on one connection are served strictly in order. A malformed request costs
// that request only; framing errors, resets and idle expiry close the
// connection.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/internal/protocol/frame"
	"github.com/marmos91/dittostore/internal/protocol/message"
	"github.com/marmos91/dittostore/internal/ratelimiter"
	"github.com/marmos91/dittostore/pkg/adapter/tcp"
	"github.com/marmos91/dittostore/pkg/fault"
	"github.com/marmos91/dittostore/pkg/metrics"
	"github.com/marmos91/dittostore/pkg/router"
	"github.com/marmos91/dittostore/pkg/session"
)

// DefaultPort is the control-plane port of the default configuration.
const DefaultPort = 8888

// Reply texts that do not come from a handler.
const (
	InvalidJSONReply  = "Invalid JSON payload"
	viewNotFoundReply = "view '%s' not found"
)

// Config is the control-plane listener configuration.
type Config struct {
	tcp.Config `mapstructure:",squash" yaml:",inline"`

	// BufferLimit caps a single socket read (default 65536).
	BufferLimit int `mapstructure:"buffer_limit" validate:"omitempty,min=512" yaml:"buffer_limit"`

	// RequestsPerSecond throttles each connection; 0 disables throttling.
	RequestsPerSecond uint `mapstructure:"requests_per_second" yaml:"requests_per_second"`

	// RequestBurst is the burst size of the throttle (default: the rate).
	RequestBurst uint `mapstructure:"request_burst" yaml:"request_burst"`
}

// ApplyDefaults fills zero values. A zero port is kept: it asks the OS
// for a free one.
func (c *Config) ApplyDefaults() {
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 10 * time.Minute
	}
	if c.BufferLimit == 0 {
		c.BufferLimit = frame.DefaultBufferLimit
	}
	c.Config.ApplyDefaults()
}

// Deps are the collaborators of the control adapter.
type Deps struct {
	Registry *session.Registry
	Router   *router.Router

	// Metrics and ConnMetrics may be nil.
	Metrics     metrics.ControlMetrics
	ConnMetrics metrics.ConnectionMetrics
}

// Adapter is the control-plane listener.
type Adapter struct {
	*tcp.Server

	config   Config
	registry *session.Registry
	router   *router.Router
	metrics  metrics.ControlMetrics
}

// New creates the control adapter. The listener is bound by Serve.
func New(config Config, deps Deps) *Adapter {
	config.ApplyDefaults()

	if deps.Metrics == nil {
		deps.Metrics = metrics.NewControlMetrics(nil)
	}

	a := &Adapter{
		config:   config,
		registry: deps.Registry,
		router:   deps.Router,
		metrics:  deps.Metrics,
	}
	a.Server = tcp.New("control", config.Config, a, deps.ConnMetrics)
	return a
}

// reply is the JSON body of every non-bootstrap response.
type reply struct {
	Response any    `json:"response"`
	Error    string `json:"error,omitempty"`
}

// ServeConn runs the request loop of one connection.
func (a *Adapter) ServeConn(ctx context.Context, nc net.Conn) {
	conn := session.NewConn(nc)
	log := logger.With(logger.Fields{"peer": conn.Peer(), "conn": conn.ID()})

	defer func() {
		a.registry.Close(conn)
		a.metrics.SetSessions(a.registry.Len())
	}()

	// Unblock a pending read as soon as shutdown starts.
	stop := context.AfterFunc(ctx, func() { _ = nc.SetReadDeadline(time.Now()) })
	defer stop()

	limiter := ratelimiter.New(a.config.RequestsPerSecond, a.config.RequestBurst)
	lastActivity := time.Now()

	for {
		if ctx.Err() != nil {
			log.Debug("Control connection closed due to server shutdown")
			return
		}

		if err := limiter.Wait(ctx); err != nil {
			return
		}

		a.armReadDeadline(nc, lastActivity)

		payload, err := frame.ReadFrame(nc, frame.ControlWidth, a.config.BufferLimit)
		if err != nil {
			if ctx.Err() != nil {
				log.Debug("Control connection closed due to server shutdown")
				return
			}
			if isEmptyTimeout(err) {
				if a.config.IdleTimeout > 0 && time.Since(lastActivity) >= a.config.IdleTimeout {
					log.Debug("Control connection idle for %v, closing", time.Since(lastActivity))
					return
				}
				a.metrics.RecordRequest("", 0, fault.Timeout.String())
				continue
			}
			logClose(log, err)
			return
		}
		lastActivity = time.Now()

		if err := a.handle(ctx, conn, payload); err != nil {
			logClose(log, err)
			return
		}
	}
}

// armReadDeadline bounds the next read by read_timeout and by whatever is
// left of the idle allowance.
func (a *Adapter) armReadDeadline(nc net.Conn, lastActivity time.Time) {
	var deadline time.Time
	if a.config.ReadTimeout > 0 {
		deadline = time.Now().Add(a.config.ReadTimeout)
	}
	if a.config.IdleTimeout > 0 {
		idle := lastActivity.Add(a.config.IdleTimeout)
		if deadline.IsZero() || idle.Before(deadline) {
			deadline = idle
		}
	}
	_ = nc.SetReadDeadline(deadline)
}

// isEmptyTimeout reports whether err is a deadline hit before any byte of a
// new frame arrived. A timeout in the middle of a frame is not.
func isEmptyTimeout(err error) bool {
	var fe *frame.FramingError
	return errors.As(err, &fe) && fe.Timeout() && fe.Read == 0 && fe.Op == "read prefix"
}

func logClose(log *logger.Entry, err error) {
	var fe *frame.FramingError
	switch {
	case errors.As(err, &fe) && errors.Is(fe.Err, io.EOF):
		log.Debug("Control connection closed by client")
	case errors.As(err, &fe) && fe.Timeout():
		log.Debug("Control connection timed out mid-frame: %v", err)
	default:
		log.Debug("Control connection closed: %v", err)
	}
}

// handle serves one request frame. A returned error closes the connection.
func (a *Adapter) handle(ctx context.Context, conn *session.Conn, payload []byte) error {
	start := time.Now()

	req, err := message.ParseControl(payload)
	if err != nil {
		ferr := fault.New(fault.Serialization, "parse control", err)
		a.metrics.RecordRequest("", time.Since(start), ferr.Kind.String())
		return a.reply(ctx, conn, a.registry.SessionOf(conn), errorReply(ferr))
	}

	if req.IsBootstrap() {
		return a.bootstrap(ctx, conn, req, start)
	}

	if !json.Valid(req.Body) {
		a.metrics.RecordRequest(req.View, time.Since(start), fault.Serialization.String())
		return a.reply(ctx, conn, req.SessionID, reply{Response: InvalidJSONReply})
	}

	sid, err := a.registry.Resolve(conn, req.SessionID)
	if err != nil {
		ferr := fault.New(fault.Internal, "resolve session", err)
		a.metrics.RecordRequest(req.View, time.Since(start), ferr.Kind.String())
		return a.reply(ctx, conn, req.SessionID, errorReply(ferr))
	}
	a.metrics.SetSessions(a.registry.Len())

	userID, _ := a.registry.UserOf(sid)
	resp, err := a.router.Dispatch(ctx, req.View, &router.Request{
		Payload:   json.RawMessage(req.Body),
		Conn:      conn,
		SessionID: sid,
		UserID:    userID,
	})

	var body reply
	kind := ""
	switch {
	case errors.Is(err, router.ErrViewNotFound):
		body = reply{Response: fmt.Sprintf(viewNotFoundReply, req.View)}
		kind = fault.NotFound.String()
	case err != nil:
		body = errorReply(err)
		kind = fault.KindOf(err).String()
		if fault.Is(err, fault.Internal) {
			logger.Error("Control view %q failed for session %s: %v", req.View, sid, err)
		} else {
			logger.Debug("Control view %q rejected for session %s: %v", req.View, sid, err)
		}
	default:
		body = reply{Response: resp}
	}

	a.metrics.RecordRequest(req.View, time.Since(start), kind)
	return a.reply(ctx, conn, sid, body)
}

func (a *Adapter) bootstrap(ctx context.Context, conn *session.Conn, req message.Control, start time.Time) error {
	sid, err := a.registry.Bootstrap(conn, req.SessionID)
	if err != nil {
		ferr := fault.New(fault.Internal, "bootstrap", err)
		a.metrics.RecordRequest(message.BootstrapView, time.Since(start), ferr.Kind.String())
		return a.reply(ctx, conn, "", errorReply(ferr))
	}
	a.metrics.SetSessions(a.registry.Len())
	a.metrics.RecordRequest(message.BootstrapView, time.Since(start), "")

	return a.send(ctx, conn, []byte(sid))
}

func errorReply(err error) reply {
	return reply{Response: fault.Message(err), Error: fault.KindOf(err).String()}
}

// reply writes <len><sessionid>|<json>.
func (a *Adapter) reply(ctx context.Context, conn *session.Conn, sid string, body reply) error {
	data, err := json.Marshal(body)
	if err != nil {
		logger.Error("Failed to encode control reply for session %s: %v", sid, err)
		data, _ = json.Marshal(errorReply(fault.New(fault.Internal, "encode reply", err)))
	}
	return a.send(ctx, conn, message.EncodeReply(sid, data))
}

func (a *Adapter) send(ctx context.Context, conn *session.Conn, payload []byte) error {
	if a.config.ReadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), a.config.ReadTimeout)
		defer cancel()
	}
	if err := conn.Send(ctx, payload); err != nil {
		return fault.New(fault.Framing, "write reply", err)
	}
	return nil
}
