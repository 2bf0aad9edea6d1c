// Package storage runs the storage-plane operations.
//
// A storage connection carries exactly one request:
//
//	<10-digit L><relative path>|<session id>|<file bytes...>
//
// The engine consumes the operation key granted for (path, session), runs
// the matching operation against the content and metadata stores and
// writes the reply. Mutating operations answer with a plain ASCII status;
// reads answer with a 10-digit length prefix followed by the data.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/marmos91/dittostore/internal/bufpool"
	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/internal/protocol/frame"
	"github.com/marmos91/dittostore/internal/protocol/message"
	"github.com/marmos91/dittostore/internal/ratelimiter"
	"github.com/marmos91/dittostore/pkg/authz"
	"github.com/marmos91/dittostore/pkg/content"
	"github.com/marmos91/dittostore/pkg/fault"
	"github.com/marmos91/dittostore/pkg/metadata"
	"github.com/marmos91/dittostore/pkg/metrics"
)

// Status texts written back to clients.
const (
	StatusSuccess        = "success"
	StatusAccessDenied   = "[CloudStorage] AccessDenied: Invalid operation keys"
	StatusCreateDirError = "[CloudStorage] Unable to create directory"
	StatusWriteFileError = "[CloudStorage] Unable to write file"
	StatusItemNotFound   = "[CloudStorage] Item not found."
	StatusDeleteError    = "[CloudStorage] Unable to delete item"

	notAFile      = "InvalidOperation: path provided (%s) is not a file"
	notADirectory = "InvalidOperation: path provided (%s) is not a directory"
)

// Outcome labels used in metrics and audit records.
const (
	OutcomeSuccess  = "success"
	OutcomeDenied   = "denied"
	OutcomeNotFound = "not_found"
	OutcomeInvalid  = "invalid"
	OutcomeAborted  = "aborted"
	OutcomeError    = "error"
)

// Config tunes the engine. Zero values take the defaults below.
type Config struct {
	// ChunkSize is the largest single read from the socket (default 64KiB).
	ChunkSize int `mapstructure:"chunk_size" validate:"omitempty,min=512" yaml:"chunk_size"`

	// ReadBlockSize is the block size used to stream READ_FILE (default 1MiB).
	ReadBlockSize int `mapstructure:"read_block_size" validate:"omitempty,min=4096" yaml:"read_block_size"`

	// DrainEvery flushes the socket after this many read blocks (default 15).
	DrainEvery int `mapstructure:"drain_every" validate:"omitempty,min=1" yaml:"drain_every"`

	// ReadTimeout is the deadline for each read from the client (default
	// 60s). The server takes it from the storage listener's read_timeout.
	ReadTimeout time.Duration `mapstructure:"-" yaml:"-"`

	// IdleTimeout bounds the wait for the length prefix of the request on
	// a fresh connection. 0 uses ReadTimeout. The server takes it from the
	// storage listener's idle_timeout.
	IdleTimeout time.Duration `mapstructure:"-" yaml:"-"`

	// ReadStatusByte prefixes every READ_FILE and READ_TREE reply with '0'
	// (ok) or '1' (error). When off, errors are sent as a zero length
	// prefix followed by the error text.
	ReadStatusByte bool `mapstructure:"read_status_byte" yaml:"read_status_byte"`

	// BytesPerSecond throttles each connection; 0 disables throttling.
	BytesPerSecond uint `mapstructure:"bytes_per_second" yaml:"bytes_per_second"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = frame.DefaultBufferLimit
	}
	if c.ReadBlockSize <= 0 {
		c.ReadBlockSize = 1 << 20
	}
	if c.DrainEvery <= 0 {
		c.DrainEvery = 15
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
}

// UserLookup resolves the user bound to a session.
type UserLookup interface {
	UserOf(sessionID string) (*int64, bool)
}

// Engine executes storage requests. Safe for concurrent use.
type Engine struct {
	cfg     Config
	keys    *authz.Keys
	meta    metadata.Store
	content content.Store
	users   UserLookup
	metrics metrics.StorageMetrics
	locks   *pathLocks
	now     func() time.Time
}

// Deps are the collaborators of an Engine. Users and Metrics may be nil.
type Deps struct {
	Keys     *authz.Keys
	Metadata metadata.Store
	Content  content.Store
	Users    UserLookup
	Metrics  metrics.StorageMetrics
}

func New(cfg Config, deps Deps) *Engine {
	cfg.ApplyDefaults()
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewStorageMetrics(nil)
	}
	return &Engine{
		cfg:     cfg,
		keys:    deps.Keys,
		meta:    deps.Metadata,
		content: deps.Content,
		users:   deps.Users,
		metrics: deps.Metrics,
		locks:   newPathLocks(),
		now:     time.Now,
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// request is one parsed storage request.
type request struct {
	conn    net.Conn
	limiter *ratelimiter.RateLimiter

	path      string
	sessionID string
	userID    *int64
	op        authz.Operation

	// size is the number of file bytes following the header.
	size int64

	// initial holds the file bytes that arrived with the header.
	initial []byte

	// remaining is the number of bytes still on the socket.
	remaining int64
}

// result is what an operation reports back for auditing.
type result struct {
	outcome string
	bytes   int64
	err     error
}

// Handle reads one request from conn, runs it and writes the reply. The
// returned error is already logged; the caller closes the connection in
// every case.
func (e *Engine) Handle(ctx context.Context, conn net.Conn) error {
	start := e.now()

	wait := e.cfg.ReadTimeout
	if e.cfg.IdleTimeout > 0 {
		wait = e.cfg.IdleTimeout
	}
	if err := conn.SetReadDeadline(start.Add(wait)); err != nil {
		return fault.New(fault.Framing, "set deadline", err)
	}

	total, err := frame.ReadLength(conn, frame.StorageWidth)
	if err != nil {
		return err
	}

	if e.cfg.IdleTimeout > 0 {
		if err := conn.SetReadDeadline(e.now().Add(e.cfg.ReadTimeout)); err != nil {
			return fault.New(fault.Framing, "set deadline", err)
		}
	}

	firstLen := int(min(total, int64(e.cfg.ChunkSize)))
	first := bufpool.Get(firstLen)
	defer bufpool.Put(first)

	if err := frame.ReadExact(conn, first, e.cfg.ChunkSize); err != nil {
		return err
	}

	hdr, initial, err := message.ParseStorage(first)
	if err != nil {
		return fault.New(fault.Framing, "parse storage header", err)
	}

	req := &request{
		conn:      conn,
		limiter:   ratelimiter.New(e.cfg.BytesPerSecond, uint(e.cfg.ChunkSize)),
		sessionID: hdr.SessionID,
		size:      total - int64(hdr.Len),
		initial:   initial,
		remaining: total - int64(firstLen),
	}
	if e.users != nil {
		req.userID, _ = e.users.UserOf(hdr.SessionID)
	}

	cleaned, cleanErr := metadata.CleanPath(hdr.Path)
	req.path = cleaned

	op, ok := authz.Operation(-1), false
	if cleanErr == nil {
		op, ok = e.keys.Take(cleaned, hdr.SessionID)
	}
	if !ok {
		logger.Debug("Storage request on %q from session %q denied: no live operation key", hdr.Path, hdr.SessionID)
		res := result{outcome: OutcomeDenied, err: fault.Newf(fault.Authorization, "take key", "no live operation key").WithPath(cleaned)}
		if err := e.writeStatus(req, StatusAccessDenied); err != nil {
			res.err = err
		}
		e.finish(ctx, req, "NONE", start, res)
		return nil
	}
	req.op = op

	var res result
	switch op {
	case authz.CreateDir:
		res = e.createDirectory(ctx, req)
	case authz.WriteFile:
		res = e.writeFile(ctx, req)
	case authz.DeleteItem:
		res = e.deleteItem(ctx, req)
	case authz.ReadFile:
		res = e.readFile(ctx, req)
	case authz.ReadTree:
		res = e.readTree(ctx, req)
	default:
		res = result{outcome: OutcomeError, err: fault.Newf(fault.Internal, "dispatch", "unknown operation %d", op)}
	}

	e.finish(ctx, req, op.String(), start, res)

	if res.err != nil && fault.IsConnectionFatal(res.err, fault.StoragePlane) {
		return res.err
	}
	return nil
}

// finish records metrics and appends the audit record.
func (e *Engine) finish(ctx context.Context, req *request, opName string, start time.Time, res result) {
	duration := e.now().Sub(start)
	e.metrics.RecordOperation(opName, res.outcome, duration)

	if res.err != nil && res.outcome != OutcomeDenied && res.outcome != OutcomeNotFound {
		logger.Warn("Storage %s on %q failed (%s): %v", opName, req.path, res.outcome, res.err)
	} else {
		logger.Debug("Storage %s on %q: %s in %s", opName, req.path, res.outcome, duration)
	}

	rec := &metadata.AuditRecord{
		SessionID: req.sessionID,
		UserID:    req.userID,
		Path:      req.path,
		Operation: opName,
		Outcome:   res.outcome,
		Bytes:     res.bytes,
		At:        e.now(),
	}
	// The request context may already be cancelled on shutdown; the audit
	// write gets its own short deadline.
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.meta.AppendAudit(auditCtx, rec); err != nil {
		logger.Warn("Failed to append audit record for %s %q: %v", opName, req.path, err)
	}
}

func (e *Engine) setWriteDeadline(conn net.Conn) {
	_ = conn.SetWriteDeadline(e.now().Add(e.cfg.ReadTimeout))
}

// writeStatus sends a plain ASCII status.
func (e *Engine) writeStatus(req *request, status string) error {
	e.setWriteDeadline(req.conn)
	if err := frame.WriteFull(req.conn, []byte(status)); err != nil {
		return fault.New(fault.Framing, "write status", err)
	}
	return nil
}

// writeReadError sends the error reply of READ_FILE and READ_TREE.
func (e *Engine) writeReadError(req *request, text string) error {
	var out []byte
	if e.cfg.ReadStatusByte {
		prefix, err := frame.EncodeLength(int64(len(text)), frame.StorageWidth)
		if err != nil {
			return fault.New(fault.Internal, "encode error reply", err)
		}
		out = append([]byte{'1'}, prefix...)
	} else {
		out = []byte("0000000000")
	}
	out = append(out, text...)

	e.setWriteDeadline(req.conn)
	if err := frame.WriteFull(req.conn, out); err != nil {
		return fault.New(fault.Framing, "write error reply", err)
	}
	return nil
}

// readHeader returns the prefix of a successful read reply.
func (e *Engine) readHeader(size int64) ([]byte, error) {
	prefix, err := frame.EncodeLength(size, frame.StorageWidth)
	if err != nil {
		return nil, err
	}
	if e.cfg.ReadStatusByte {
		return append([]byte{'0'}, prefix...), nil
	}
	return prefix, nil
}

// storeFault classifies a metadata failure.
func storeFault(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if metadata.IsNotFound(err) {
		return fault.New(fault.NotFound, op, err).WithPath(path)
	}
	var fe *fault.Error
	if errors.As(err, &fe) {
		return err
	}
	return fault.New(fault.Store, op, err).WithPath(path)
}

// contentFault classifies a content store failure.
func contentFault(op, path string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, content.ErrNotFound):
		return fault.New(fault.NotFound, op, err).WithPath(path)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fault.New(fault.Timeout, op, err).WithPath(path)
	default:
		return fault.New(fault.Internal, op, fmt.Errorf("content: %w", err)).WithPath(path)
	}
}
