package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/marmos91/dittostore/internal/protocol/frame"
	"github.com/marmos91/dittostore/internal/protocol/message"
	"github.com/marmos91/dittostore/pkg/content"
	"github.com/marmos91/dittostore/pkg/storage"
)

// maxStatusLen caps how much of a status reply is read.
const maxStatusLen = 4096

// StatusError is a non-success reply from the storage plane.
type StatusError struct {
	Path   string
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Status)
}

// IsAccessDenied reports whether the storage plane refused the request for
// lack of a live operation key.
func IsAccessDenied(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == storage.StatusAccessDenied
}

// Storage sends single requests to the storage plane. Every request opens
// its own connection and needs an operation key granted beforehand on the
// control plane.
type Storage struct {
	Addr      string
	TLSConfig *tls.Config

	// SessionID is the session that holds the operation keys.
	SessionID string

	// StatusByte must match the server's engine.read_status_byte.
	StatusByte bool

	// Timeout bounds a request when the context has no deadline.
	Timeout time.Duration
}

func (s *Storage) open(ctx context.Context, path string, size int64) (net.Conn, error) {
	conn, err := dial(ctx, s.Addr, s.TLSConfig)
	if err != nil {
		return nil, err
	}

	d, ok := ctx.Deadline()
	if !ok {
		timeout := s.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		d = time.Now().Add(timeout)
	}
	_ = conn.SetDeadline(d)

	header := message.EncodeStorageHeader(path, s.SessionID)
	prefix, err := frame.EncodeLength(int64(len(header))+size, frame.StorageWidth)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := frame.WriteFull(conn, append(prefix, header...)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send header: %w", err)
	}
	return conn, nil
}

// status reads a plain status reply up to EOF.
func (s *Storage) status(conn net.Conn, path string) error {
	reply, err := io.ReadAll(io.LimitReader(conn, maxStatusLen))
	if err != nil && len(reply) == 0 {
		return fmt.Errorf("%s: read status: %w", path, err)
	}
	if string(reply) == storage.StatusSuccess {
		return nil
	}
	return &StatusError{Path: path, Status: string(reply)}
}

// simple runs a request without a body and returns its status.
func (s *Storage) simple(ctx context.Context, path string) error {
	conn, err := s.open(ctx, path, 0)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()
	return s.status(conn, path)
}

// Mkdir sends a CREATE_DIR request.
func (s *Storage) Mkdir(ctx context.Context, path string) error {
	return s.simple(ctx, path)
}

// Delete sends a DELETE_ITEM request.
func (s *Storage) Delete(ctx context.Context, path string) error {
	return s.simple(ctx, path)
}

// Put sends a WRITE_FILE request with exactly size bytes read from r.
func (s *Storage) Put(ctx context.Context, path string, r io.Reader, size int64) error {
	conn, err := s.open(ctx, path, size)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	n, copyErr := io.Copy(conn, io.LimitReader(r, size))
	if copyErr == nil && n < size {
		copyErr = fmt.Errorf("short body: %d of %d bytes", n, size)
	}

	// The server may reply and close before reading the whole body.
	if err := s.status(conn, path); err != nil {
		return err
	}
	if copyErr != nil {
		return fmt.Errorf("%s: send body: %w", path, copyErr)
	}
	return nil
}

// readReply parses the size-prefixed reply of READ_FILE and READ_TREE and
// returns the body length, leaving the body on conn.
func (s *Storage) readReply(conn net.Conn, path string) (int64, error) {
	failed := false
	if s.StatusByte {
		var b [1]byte
		if _, err := io.ReadFull(conn, b[:]); err != nil {
			return 0, fmt.Errorf("%s: read status byte: %w", path, err)
		}
		failed = b[0] != '0'
	}

	size, err := frame.ReadLength(conn, frame.StorageWidth)
	if err != nil {
		return 0, fmt.Errorf("%s: read size: %w", path, err)
	}

	if failed {
		text := make([]byte, min(size, maxStatusLen))
		if _, err := io.ReadFull(conn, text); err != nil {
			return 0, fmt.Errorf("%s: read error text: %w", path, err)
		}
		return 0, &StatusError{Path: path, Status: string(text)}
	}
	return size, nil
}

// legacyError tells an empty result from an error in the status-byte-less
// format, where both start with a zero size.
func legacyError(conn net.Conn, path string) error {
	text, _ := io.ReadAll(io.LimitReader(conn, maxStatusLen))
	if len(text) == 0 {
		return nil
	}
	return &StatusError{Path: path, Status: string(text)}
}

// Get sends a READ_FILE request and copies the file into w.
func (s *Storage) Get(ctx context.Context, path string, w io.Writer) (int64, error) {
	conn, err := s.open(ctx, path, 0)
	if err != nil {
		return 0, err
	}
	defer func() { _ = conn.Close() }()

	size, err := s.readReply(conn, path)
	if err != nil {
		return 0, err
	}
	if size == 0 && !s.StatusByte {
		return 0, legacyError(conn, path)
	}

	n, err := io.CopyN(w, conn, size)
	if err != nil {
		return n, fmt.Errorf("%s: read body: %w", path, err)
	}
	return n, nil
}

// Tree sends a READ_TREE request.
func (s *Storage) Tree(ctx context.Context, path string) (content.Tree, error) {
	conn, err := s.open(ctx, path, 0)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	size, err := s.readReply(conn, path)
	if err != nil {
		return nil, err
	}
	if size == 0 && !s.StatusByte {
		return nil, legacyError(conn, path)
	}

	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, conn, size); err != nil {
		return nil, fmt.Errorf("%s: read tree: %w", path, err)
	}

	tree := content.Tree{}
	if err := json.Unmarshal(buf.Bytes(), &tree); err != nil {
		return nil, fmt.Errorf("%s: decode tree: %w", path, err)
	}
	return tree, nil
}
