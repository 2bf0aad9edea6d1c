// Package frame implements the fixed-width decimal length prefix used on
// both wire planes.
//
// A frame is <width ASCII digits><payload>. The control plane uses a width of
// 5, the storage plane a width of 10 so that large file sizes fit.
package frame

import (
	"errors"
	"fmt"
	"io"
	"net"
)

const (
	// ControlWidth is the prefix width of control-plane frames.
	ControlWidth = 5

	// StorageWidth is the prefix width of storage-plane frames and read replies.
	StorageWidth = 10

	// DefaultBufferLimit caps a single read from the socket.
	DefaultBufferLimit = 65536
)

// FramingError reports a malformed prefix or a stream that ended before the
// declared length was read. Framing errors are always connection-fatal.
type FramingError struct {
	Op string

	// Read is the number of bytes consumed before the failure.
	Read int

	Err error
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing: %s after %d byte(s): %v", e.Op, e.Read, e.Err)
}

func (e *FramingError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was caused by a socket deadline.
func (e *FramingError) Timeout() bool {
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

var (
	ErrBadPrefix  = errors.New("length prefix is not all digits")
	ErrTooLarge   = errors.New("length does not fit the prefix width")
	ErrShortWrite = errors.New("short write")
)

// MaxLength returns the largest length representable in width digits.
func MaxLength(width int) int64 {
	var max int64 = 1
	for i := 0; i < width; i++ {
		max *= 10
	}
	return max - 1
}

// EncodeLength renders n as a zero-padded decimal of exactly width digits.
func EncodeLength(n int64, width int) ([]byte, error) {
	if n < 0 || n > MaxLength(width) {
		return nil, fmt.Errorf("%w: %d in %d digits", ErrTooLarge, n, width)
	}

	out := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		out[i] = byte('0' + n%10)
		n /= 10
	}
	return out, nil
}

// DecodeLength parses a prefix previously produced by EncodeLength.
func DecodeLength(prefix []byte) (int64, error) {
	if len(prefix) == 0 {
		return 0, ErrBadPrefix
	}

	var n int64
	for _, c := range prefix {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: %q", ErrBadPrefix, prefix)
		}
		n = n*10 + int64(c-'0')
	}
	return n, nil
}

// ReadLength reads exactly width bytes and decodes them as a length.
func ReadLength(r io.Reader, width int) (int64, error) {
	buf := make([]byte, width)
	n, err := io.ReadFull(r, buf)
	if err != nil {
		return 0, &FramingError{Op: "read prefix", Read: n, Err: err}
	}

	length, err := DecodeLength(buf)
	if err != nil {
		return 0, &FramingError{Op: "decode prefix", Read: n, Err: err}
	}
	return length, nil
}

// ReadExact fills p completely, reading at most limit bytes per call.
func ReadExact(r io.Reader, p []byte, limit int) error {
	if limit <= 0 {
		limit = DefaultBufferLimit
	}

	read := 0
	for read < len(p) {
		end := read + limit
		if end > len(p) {
			end = len(p)
		}

		n, err := r.Read(p[read:end])
		read += n
		if err != nil {
			if read == len(p) && errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return &FramingError{Op: "read payload", Read: read, Err: err}
		}
	}
	return nil
}

// ReadFrame reads a prefix of the given width followed by its payload.
func ReadFrame(r io.Reader, width, limit int) ([]byte, error) {
	length, err := ReadLength(r, width)
	if err != nil {
		return nil, err
	}

	payload := make([]byte, length)
	if err := ReadExact(r, payload, limit); err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteFull writes every byte of p, looping over short writes. It never
// returns success for a partial write.
func WriteFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

// Encode returns prefix and payload as a single buffer.
func Encode(width int, payload []byte) ([]byte, error) {
	prefix, err := EncodeLength(int64(len(payload)), width)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, width+len(payload))
	out = append(out, prefix...)
	return append(out, payload...), nil
}

// WriteFrame writes prefix and payload in one call so that concurrent
// writers serialized by the caller never interleave half frames.
func WriteFrame(w io.Writer, width int, payload []byte) error {
	buf, err := Encode(width, payload)
	if err != nil {
		return err
	}
	return WriteFull(w, buf)
}
