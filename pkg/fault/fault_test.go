package fault

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/marmos91/dittostore/internal/protocol/frame"
	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestKindOf(t *testing.T) {
	_, badPrefix := frame.ReadLength(bytes.NewReader([]byte("zzzzz")), frame.ControlWidth)

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"classified", New(NotFound, "lookup", errors.New("x")), NotFound},
		{"wrapped classified", fmt.Errorf("outer: %w", New(Store, "insert", nil)), Store},
		{"framing", badPrefix, Framing},
		{"idle timeout", &frame.FramingError{Op: "read prefix", Err: os.ErrDeadlineExceeded}, Timeout},
		{"partial timeout", &frame.FramingError{Op: "read prefix", Read: 2, Err: os.ErrDeadlineExceeded}, Framing},
		{"net timeout", timeoutErr{}, Timeout},
		{"eof", io.EOF, Framing},
		{"other", errors.New("boom"), Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsConnectionFatal(t *testing.T) {
	assert.True(t, IsConnectionFatal(io.EOF, ControlPlane))
	assert.True(t, IsConnectionFatal(timeoutErr{}, StoragePlane))
	assert.False(t, IsConnectionFatal(timeoutErr{}, ControlPlane))
	assert.False(t, IsConnectionFatal(New(Serialization, "decode", nil), ControlPlane))
	assert.False(t, IsConnectionFatal(New(Authorization, "take key", nil), StoragePlane))
}

func TestErrorMessage(t *testing.T) {
	err := New(NotFound, "resolve", errors.New("missing segment")).WithPath("docs/x")
	assert.Equal(t, "NotFoundError: resolve docs/x: missing segment", err.Error())
}

func TestClientMessage(t *testing.T) {
	assert.Equal(t, "missing segment", Message(New(NotFound, "resolve", errors.New("missing segment"))))
	assert.Equal(t, "internal error", Message(New(Internal, "boom", errors.New("secret detail"))))
	assert.Equal(t, "internal error", Message(errors.New("plain failure")))
	assert.Equal(t, "AuthorizationError", Message(New(Authorization, "take key", nil)))
	assert.Equal(t, "", Message(nil))
}
