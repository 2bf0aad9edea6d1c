// Package message splits and assembles the pipe-separated payloads carried
// inside frames.
package message

import (
	"bytes"
	"errors"
)

// Separator divides the fields of every payload.
const Separator = '|'

// BootstrapView is the reserved view that asks the registry for a session.
const BootstrapView = "_"

var ErrMissingSeparator = errors.New("payload is missing a field separator")

// Control is a decoded control-plane request.
type Control struct {
	View      string
	SessionID string
	Body      []byte
}

// IsBootstrap reports whether the request is the session handshake.
func (c Control) IsBootstrap() bool {
	return c.View == BootstrapView
}

// splitTwo cuts p on the first two separators.
func splitTwo(p []byte) (first, second, rest []byte, err error) {
	i := bytes.IndexByte(p, Separator)
	if i < 0 {
		return nil, nil, nil, ErrMissingSeparator
	}
	j := bytes.IndexByte(p[i+1:], Separator)
	if j < 0 {
		return nil, nil, nil, ErrMissingSeparator
	}
	j += i + 1
	return p[:i], p[i+1 : j], p[j+1:], nil
}

// ParseControl splits view|sessionid|body. The body may contain separators.
func ParseControl(payload []byte) (Control, error) {
	view, sid, body, err := splitTwo(payload)
	if err != nil {
		return Control{}, err
	}
	return Control{View: string(view), SessionID: string(sid), Body: body}, nil
}

// EncodeControl renders a request payload (without the frame prefix).
func EncodeControl(view, sessionID string, body []byte) []byte {
	out := make([]byte, 0, len(view)+len(sessionID)+len(body)+2)
	out = append(out, view...)
	out = append(out, Separator)
	out = append(out, sessionID...)
	out = append(out, Separator)
	return append(out, body...)
}

// EncodeReply renders sessionid|body, the payload of a control reply.
func EncodeReply(sessionID string, body []byte) []byte {
	out := make([]byte, 0, len(sessionID)+len(body)+1)
	out = append(out, sessionID...)
	out = append(out, Separator)
	return append(out, body...)
}

// ParseReply splits a control reply into session id and body.
func ParseReply(payload []byte) (string, []byte, error) {
	i := bytes.IndexByte(payload, Separator)
	if i < 0 {
		return "", nil, ErrMissingSeparator
	}
	return string(payload[:i]), payload[i+1:], nil
}

// EncodePush renders view|body, the payload of a reverse request.
func EncodePush(view string, body []byte) []byte {
	out := make([]byte, 0, len(view)+len(body)+1)
	out = append(out, view...)
	out = append(out, Separator)
	return append(out, body...)
}

// ParsePush is the inverse of EncodePush.
func ParsePush(payload []byte) (string, []byte, error) {
	return ParseReply(payload)
}

// StorageHeader is the path|sessionid| preamble of a storage frame.
type StorageHeader struct {
	Path      string
	SessionID string

	// Len is the number of header bytes including both separators.
	Len int
}

// ParseStorage splits the header off the first bytes of a storage frame and
// returns the file bytes that arrived with it.
func ParseStorage(first []byte) (StorageHeader, []byte, error) {
	path, sid, rest, err := splitTwo(first)
	if err != nil {
		return StorageHeader{}, nil, err
	}
	h := StorageHeader{
		Path:      string(path),
		SessionID: string(sid),
		Len:       len(path) + len(sid) + 2,
	}
	return h, rest, nil
}

// EncodeStorageHeader renders path|sessionid|.
func EncodeStorageHeader(path, sessionID string) []byte {
	return EncodeControl(path, sessionID, nil)
}
