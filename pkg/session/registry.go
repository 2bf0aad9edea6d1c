// Package session tracks live control-plane connections, the sessions they
// belong to and the user bound to each session.
//
// A session is identified by a signed opaque id, groups one or more
// connections and is bound to at most one user. It ends when its last
// connection closes.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/internal/protocol/message"
	"github.com/marmos91/dittostore/pkg/fault"
)

// DefaultMaxMintAttempts bounds the id minting loop.
const DefaultMaxMintAttempts = 8

var (
	// ErrSessionGeneration means no unused id was produced within the
	// configured number of attempts.
	ErrSessionGeneration = errors.New("session id generation failed")

	// ErrNoSession is returned for operations on a connection that has not
	// bootstrapped.
	ErrNoSession = errors.New("connection has no session")
)

type session struct {
	id      string
	members []*Conn
	userID  *int64
}

// Registry is the connection and session table. Safe for concurrent use.
type Registry struct {
	signer      *Signer
	maxAttempts int

	mu       sync.RWMutex
	sessions map[string]*session
	users    map[int64]string

	hooksMu   sync.RWMutex
	onEnd     []func(sessionID string)
	onReverse []func(view string, delivered bool)
}

// NewRegistry creates an empty registry. A non-positive maxMintAttempts
// uses DefaultMaxMintAttempts.
func NewRegistry(signer *Signer, maxMintAttempts int) *Registry {
	if maxMintAttempts <= 0 {
		maxMintAttempts = DefaultMaxMintAttempts
	}
	return &Registry{
		signer:      signer,
		maxAttempts: maxMintAttempts,
		sessions:    make(map[string]*session),
		users:       make(map[int64]string),
	}
}

// OnSessionEnd registers fn to run, outside any lock, after a session is
// deleted.
func (r *Registry) OnSessionEnd(fn func(sessionID string)) {
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()
	r.onEnd = append(r.onEnd, fn)
}

// OnReverseRequest registers fn to run after every reverse request that
// could be encoded, with whether some connection accepted it.
func (r *Registry) OnReverseRequest(fn func(view string, delivered bool)) {
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()
	r.onReverse = append(r.onReverse, fn)
}

func (r *Registry) fireReverse(view string, delivered bool) {
	r.hooksMu.RLock()
	hooks := r.onReverse
	r.hooksMu.RUnlock()

	for _, fn := range hooks {
		fn(view, delivered)
	}
}

func (r *Registry) fireEnd(ids []string) {
	if len(ids) == 0 {
		return
	}
	r.hooksMu.RLock()
	hooks := r.onEnd
	r.hooksMu.RUnlock()

	for _, id := range ids {
		for _, fn := range hooks {
			fn(id)
		}
	}
}

// Signer returns the signer used for minting and verifying ids.
func (r *Registry) Signer() *Signer { return r.signer }

// Bootstrap attaches conn to a session and returns its id.
//
// An empty presented id mints a new session. A presented id with a valid
// signature that names a live session attaches conn to it as a receiver.
// Anything else mints a fresh session; that is not an error.
func (r *Registry) Bootstrap(conn *Conn, presented string) (string, error) {
	r.mu.Lock()
	id, ended, err := r.bootstrapLocked(conn, presented)
	r.mu.Unlock()

	r.fireEnd(ended)
	return id, err
}

func (r *Registry) bootstrapLocked(conn *Conn, presented string) (string, []string, error) {
	if presented != "" && r.signer.Verify(presented) {
		if s, ok := r.sessions[presented]; ok {
			if conn.sessionID == presented {
				return presented, nil, nil
			}
			ended := r.detachLocked(conn)
			s.members = append(s.members, conn)
			conn.sessionID = presented
			conn.receiver = true
			logger.Debug("Connection %d (%s) attached to session %s", conn.id, conn.peer, presented)
			return presented, ended, nil
		}
	}

	id := ""
	for range r.maxAttempts {
		candidate := r.signer.Mint()
		if _, taken := r.sessions[candidate]; !taken {
			id = candidate
			break
		}
	}
	if id == "" {
		logger.Error("Session id generation failed after %d attempts", r.maxAttempts)
		return "", nil, ErrSessionGeneration
	}

	ended := r.detachLocked(conn)
	r.sessions[id] = &session{id: id, members: []*Conn{conn}}
	conn.sessionID = id
	conn.receiver = false
	logger.Debug("Connection %d (%s) opened session %s", conn.id, conn.peer, id)
	return id, ended, nil
}

// Resolve returns the session of conn, bootstrapping it with presented when
// it has none yet.
func (r *Registry) Resolve(conn *Conn, presented string) (string, error) {
	r.mu.RLock()
	id := conn.sessionID
	r.mu.RUnlock()

	if id != "" {
		return id, nil
	}
	return r.Bootstrap(conn, presented)
}

// SessionOf returns the session of conn, or "" before bootstrap.
func (r *Registry) SessionOf(conn *Conn) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return conn.sessionID
}

// IsReceiver reports whether conn joined an existing session.
func (r *Registry) IsReceiver(conn *Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return conn.receiver
}

// detachLocked removes conn from its session and returns the ids of
// sessions that ended as a result.
func (r *Registry) detachLocked(conn *Conn) []string {
	id := conn.sessionID
	if id == "" {
		return nil
	}
	conn.sessionID = ""
	conn.receiver = false

	s, ok := r.sessions[id]
	if !ok {
		return nil
	}

	for i, m := range s.members {
		if m == conn {
			s.members = append(s.members[:i], s.members[i+1:]...)
			break
		}
	}
	if len(s.members) > 0 {
		return nil
	}

	if s.userID != nil && r.users[*s.userID] == id {
		delete(r.users, *s.userID)
	}
	delete(r.sessions, id)
	logger.Debug("Session %s ended", id)
	return []string{id}
}

// Close removes conn from its session. The session and its user binding
// are deleted when conn was the last member.
func (r *Registry) Close(conn *Conn) {
	r.mu.Lock()
	ended := r.detachLocked(conn)
	r.mu.Unlock()

	r.fireEnd(ended)
}

// Login binds the session of conn to userID. Any other session bound to
// the same user loses its binding.
func (r *Registry) Login(conn *Conn, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[conn.sessionID]
	if !ok {
		return ErrNoSession
	}

	if prev, ok := r.users[userID]; ok && prev != s.id {
		if other, ok := r.sessions[prev]; ok {
			other.userID = nil
		}
		logger.Debug("User %d moved from session %s to %s", userID, prev, s.id)
	}
	if s.userID != nil && *s.userID != userID {
		delete(r.users, *s.userID)
	}

	uid := userID
	s.userID = &uid
	r.users[userID] = s.id
	return nil
}

// Logout removes the user binding of the session of conn.
func (r *Registry) Logout(conn *Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[conn.sessionID]
	if !ok {
		return ErrNoSession
	}
	if s.userID != nil {
		delete(r.users, *s.userID)
		s.userID = nil
	}
	return nil
}

// UserOf returns the user bound to sessionID, if any.
func (r *Registry) UserOf(sessionID string) (*int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok || s.userID == nil {
		return nil, false
	}
	uid := *s.userID
	return &uid, true
}

// SessionOfUser returns the session bound to userID, if any.
func (r *Registry) SessionOfUser(userID int64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.users[userID]
	return id, ok
}

// Exists reports whether sessionID is live.
func (r *Registry) Exists(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[sessionID]
	return ok
}

// Members returns a snapshot of the connections of sessionID.
func (r *Registry) Members(sessionID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	return append([]*Conn(nil), s.members...)
}

// Sessions returns the live session ids, sorted.
func (r *Registry) Sessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ReverseRequest pushes view|json(data) to the session bound to userID.
// Receiver sockets are tried first. It returns false when the user is
// offline or no member accepted the write; only an unencodable payload is
// an error.
func (r *Registry) ReverseRequest(ctx context.Context, userID int64, view string, data any) (bool, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return false, fault.New(fault.Serialization, "reverse request", err)
	}
	payload := message.EncodePush(view, body)

	r.mu.RLock()
	var targets []*Conn
	if id, ok := r.users[userID]; ok {
		if s, ok := r.sessions[id]; ok {
			targets = make([]*Conn, 0, len(s.members))
			for _, m := range s.members {
				if m.receiver {
					targets = append(targets, m)
				}
			}
			for _, m := range s.members {
				if !m.receiver {
					targets = append(targets, m)
				}
			}
		}
	}
	r.mu.RUnlock()

	delivered := r.deliver(ctx, targets, view, payload)
	r.fireReverse(view, delivered)
	return delivered, nil
}

func (r *Registry) deliver(ctx context.Context, targets []*Conn, view string, payload []byte) bool {
	for _, conn := range targets {
		if err := conn.Send(ctx, payload); err != nil {
			logger.Debug("Reverse request %s to connection %d failed: %v", view, conn.id, err)
			if ctx.Err() != nil {
				return false
			}
			continue
		}
		return true
	}
	return false
}
