package authz

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/dittostore/internal/logger"
)

// DefaultKeyTTL is how long a granted key stays usable.
const DefaultKeyTTL = 60 * time.Second

type keyID struct {
	path    string
	session string
}

type grant struct {
	op      Operation
	expires time.Time
}

// Keys is the operation key table. A key maps (path, session) to one
// operation and is removed by the first Take, whether or not the operation
// then succeeds. Granting the same pair again replaces the earlier key.
//
// Paths are stored as given; callers normalize them first.
type Keys struct {
	mu   sync.Mutex
	keys map[keyID]grant
	ttl  time.Duration
	now  func() time.Time
}

// NewKeys creates an empty table. A non-positive ttl uses DefaultKeyTTL.
func NewKeys(ttl time.Duration) *Keys {
	if ttl <= 0 {
		ttl = DefaultKeyTTL
	}
	return &Keys{
		keys: make(map[keyID]grant),
		ttl:  ttl,
		now:  time.Now,
	}
}

// TTL returns the lifetime of newly granted keys.
func (k *Keys) TTL() time.Duration { return k.ttl }

// Grant stores a key and returns its expiry.
func (k *Keys) Grant(path, session string, op Operation) time.Time {
	k.mu.Lock()
	defer k.mu.Unlock()

	expires := k.now().Add(k.ttl)
	k.keys[keyID{path, session}] = grant{op: op, expires: expires}
	return expires
}

// Take removes the key for (path, session) and returns its operation. The
// second result is false when there was no key or it had expired; an
// expired key is removed all the same.
func (k *Keys) Take(path, session string) (Operation, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	id := keyID{path, session}
	g, ok := k.keys[id]
	if !ok {
		return 0, false
	}
	delete(k.keys, id)

	if !k.now().Before(g.expires) {
		return 0, false
	}
	return g.op, true
}

// Peek reports the operation of a live key without consuming it.
func (k *Keys) Peek(path, session string) (Operation, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	g, ok := k.keys[keyID{path, session}]
	if !ok || !k.now().Before(g.expires) {
		return 0, false
	}
	return g.op, true
}

// DropSession removes every key belonging to session.
func (k *Keys) DropSession(session string) int {
	k.mu.Lock()
	defer k.mu.Unlock()

	n := 0
	for id := range k.keys {
		if id.session == session {
			delete(k.keys, id)
			n++
		}
	}
	return n
}

// Prune removes expired keys and returns how many were removed.
func (k *Keys) Prune() int {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	n := 0
	for id, g := range k.keys {
		if !now.Before(g.expires) {
			delete(k.keys, id)
			n++
		}
	}
	return n
}

// Len returns the number of stored keys, expired ones included.
func (k *Keys) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.keys)
}

// RunPruner prunes on every tick until ctx is done.
func (k *Keys) RunPruner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = k.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := k.Prune(); n > 0 {
				logger.Debug("Pruned %d expired operation keys", n)
			}
		}
	}
}
