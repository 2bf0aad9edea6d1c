// Package memory implements metadata.Store with in-process maps. It is the
// backend used by tests and by ephemeral deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/marmos91/dittostore/pkg/metadata"
)

type childKey struct {
	parent int64
	root   bool
	name   string
}

func keyOf(parent *int64, name string) childKey {
	if parent == nil {
		return childKey{root: true, name: name}
	}
	return childKey{parent: *parent, name: name}
}

// Store is a map-backed metadata.Store.
type Store struct {
	mu sync.RWMutex

	nextID int64

	dirs     map[int64]*metadata.DirectoryRecord
	dirNames map[childKey]int64

	files     map[int64]*metadata.FileRecord
	fileNames map[childKey]int64

	audit []metadata.AuditRecord

	closed bool
}

// Config has no tunables yet; it exists so the factory can decode a
// "memory" section uniformly with the other backends.
type Config struct{}

// New returns an empty store.
func New(Config) *Store {
	return &Store{
		dirs:      make(map[int64]*metadata.DirectoryRecord),
		dirNames:  make(map[childKey]int64),
		files:     make(map[int64]*metadata.FileRecord),
		fileNames: make(map[childKey]int64),
	}
}

func (s *Store) allocID() int64 {
	s.nextID++
	return s.nextID
}

func copyDir(d *metadata.DirectoryRecord) *metadata.DirectoryRecord {
	c := *d
	return &c
}

func copyFile(f *metadata.FileRecord) *metadata.FileRecord {
	c := *f
	return &c
}

func (s *Store) LookupDirectory(ctx context.Context, parent *int64, name string) (*metadata.DirectoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.dirNames[keyOf(parent, name)]
	if !ok {
		return nil, metadata.NotFound(name)
	}
	return copyDir(s.dirs[id]), nil
}

func (s *Store) InsertDirectory(ctx context.Context, rec *metadata.DirectoryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.Name == "" {
		return metadata.NewError(metadata.ErrInvalidArgument, rec.Name, nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ParentID != nil {
		if _, ok := s.dirs[*rec.ParentID]; !ok {
			return metadata.NewError(metadata.ErrConstraint, rec.Name, nil)
		}
	}

	key := keyOf(rec.ParentID, rec.Name)
	if _, exists := s.dirNames[key]; exists {
		return metadata.NewError(metadata.ErrAlreadyExists, rec.Name, nil)
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.ID = s.allocID()
	s.dirs[rec.ID] = copyDir(rec)
	s.dirNames[key] = rec.ID
	return nil
}

func (s *Store) DeleteDirectory(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.dirs[id]; !ok {
		return metadata.NotFound("")
	}

	// Breadth-first over the subtree; children are found by scanning since
	// the maps are keyed by (parent, name).
	queue := []int64{id}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for key, fid := range s.fileNames {
			if !key.root && key.parent == current {
				delete(s.fileNames, key)
				delete(s.files, fid)
			}
		}
		for key, did := range s.dirNames {
			if !key.root && key.parent == current {
				queue = append(queue, did)
			}
		}

		d := s.dirs[current]
		delete(s.dirNames, keyOf(d.ParentID, d.Name))
		delete(s.dirs, current)
	}
	return nil
}

func (s *Store) LookupFile(ctx context.Context, parent *int64, name string) (*metadata.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.fileNames[keyOf(parent, name)]
	if !ok {
		return nil, metadata.NotFound(name)
	}
	return copyFile(s.files[id]), nil
}

func (s *Store) ReplaceFile(ctx context.Context, rec *metadata.FileRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.Name == "" {
		return metadata.NewError(metadata.ErrInvalidArgument, rec.Name, nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ParentID != nil {
		if _, ok := s.dirs[*rec.ParentID]; !ok {
			return metadata.NewError(metadata.ErrConstraint, rec.Name, nil)
		}
	}

	key := keyOf(rec.ParentID, rec.Name)
	if old, exists := s.fileNames[key]; exists {
		delete(s.files, old)
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.ModifiedAt.IsZero() {
		rec.ModifiedAt = now
	}
	rec.ID = s.allocID()
	s.files[rec.ID] = copyFile(rec)
	s.fileNames[key] = rec.ID
	return nil
}

func (s *Store) DeleteFile(ctx context.Context, parent *int64, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := keyOf(parent, name)
	id, ok := s.fileNames[key]
	if !ok {
		return metadata.NotFound(name)
	}
	delete(s.fileNames, key)
	delete(s.files, id)
	return nil
}

func (s *Store) ListDirectories(ctx context.Context) ([]metadata.DirectoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]metadata.DirectoryRecord, 0, len(s.dirs))
	for _, d := range s.dirs {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListFiles(ctx context.Context) ([]metadata.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]metadata.FileRecord, 0, len(s.files))
	for _, f := range s.files {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) AppendAudit(ctx context.Context, rec *metadata.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	rec.ID = s.allocID()
	s.audit = append(s.audit, *rec)
	return nil
}

func (s *Store) ListAudit(ctx context.Context, limit int) ([]metadata.AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]metadata.AuditRecord, 0, len(s.audit))
	for i := len(s.audit) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, s.audit[i])
	}
	return out, nil
}

func (s *Store) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return metadata.IOError("healthcheck", metadata.ErrStoreClosed)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
