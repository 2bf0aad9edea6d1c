// Package badger implements metadata.Store on BadgerDB, an embedded
// key-value store. See keys.go for the key layout.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/metadata"
)

// Config configures the BadgerDB metadata store.
type Config struct {
	// Path is the directory where BadgerDB keeps its files.
	Path string `mapstructure:"path" validate:"required"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 64)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`

	// IndexCacheSizeMB is BadgerDB's index cache size in MB (default: 32)
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb"`
}

// Store is a BadgerDB-backed metadata.Store.
//
// Mutations are serialized by mu so that read-check-write sequences (unique
// names, parent existence, cascades) never race each other; badger
// transactions then make each mutation atomic on disk.
type Store struct {
	mu  sync.RWMutex
	db  *badger.DB
	seq *badger.Sequence
}

// New opens the database at cfg.Path, creating it if needed.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	blockCacheMB := cfg.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	indexCacheMB := cfg.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = 32
	}

	// Records are small JSON documents; compression overhead isn't worth it.
	opts := badger.DefaultOptions(cfg.Path).
		WithLoggingLevel(badger.WARNING).
		WithCompression(options.None).
		WithBlockCacheSize(blockCacheMB << 20).
		WithIndexCacheSize(indexCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.Path, err)
	}

	seq, err := db.GetSequence([]byte(sequenceKey), 128)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open id sequence: %w", err)
	}

	logger.Debug("BadgerDB metadata store opened at %s", cfg.Path)
	return &Store{db: db, seq: seq}, nil
}

func (s *Store) nextID() (int64, error) {
	for {
		id, err := s.seq.Next()
		if err != nil {
			return 0, err
		}
		// Sequences start at 0; ids start at 1.
		if id != 0 {
			return int64(id), nil
		}
	}
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func getID(txn *badger.Txn, key []byte) (int64, error) {
	item, err := txn.Get(key)
	if err != nil {
		return 0, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return 0, err
	}
	return decodeID(val)
}

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func mapError(op, name string, err error) error {
	var se *metadata.StoreError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &se):
		return err
	case errors.Is(err, badger.ErrKeyNotFound):
		return metadata.NotFound(name)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return metadata.IOError(op, err)
	}
}

func (s *Store) LookupDirectory(ctx context.Context, parent *int64, name string) (*metadata.DirectoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec metadata.DirectoryRecord
	err := s.db.View(func(txn *badger.Txn) error {
		id, err := getID(txn, keyDirectoryChild(parent, name))
		if err != nil {
			return err
		}
		return getJSON(txn, keyDirectory(id), &rec)
	})
	if err != nil {
		return nil, mapError("lookup directory", name, err)
	}
	return &rec, nil
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

	id, err := s.nextID()
	if err != nil {
		return metadata.IOError("allocate id", err)
	}

	stored := *rec
	stored.ID = id
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if rec.ParentID != nil {
			ok, err := exists(txn, keyDirectory(*rec.ParentID))
			if err != nil {
				return err
			}
			if !ok {
				return metadata.NewError(metadata.ErrConstraint, rec.Name, nil)
			}
		}

		childKey := keyDirectoryChild(rec.ParentID, rec.Name)
		dup, err := exists(txn, childKey)
		if err != nil {
			return err
		}
		if dup {
			return metadata.NewError(metadata.ErrAlreadyExists, rec.Name, nil)
		}

		if err := setJSON(txn, keyDirectory(id), &stored); err != nil {
			return err
		}
		return txn.Set(childKey, encodeID(id))
	})
	if err != nil {
		return mapError("insert directory", rec.Name, err)
	}

	*rec = stored
	return nil
}

// collectChildren lists the (key, id) pairs under prefix.
func collectChildren(txn *badger.Txn, prefix []byte) (keys [][]byte, ids []int64, err error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		val, err := item.ValueCopy(nil)
		if err != nil {
			return nil, nil, err
		}
		id, err := decodeID(val)
		if err != nil {
			return nil, nil, err
		}
		keys = append(keys, item.KeyCopy(nil))
		ids = append(ids, id)
	}
	return keys, ids, nil
}

func (s *Store) DeleteDirectory(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		var root metadata.DirectoryRecord
		if err := getJSON(txn, keyDirectory(id), &root); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return metadata.NotFound(fmt.Sprintf("directory #%d", id))
			}
			return err
		}

		toDelete := [][]byte{keyDirectory(id), keyDirectoryChild(root.ParentID, root.Name)}

		queue := []int64{id}
		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]

			fileKeys, fileIDs, err := collectChildren(txn, keyFileChildPrefix(current))
			if err != nil {
				return err
			}
			toDelete = append(toDelete, fileKeys...)
			for _, fid := range fileIDs {
				toDelete = append(toDelete, keyFile(fid))
			}

			dirKeys, dirIDs, err := collectChildren(txn, keyDirectoryChildPrefix(current))
			if err != nil {
				return err
			}
			toDelete = append(toDelete, dirKeys...)
			for _, did := range dirIDs {
				toDelete = append(toDelete, keyDirectory(did))
			}
			queue = append(queue, dirIDs...)
		}

		for _, key := range toDelete {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	return mapError("delete directory", "", err)
}

func (s *Store) LookupFile(ctx context.Context, parent *int64, name string) (*metadata.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec metadata.FileRecord
	err := s.db.View(func(txn *badger.Txn) error {
		id, err := getID(txn, keyFileChild(parent, name))
		if err != nil {
			return err
		}
		return getJSON(txn, keyFile(id), &rec)
	})
	if err != nil {
		return nil, mapError("lookup file", name, err)
	}
	return &rec, nil
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

	id, err := s.nextID()
	if err != nil {
		return metadata.IOError("allocate id", err)
	}

	now := time.Now().UTC()
	stored := *rec
	stored.ID = id
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.ModifiedAt.IsZero() {
		stored.ModifiedAt = now
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if rec.ParentID != nil {
			ok, err := exists(txn, keyDirectory(*rec.ParentID))
			if err != nil {
				return err
			}
			if !ok {
				return metadata.NewError(metadata.ErrConstraint, rec.Name, nil)
			}
		}

		childKey := keyFileChild(rec.ParentID, rec.Name)
		old, err := getID(txn, childKey)
		switch {
		case err == nil:
			if err := txn.Delete(keyFile(old)); err != nil {
				return err
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		if err := setJSON(txn, keyFile(id), &stored); err != nil {
			return err
		}
		return txn.Set(childKey, encodeID(id))
	})
	if err != nil {
		return mapError("replace file", rec.Name, err)
	}

	*rec = stored
	return nil
}

func (s *Store) DeleteFile(ctx context.Context, parent *int64, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		childKey := keyFileChild(parent, name)
		id, err := getID(txn, childKey)
		if err != nil {
			return err
		}
		if err := txn.Delete(keyFile(id)); err != nil {
			return err
		}
		return txn.Delete(childKey)
	})
	return mapError("delete file", name, err)
}

func scanPrefix[T any](db *badger.DB, prefix string, reverse bool, limit int) ([]T, error) {
	var out []T
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		opts.Reverse = reverse
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := []byte(prefix)
		if reverse {
			seek = append([]byte(prefix), 0xFF)
		}

		for it.Seek(seek); it.Valid(); it.Next() {
			if limit > 0 && len(out) == limit {
				break
			}
			var v T
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &v)
			}); err != nil {
				return err
			}
			out = append(out, v)
		}
		return nil
	})
	return out, err
}

func (s *Store) ListDirectories(ctx context.Context) ([]metadata.DirectoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out, err := scanPrefix[metadata.DirectoryRecord](s.db, prefixDirectory, false, 0)
	if err != nil {
		return nil, mapError("list directories", "", err)
	}
	return out, nil
}

func (s *Store) ListFiles(ctx context.Context) ([]metadata.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out, err := scanPrefix[metadata.FileRecord](s.db, prefixFile, false, 0)
	if err != nil {
		return nil, mapError("list files", "", err)
	}
	return out, nil
}

func (s *Store) AppendAudit(ctx context.Context, rec *metadata.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.nextID()
	if err != nil {
		return metadata.IOError("allocate id", err)
	}
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	rec.ID = id

	err = s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, keyAudit(id), rec)
	})
	return mapError("append audit", rec.Path, err)
}

func (s *Store) ListAudit(ctx context.Context, limit int) ([]metadata.AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out, err := scanPrefix[metadata.AuditRecord](s.db, prefixAudit, true, limit)
	if err != nil {
		return nil, mapError("list audit", "", err)
	}
	return out, nil
}

func (s *Store) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return metadata.IOError("healthcheck", metadata.ErrStoreClosed)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.seq.Release(); err != nil {
		logger.Warn("Failed to release badger id sequence: %v", err)
	}
	return s.db.Close()
}
