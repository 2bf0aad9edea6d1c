// Package fs implements content.Store on a go-billy filesystem: osfs rooted
// at the cloud folder in production, memfs for the "memory" content type and
// for tests.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/content"
)

// Config configures the filesystem content store.
type Config struct {
	// Path is the cloud folder.
	Path string `mapstructure:"path" validate:"required"`
}

// Store is a billy-backed content.Store.
type Store struct {
	fs billy.Filesystem

	// root is the billy name of the cloud folder. The bound osfs only
	// resolves relative names inside its base dir, so it uses ".".
	root string
}

var _ content.Store = (*Store)(nil)

// New roots a store at cfg.Path, creating the folder if needed. Paths are
// bound to the folder: symlinks and ".." cannot escape it.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("filesystem content store: path is required")
	}
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cloud folder %s: %w", cfg.Path, err)
	}

	logger.Debug("Filesystem content store rooted at %s", cfg.Path)
	return &Store{fs: osfs.New(cfg.Path, osfs.WithBoundOS()), root: "."}, nil
}

// NewMemory returns a store kept entirely in memory.
func NewMemory() *Store {
	return &Store{fs: memfs.New(), root: "/"}
}

// NewWithFilesystem wraps an existing billy filesystem that accepts
// slash-rooted names, such as memfs.
func NewWithFilesystem(bfs billy.Filesystem) *Store {
	return &Store{fs: bfs, root: "/"}
}

// abs maps a content path to the billy name used for every call.
func (s *Store) abs(p string) (string, error) {
	if strings.ContainsRune(p, 0) {
		return "", content.ErrInvalidPath
	}
	clean := strings.TrimPrefix(path.Clean("/"+p), "/")
	switch {
	case clean == "":
		return s.root, nil
	case s.root == "/":
		return "/" + clean, nil
	default:
		return clean, nil
	}
}

func mapError(op, p string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s %s: %w", op, p, content.ErrNotFound)
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%s %s: %w", op, p, content.ErrExists)
	default:
		return fmt.Errorf("%s %s: %w", op, p, err)
	}
}

func (s *Store) Mkdir(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.abs(p)
	if err != nil {
		return err
	}

	parent := path.Dir(full)
	if parent != s.root {
		fi, err := s.fs.Stat(parent)
		if err != nil || !fi.IsDir() {
			return fmt.Errorf("mkdir %s: %w", p, content.ErrNotDirectory)
		}
	}

	if _, err := s.fs.Lstat(full); err == nil {
		return fmt.Errorf("mkdir %s: %w", p, content.ErrExists)
	}

	return mapError("mkdir", p, s.fs.MkdirAll(full, 0o755))
}

func (s *Store) Create(ctx context.Context, p string) (content.Writer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.abs(p)
	if err != nil {
		return nil, err
	}

	if fi, err := s.fs.Stat(full); err == nil && fi.IsDir() {
		return nil, fmt.Errorf("create %s: %w", p, content.ErrIsDirectory)
	}

	f, err := s.fs.OpenFile(full, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, mapError("create", p, err)
	}
	return &fileWriter{f: f}, nil
}

// fileWriter writes straight to the destination file.
type fileWriter struct {
	f      billy.File
	closed bool
}

func (w *fileWriter) Write(p []byte) (int, error) {
	return w.f.Write(p)
}

func (w *fileWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.f.Close()
}

func (w *fileWriter) Abort() error {
	return w.Close()
}

func (s *Store) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.abs(p)
	if err != nil {
		return nil, err
	}

	fi, err := s.fs.Stat(full)
	if err != nil {
		return nil, mapError("open", p, err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("open %s: %w", p, content.ErrIsDirectory)
	}

	f, err := s.fs.Open(full)
	if err != nil {
		return nil, mapError("open", p, err)
	}
	return f, nil
}

func (s *Store) Stat(ctx context.Context, p string) (content.Info, error) {
	if err := ctx.Err(); err != nil {
		return content.Info{}, err
	}
	full, err := s.abs(p)
	if err != nil {
		return content.Info{}, err
	}

	if full == s.root {
		return content.Info{Path: "", IsDir: true}, nil
	}

	fi, err := s.fs.Stat(full)
	if err != nil {
		return content.Info{}, mapError("stat", p, err)
	}
	return content.Info{
		Path:  strings.TrimPrefix(path.Clean("/"+full), "/"),
		Name:  fi.Name(),
		Size:  fi.Size(),
		IsDir: fi.IsDir(),
	}, nil
}

func (s *Store) Remove(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.abs(p)
	if err != nil {
		return err
	}

	fi, err := s.fs.Stat(full)
	if err != nil {
		return mapError("remove", p, err)
	}
	if fi.IsDir() {
		return fmt.Errorf("remove %s: %w", p, content.ErrIsDirectory)
	}
	return mapError("remove", p, s.fs.Remove(full))
}

func (s *Store) RemoveAll(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.abs(p)
	if err != nil {
		return err
	}
	if full == s.root {
		return fmt.Errorf("remove all: %w", content.ErrInvalidPath)
	}

	if _, err := s.fs.Lstat(full); err != nil {
		return mapError("remove all", p, err)
	}
	return mapError("remove all", p, util.RemoveAll(s.fs, full))
}

func (s *Store) Tree(ctx context.Context, p string) (content.Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.abs(p)
	if err != nil {
		return nil, err
	}

	if full != s.root {
		fi, err := s.fs.Stat(full)
		if err != nil {
			return nil, mapError("tree", p, err)
		}
		if !fi.IsDir() {
			return nil, fmt.Errorf("tree %s: %w", p, content.ErrNotDirectory)
		}
	}

	return s.tree(ctx, full)
}

func (s *Store) tree(ctx context.Context, dir string) (content.Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := s.fs.ReadDir(dir)
	if err != nil {
		if dir == s.root && errors.Is(err, fs.ErrNotExist) {
			return content.Tree{}, nil
		}
		return nil, err
	}

	out := content.Tree{}
	for _, entry := range entries {
		if !entry.IsDir() {
			out[entry.Name()] = 0
			continue
		}

		sub, err := s.tree(ctx, path.Join(dir, entry.Name()))
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				logger.Debug("Skipping unreadable directory %s", path.Join(dir, entry.Name()))
				continue
			}
			return nil, err
		}
		out[entry.Name()] = sub
	}
	return out, nil
}

func (s *Store) Walk(ctx context.Context, fn content.WalkFunc) error {
	return util.Walk(s.fs, s.root, func(p string, fi os.FileInfo, err error) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil {
			// An empty in-memory filesystem has no root entry yet.
			if errors.Is(err, fs.ErrPermission) || (p == s.root && errors.Is(err, fs.ErrNotExist)) {
				return nil
			}
			return err
		}
		if fi.IsDir() {
			return nil
		}
		return fn(content.Info{
			Path: strings.TrimPrefix(path.Clean("/"+p), "/"),
			Name: fi.Name(),
			Size: fi.Size(),
		})
	})
}

func (s *Store) Close() error {
	return nil
}
