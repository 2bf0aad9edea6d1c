// Package content defines the backing store for file bytes.
//
// Paths are relative to the cloud folder, slash separated and already
// cleaned (see metadata.CleanPath); "" is the cloud folder itself.
package content

import (
	"context"
	"io"
	"strings"
)

// Info describes one entry of the store.
type Info struct {
	// Path is the entry's path relative to the cloud folder.
	Path  string
	Name  string
	Size  int64
	IsDir bool
}

// Writer streams bytes into a new file.
//
// Close commits the content. Abort gives up: the filesystem backend leaves
// the partial file where it is, object backends discard the upload.
type Writer interface {
	io.WriteCloser
	Abort() error
}

// Tree is the nested listing returned by READ_TREE: files map to 0 and
// directories to a nested Tree.
type Tree map[string]any

// WalkFunc is called for every regular file. Returning an error stops the
// walk.
type WalkFunc func(info Info) error

// Store is the contract every content backend implements.
type Store interface {
	// Mkdir creates one directory. The parent must exist.
	// Returns ErrExists when the path is taken and ErrNotDirectory when
	// the parent is missing.
	Mkdir(ctx context.Context, p string) error

	// Create opens p for writing, truncating any previous content.
	Create(ctx context.Context, p string) (Writer, error)

	// Open opens a regular file for reading.
	// Returns ErrNotFound or ErrIsDirectory.
	Open(ctx context.Context, p string) (io.ReadCloser, error)

	// Stat describes p. The root always exists.
	Stat(ctx context.Context, p string) (Info, error)

	// Remove deletes one regular file.
	Remove(ctx context.Context, p string) error

	// RemoveAll deletes p and everything below it.
	RemoveAll(ctx context.Context, p string) error

	// Tree lists the subtree rooted at p. Entries the process may not read
	// are skipped. Returns ErrNotDirectory when p is a file.
	Tree(ctx context.Context, p string) (Tree, error)

	// Walk visits every regular file in the store.
	Walk(ctx context.Context, fn WalkFunc) error

	// Close releases the backend.
	Close() error
}

// Join builds a content path from a parent and a child name.
func Join(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

// Insert places a file or directory at rel inside t, creating intermediate
// directories. It is shared by backends that build trees from flat
// listings.
func (t Tree) Insert(rel string, isDir bool) {
	if rel == "" {
		return
	}
	parts := strings.Split(rel, "/")
	node := t
	for i, part := range parts {
		last := i == len(parts)-1
		if last && !isDir {
			if _, exists := node[part]; !exists {
				node[part] = 0
			}
			return
		}
		child, ok := node[part].(Tree)
		if !ok {
			child = Tree{}
			node[part] = child
		}
		node = child
	}
}
