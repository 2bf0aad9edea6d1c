package content

import "errors"

// Implementations wrap these with context:
//
//	return fmt.Errorf("stat %s: %w", p, content.ErrNotFound)
var (
	// ErrNotFound indicates the path does not exist.
	ErrNotFound = errors.New("content not found")

	// ErrExists indicates the path already exists (Mkdir only; writes
	// overwrite).
	ErrExists = errors.New("content already exists")

	// ErrNotDirectory indicates a directory operation on a file, or a
	// missing parent directory.
	ErrNotDirectory = errors.New("not a directory")

	// ErrIsDirectory indicates a file operation on a directory.
	ErrIsDirectory = errors.New("is a directory")

	// ErrInvalidPath indicates a path that escapes the cloud folder.
	ErrInvalidPath = errors.New("invalid content path")
)
