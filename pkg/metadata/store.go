// Package metadata defines the directory and file records of the cloud
// folder, the Store contract every backend implements, and the path to
// directory-id resolution that walks it.
package metadata

import (
	"context"
	"time"
)

// DirectoryRecord is one directory of the cloud folder.
//
// A nil ParentID places the directory at the root.
type DirectoryRecord struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Owner     *int64    `json:"owner,omitempty"`
	ParentID  *int64    `json:"parent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// FileRecord is one regular file of the cloud folder.
type FileRecord struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Owner    *int64 `json:"owner,omitempty"`
	ParentID *int64 `json:"parent_id,omitempty"`

	// Size is the number of content bytes actually received.
	Size int64 `json:"size"`

	// Type is a human-readable description derived from the extension.
	Type string `json:"type"`

	// Checksum is the hex BLAKE3 digest of the content.
	Checksum string `json:"checksum,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// AuditRecord describes the outcome of one storage operation.
type AuditRecord struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	UserID    *int64    `json:"user_id,omitempty"`
	Path      string    `json:"path"`
	Operation string    `json:"operation"`
	Outcome   string    `json:"outcome"`
	Bytes     int64     `json:"bytes"`
	At        time.Time `json:"at"`
}

// Store persists directory and file records keyed by (name, parent id).
//
// Every method is safe for concurrent use. Implementations must treat a nil
// parent id as the root and keep (name, parent) unique per table.
type Store interface {
	// LookupDirectory returns the directory called name under parent.
	// Returns ErrNotFound when absent.
	LookupDirectory(ctx context.Context, parent *int64, name string) (*DirectoryRecord, error)

	// InsertDirectory stores rec and assigns rec.ID.
	// Returns ErrAlreadyExists for a duplicate (name, parent) and
	// ErrConstraint when the parent does not exist.
	InsertDirectory(ctx context.Context, rec *DirectoryRecord) error

	// DeleteDirectory removes the directory and, recursively, every
	// directory and file below it. Returns ErrNotFound when absent.
	DeleteDirectory(ctx context.Context, id int64) error

	// LookupFile returns the file called name under parent.
	LookupFile(ctx context.Context, parent *int64, name string) (*FileRecord, error)

	// ReplaceFile deletes any prior file with the same (name, parent) and
	// inserts rec, assigning rec.ID. Both steps happen atomically.
	ReplaceFile(ctx context.Context, rec *FileRecord) error

	// DeleteFile removes the file called name under parent.
	DeleteFile(ctx context.Context, parent *int64, name string) error

	// ListDirectories returns every directory record.
	ListDirectories(ctx context.Context) ([]DirectoryRecord, error)

	// ListFiles returns every file record.
	ListFiles(ctx context.Context) ([]FileRecord, error)

	// AppendAudit stores rec and assigns rec.ID.
	AppendAudit(ctx context.Context, rec *AuditRecord) error

	// ListAudit returns the most recent audit records, newest first.
	ListAudit(ctx context.Context, limit int) ([]AuditRecord, error)

	// Healthcheck verifies the backend is reachable.
	Healthcheck(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

// SameParent compares two optional parent ids.
func SameParent(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ID returns a pointer to a copy of id, for building parent references.
func ID(id int64) *int64 {
	return &id
}
