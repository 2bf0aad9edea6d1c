package sqlite

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/marmos91/dittostore/pkg/metadata"
)

// directoryModel represents the cloud_directories table.
type directoryModel struct {
	bun.BaseModel `bun:"table:cloud_directories"`

	ID        int64     `bun:"id,pk,autoincrement"`
	Name      string    `bun:"name,notnull"`
	Owner     *int64    `bun:"owner"`
	ParentID  *int64    `bun:"parent_id"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

func (m *directoryModel) toRecord() *metadata.DirectoryRecord {
	return &metadata.DirectoryRecord{
		ID:        m.ID,
		Name:      m.Name,
		Owner:     m.Owner,
		ParentID:  m.ParentID,
		CreatedAt: m.CreatedAt,
	}
}

// fileModel represents the cloud_files table.
type fileModel struct {
	bun.BaseModel `bun:"table:cloud_files"`

	ID         int64     `bun:"id,pk,autoincrement"`
	Name       string    `bun:"name,notnull"`
	Owner      *int64    `bun:"owner"`
	ParentID   *int64    `bun:"parent_id"`
	Size       int64     `bun:"size,notnull"`
	Type       string    `bun:"type,notnull"`
	Checksum   string    `bun:"checksum"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
	ModifiedAt time.Time `bun:"modified_at,notnull"`
}

func (m *fileModel) toRecord() *metadata.FileRecord {
	return &metadata.FileRecord{
		ID:         m.ID,
		Name:       m.Name,
		Owner:      m.Owner,
		ParentID:   m.ParentID,
		Size:       m.Size,
		Type:       m.Type,
		Checksum:   m.Checksum,
		CreatedAt:  m.CreatedAt,
		ModifiedAt: m.ModifiedAt,
	}
}

// auditModel represents the cloud_audit_log table.
type auditModel struct {
	bun.BaseModel `bun:"table:cloud_audit_log"`

	ID        int64     `bun:"id,pk,autoincrement"`
	SessionID string    `bun:"session_id,notnull"`
	UserID    *int64    `bun:"user_id"`
	Path      string    `bun:"path,notnull"`
	Operation string    `bun:"operation,notnull"`
	Outcome   string    `bun:"outcome,notnull"`
	Bytes     int64     `bun:"bytes,notnull"`
	At        time.Time `bun:"at,notnull"`
}

func (m *auditModel) toRecord() metadata.AuditRecord {
	return metadata.AuditRecord{
		ID:        m.ID,
		SessionID: m.SessionID,
		UserID:    m.UserID,
		Path:      m.Path,
		Operation: m.Operation,
		Outcome:   m.Outcome,
		Bytes:     m.Bytes,
		At:        m.At,
	}
}
