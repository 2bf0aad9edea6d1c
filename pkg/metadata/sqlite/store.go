// Package sqlite implements metadata.Store on SQLite through the bun query
// builder and the pure-Go modernc.org/sqlite driver.
//
// Directories reference their parent with ON DELETE CASCADE, and files
// reference their directory the same way, so removing a directory row
// removes its whole subtree in one statement.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/metadata"
)

// Config configures the SQLite metadata store.
type Config struct {
	// Path is the database file. ":memory:" opens a private in-memory
	// database.
	Path string `mapstructure:"path" validate:"required"`

	// MaxOpenConns bounds the connection pool. In-memory databases always
	// use a single connection.
	MaxOpenConns int `mapstructure:"max_open_conns" validate:"omitempty,min=1"`

	// BusyTimeout is how long SQLite waits on a locked database before
	// returning SQLITE_BUSY.
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

func (c *Config) applyDefaults() {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 4
	}
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = 5 * time.Second
	}
}

// Store is a SQLite-backed metadata.Store.
type Store struct {
	db *bun.DB
}

// New opens (creating if needed) the database at cfg.Path and ensures the
// schema exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.applyDefaults()

	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite metadata store: path is required")
	}

	inMemory := cfg.Path == ":memory:"
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())
	if !inMemory {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if inMemory {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	s := &Store{db: bun.NewDB(sqlDB, sqlitedialect.New())}

	if err := s.createSchema(ctx); err != nil {
		_ = s.db.Close()
		return nil, err
	}

	logger.Debug("SQLite metadata store opened at %s", cfg.Path)
	return s, nil
}

func (s *Store) createSchema(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().
		Model((*directoryModel)(nil)).
		IfNotExists().
		ForeignKey(`("parent_id") REFERENCES "cloud_directories" ("id") ON DELETE CASCADE`).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create cloud_directories: %w", err)
	}

	if _, err := s.db.NewCreateTable().
		Model((*fileModel)(nil)).
		IfNotExists().
		ForeignKey(`("parent_id") REFERENCES "cloud_directories" ("id") ON DELETE CASCADE`).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create cloud_files: %w", err)
	}

	if _, err := s.db.NewCreateTable().
		Model((*auditModel)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create cloud_audit_log: %w", err)
	}

	// NULL parents never collide in a plain UNIQUE index, so root entries
	// are folded onto 0 (ids start at 1).
	indexes := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS cloud_directories_name_parent ON cloud_directories (name, IFNULL(parent_id, 0))`,
		`CREATE UNIQUE INDEX IF NOT EXISTS cloud_files_name_parent ON cloud_files (name, IFNULL(parent_id, 0))`,
		`CREATE INDEX IF NOT EXISTS cloud_directories_parent ON cloud_directories (parent_id)`,
		`CREATE INDEX IF NOT EXISTS cloud_files_parent ON cloud_files (parent_id)`,
	}
	for _, stmt := range indexes {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// withConn runs fn on a dedicated pooled connection, released on every exit
// path.
func (s *Store) withConn(ctx context.Context, fn func(conn bun.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(conn)
}

// parentClause matches parent_id against an optional id.
func parentClause(parent *int64) (string, []any) {
	if parent == nil {
		return "parent_id IS NULL", nil
	}
	return "parent_id = ?", []any{*parent}
}

func mapError(op, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return metadata.NotFound(name)
	case isUniqueViolation(err):
		return metadata.NewError(metadata.ErrAlreadyExists, name, err)
	case isForeignKeyViolation(err):
		return metadata.NewError(metadata.ErrConstraint, name, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return metadata.IOError(op, err)
	}
}

func (s *Store) LookupDirectory(ctx context.Context, parent *int64, name string) (*metadata.DirectoryRecord, error) {
	clause, args := parentClause(parent)

	model := new(directoryModel)
	err := withRetry(ctx, func() error {
		return s.withConn(ctx, func(conn bun.Conn) error {
			return conn.NewSelect().
				Model(model).
				Where("name = ?", name).
				Where(clause, args...).
				Limit(1).
				Scan(ctx)
		})
	})
	if err != nil {
		return nil, mapError("lookup directory", name, err)
	}
	return model.toRecord(), nil
}

func (s *Store) InsertDirectory(ctx context.Context, rec *metadata.DirectoryRecord) error {
	if rec.Name == "" {
		return metadata.NewError(metadata.ErrInvalidArgument, rec.Name, nil)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	model := &directoryModel{
		Name:      rec.Name,
		Owner:     rec.Owner,
		ParentID:  rec.ParentID,
		CreatedAt: rec.CreatedAt,
	}

	err := withRetry(ctx, func() error {
		return s.withConn(ctx, func(conn bun.Conn) error {
			_, err := conn.NewInsert().Model(model).Returning("id").Exec(ctx)
			return err
		})
	})
	if err != nil {
		return mapError("insert directory", rec.Name, err)
	}

	rec.ID = model.ID
	return nil
}

func (s *Store) DeleteDirectory(ctx context.Context, id int64) error {
	var affected int64
	err := withRetry(ctx, func() error {
		return s.withConn(ctx, func(conn bun.Conn) error {
			res, err := conn.NewDelete().
				Model((*directoryModel)(nil)).
				Where("id = ?", id).
				Exec(ctx)
			if err != nil {
				return err
			}
			affected, err = res.RowsAffected()
			return err
		})
	})
	if err != nil {
		return mapError("delete directory", "", err)
	}

	if affected == 0 {
		return metadata.NotFound(fmt.Sprintf("directory #%d", id))
	}
	return nil
}

func (s *Store) LookupFile(ctx context.Context, parent *int64, name string) (*metadata.FileRecord, error) {
	clause, args := parentClause(parent)

	model := new(fileModel)
	err := withRetry(ctx, func() error {
		return s.withConn(ctx, func(conn bun.Conn) error {
			return conn.NewSelect().
				Model(model).
				Where("name = ?", name).
				Where(clause, args...).
				Limit(1).
				Scan(ctx)
		})
	})
	if err != nil {
		return nil, mapError("lookup file", name, err)
	}
	return model.toRecord(), nil
}

func (s *Store) ReplaceFile(ctx context.Context, rec *metadata.FileRecord) error {
	if rec.Name == "" {
		return metadata.NewError(metadata.ErrInvalidArgument, rec.Name, nil)
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.ModifiedAt.IsZero() {
		rec.ModifiedAt = now
	}

	model := &fileModel{
		Name:       rec.Name,
		Owner:      rec.Owner,
		ParentID:   rec.ParentID,
		Size:       rec.Size,
		Type:       rec.Type,
		Checksum:   rec.Checksum,
		CreatedAt:  rec.CreatedAt,
		ModifiedAt: rec.ModifiedAt,
	}
	clause, args := parentClause(rec.ParentID)

	err := withRetry(ctx, func() error {
		return s.withConn(ctx, func(conn bun.Conn) error {
			return conn.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
				if _, err := tx.NewDelete().
					Model((*fileModel)(nil)).
					Where("name = ?", rec.Name).
					Where(clause, args...).
					Exec(ctx); err != nil {
					return err
				}
				_, err := tx.NewInsert().Model(model).Returning("id").Exec(ctx)
				return err
			})
		})
	})
	if err != nil {
		return mapError("replace file", rec.Name, err)
	}

	rec.ID = model.ID
	return nil
}

func (s *Store) DeleteFile(ctx context.Context, parent *int64, name string) error {
	clause, args := parentClause(parent)

	var affected int64
	err := withRetry(ctx, func() error {
		return s.withConn(ctx, func(conn bun.Conn) error {
			res, err := conn.NewDelete().
				Model((*fileModel)(nil)).
				Where("name = ?", name).
				Where(clause, args...).
				Exec(ctx)
			if err != nil {
				return err
			}
			affected, err = res.RowsAffected()
			return err
		})
	})
	if err != nil {
		return mapError("delete file", name, err)
	}

	if affected == 0 {
		return metadata.NotFound(name)
	}
	return nil
}

func (s *Store) ListDirectories(ctx context.Context) ([]metadata.DirectoryRecord, error) {
	var models []directoryModel
	err := withRetry(ctx, func() error {
		models = models[:0]
		return s.withConn(ctx, func(conn bun.Conn) error {
			return conn.NewSelect().Model(&models).Order("id ASC").Scan(ctx)
		})
	})
	if err != nil {
		return nil, mapError("list directories", "", err)
	}

	out := make([]metadata.DirectoryRecord, 0, len(models))
	for i := range models {
		out = append(out, *models[i].toRecord())
	}
	return out, nil
}

func (s *Store) ListFiles(ctx context.Context) ([]metadata.FileRecord, error) {
	var models []fileModel
	err := withRetry(ctx, func() error {
		models = models[:0]
		return s.withConn(ctx, func(conn bun.Conn) error {
			return conn.NewSelect().Model(&models).Order("id ASC").Scan(ctx)
		})
	})
	if err != nil {
		return nil, mapError("list files", "", err)
	}

	out := make([]metadata.FileRecord, 0, len(models))
	for i := range models {
		out = append(out, *models[i].toRecord())
	}
	return out, nil
}

func (s *Store) AppendAudit(ctx context.Context, rec *metadata.AuditRecord) error {
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}

	model := &auditModel{
		SessionID: rec.SessionID,
		UserID:    rec.UserID,
		Path:      rec.Path,
		Operation: rec.Operation,
		Outcome:   rec.Outcome,
		Bytes:     rec.Bytes,
		At:        rec.At,
	}

	err := withRetry(ctx, func() error {
		return s.withConn(ctx, func(conn bun.Conn) error {
			_, err := conn.NewInsert().Model(model).Returning("id").Exec(ctx)
			return err
		})
	})
	if err != nil {
		return mapError("append audit", rec.Path, err)
	}

	rec.ID = model.ID
	return nil
}

func (s *Store) ListAudit(ctx context.Context, limit int) ([]metadata.AuditRecord, error) {
	var models []auditModel
	err := withRetry(ctx, func() error {
		models = models[:0]
		return s.withConn(ctx, func(conn bun.Conn) error {
			q := conn.NewSelect().Model(&models).Order("id DESC")
			if limit > 0 {
				q = q.Limit(limit)
			}
			return q.Scan(ctx)
		})
	})
	if err != nil {
		return nil, mapError("list audit", "", err)
	}

	out := make([]metadata.AuditRecord, 0, len(models))
	for i := range models {
		out = append(out, models[i].toRecord())
	}
	return out, nil
}

func (s *Store) Healthcheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return metadata.IOError("healthcheck", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
