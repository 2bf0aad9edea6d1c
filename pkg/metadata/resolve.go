package metadata

import (
	"context"
	"path"
	"strings"

	"github.com/marmos91/dittostore/internal/logger"
)

// CleanPath normalizes a client supplied relative path. The result never
// starts with a slash and never escapes the cloud folder; the root is "".
func CleanPath(p string) (string, error) {
	if strings.ContainsRune(p, 0) {
		return "", NewError(ErrInvalidArgument, p, nil)
	}
	p = strings.ReplaceAll(p, "\\", "/")
	cleaned := strings.TrimPrefix(path.Clean("/"+p), "/")
	return cleaned, nil
}

// Segments splits a cleaned path into its components.
func Segments(cleaned string) []string {
	if cleaned == "" {
		return nil
	}
	return strings.Split(cleaned, "/")
}

// Split returns the parent path and the last segment of a cleaned path.
func Split(cleaned string) (parent, name string) {
	i := strings.LastIndexByte(cleaned, '/')
	if i < 0 {
		return "", cleaned
	}
	return cleaned[:i], cleaned[i+1:]
}

// Resolution is the outcome of ResolveDirectory.
type Resolution struct {
	// ID is the directory id, nil for the root.
	ID *int64

	// Owner is the owner of the resolved directory, nil for the root or
	// for directories created anonymously.
	Owner *int64
}

// IsRoot reports whether the resolution points at the cloud folder itself.
func (r Resolution) IsRoot() bool {
	return r.ID == nil
}

// ResolveDirectory walks dirPath segment by segment from the root, looking up
// (segment, current id) at each step. It has no side effects.
//
// A missing segment is logged and returned as ErrNotFound; callers treat it
// as "directory not found".
func ResolveDirectory(ctx context.Context, store Store, dirPath string) (Resolution, error) {
	cleaned, err := CleanPath(dirPath)
	if err != nil {
		return Resolution{}, err
	}

	var res Resolution
	for _, segment := range Segments(cleaned) {
		if err := ctx.Err(); err != nil {
			return Resolution{}, err
		}

		dir, err := store.LookupDirectory(ctx, res.ID, segment)
		if err != nil {
			if IsNotFound(err) {
				logger.Debug("Directory resolution failed: segment %q of %q not found", segment, cleaned)
				return Resolution{}, NotFound(cleaned)
			}
			return Resolution{}, err
		}

		res.ID = ID(dir.ID)
		res.Owner = dir.Owner
	}

	return res, nil
}
