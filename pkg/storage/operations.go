package storage

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/blake3"

	"github.com/marmos91/dittostore/internal/bufpool"
	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/internal/protocol/frame"
	"github.com/marmos91/dittostore/pkg/content"
	"github.com/marmos91/dittostore/pkg/fault"
	"github.com/marmos91/dittostore/pkg/metadata"
)

// fail writes status and returns a result carrying err. A failed reply
// replaces err, since it is the one that ends the connection.
func (e *Engine) fail(req *request, status, outcome string, err error) result {
	if werr := e.writeStatus(req, status); werr != nil {
		err = werr
	}
	return result{outcome: outcome, err: err}
}

func (e *Engine) succeed(req *request, bytes int64) result {
	if err := e.writeStatus(req, StatusSuccess); err != nil {
		return result{outcome: OutcomeError, bytes: bytes, err: err}
	}
	return result{outcome: OutcomeSuccess, bytes: bytes}
}

func (e *Engine) createDirectory(ctx context.Context, req *request) result {
	parent, name := metadata.Split(req.path)

	res, err := metadata.ResolveDirectory(ctx, e.meta, parent)
	if err != nil {
		return e.fail(req, StatusCreateDirError, OutcomeNotFound, storeFault("resolve parent", parent, err))
	}

	if err := e.content.Mkdir(ctx, req.path); err != nil {
		outcome := OutcomeError
		if errors.Is(err, content.ErrExists) {
			outcome = OutcomeInvalid
		}
		return e.fail(req, StatusCreateDirError, outcome, contentFault("mkdir", req.path, err))
	}

	rec := &metadata.DirectoryRecord{
		Name:      name,
		Owner:     req.userID,
		ParentID:  res.ID,
		CreatedAt: e.now(),
	}
	if err := e.meta.InsertDirectory(ctx, rec); err != nil {
		return e.fail(req, StatusCreateDirError, OutcomeError, storeFault("insert directory", req.path, err))
	}

	return e.succeed(req, 0)
}

func (e *Engine) writeFile(ctx context.Context, req *request) result {
	parent, name := metadata.Split(req.path)

	res, err := metadata.ResolveDirectory(ctx, e.meta, parent)
	if err != nil {
		return e.fail(req, StatusWriteFileError, OutcomeNotFound, storeFault("resolve parent", parent, err))
	}

	unlock := e.locks.Lock(req.path)
	defer unlock()

	w, err := e.content.Create(ctx, req.path)
	if err != nil {
		return e.fail(req, StatusWriteFileError, OutcomeError, contentFault("create", req.path, err))
	}

	hasher := blake3.New()
	sink := io.MultiWriter(w, hasher)

	written, err := e.stream(ctx, req, sink)
	e.metrics.RecordBytes("in", written)
	if err != nil {
		if abortErr := w.Abort(); abortErr != nil {
			logger.Warn("Failed to abort write of %q: %v", req.path, abortErr)
		}
		if fault.IsConnectionFatal(err, fault.StoragePlane) {
			return result{outcome: OutcomeAborted, bytes: written, err: err}
		}
		return e.fail(req, StatusWriteFileError, OutcomeError, err)
	}

	if err := w.Close(); err != nil {
		return e.fail(req, StatusWriteFileError, OutcomeError, contentFault("commit", req.path, err))
	}

	now := e.now()
	rec := &metadata.FileRecord{
		Name:       name,
		Owner:      req.userID,
		ParentID:   res.ID,
		Size:       req.size,
		Type:       metadata.FileType(name),
		Checksum:   hex.EncodeToString(hasher.Sum(nil)),
		CreatedAt:  now,
		ModifiedAt: now,
	}
	if err := e.meta.ReplaceFile(ctx, rec); err != nil {
		return e.fail(req, StatusWriteFileError, OutcomeError, storeFault("replace file", req.path, err))
	}

	e.metrics.RecordTransferSize("WRITE_FILE", written)
	return e.succeed(req, written)
}

// stream copies the initial bytes and then the rest of the payload into
// sink, one chunk per read, with a fresh deadline for every read.
func (e *Engine) stream(ctx context.Context, req *request, sink io.Writer) (int64, error) {
	var written int64

	if len(req.initial) > 0 {
		if _, err := sink.Write(req.initial); err != nil {
			return written, contentFault("write", req.path, err)
		}
		written += int64(len(req.initial))
	}

	if req.remaining == 0 {
		return written, nil
	}

	buf := bufpool.Get(e.cfg.ChunkSize)
	defer bufpool.Put(buf)

	for req.remaining > 0 {
		if err := ctx.Err(); err != nil {
			return written, fault.New(fault.Timeout, "stream", err).WithPath(req.path)
		}

		n := int(min(req.remaining, int64(len(buf))))
		if err := req.conn.SetReadDeadline(e.now().Add(e.cfg.ReadTimeout)); err != nil {
			return written, fault.New(fault.Framing, "set deadline", err)
		}
		if err := frame.ReadExact(req.conn, buf[:n], e.cfg.ChunkSize); err != nil {
			return written, err
		}
		if err := req.limiter.WaitN(ctx, n); err != nil {
			return written, fault.New(fault.Timeout, "throttle", err).WithPath(req.path)
		}

		if _, err := sink.Write(buf[:n]); err != nil {
			return written, contentFault("write", req.path, err)
		}
		written += int64(n)
		req.remaining -= int64(n)
	}
	return written, nil
}

func (e *Engine) deleteItem(ctx context.Context, req *request) result {
	if req.path == "" {
		return e.fail(req, e.deleteError(req), OutcomeInvalid,
			fault.Newf(fault.Authorization, "delete", "refusing to delete the cloud folder"))
	}

	unlock := e.locks.Lock(req.path)
	defer unlock()

	info, err := e.content.Stat(ctx, req.path)
	if err != nil {
		if errors.Is(err, content.ErrNotFound) {
			return e.fail(req, StatusItemNotFound, OutcomeNotFound, contentFault("stat", req.path, err))
		}
		return e.fail(req, e.deleteError(req), OutcomeError, contentFault("stat", req.path, err))
	}

	if info.IsDir {
		return e.deleteDirectory(ctx, req)
	}
	return e.deleteFile(ctx, req, info.Size)
}

func (e *Engine) deleteError(req *request) string {
	return fmt.Sprintf("%s (%s)", StatusDeleteError, req.path)
}

func (e *Engine) deleteDirectory(ctx context.Context, req *request) result {
	res, resolveErr := metadata.ResolveDirectory(ctx, e.meta, req.path)
	if resolveErr != nil && !metadata.IsNotFound(resolveErr) {
		return e.fail(req, e.deleteError(req), OutcomeError, storeFault("resolve directory", req.path, resolveErr))
	}

	if err := e.content.RemoveAll(ctx, req.path); err != nil {
		return e.fail(req, e.deleteError(req), OutcomeError, contentFault("remove all", req.path, err))
	}

	if resolveErr != nil {
		logger.Debug("Directory %q had no metadata record", req.path)
		return e.succeed(req, 0)
	}

	if err := e.meta.DeleteDirectory(ctx, *res.ID); err != nil && !metadata.IsNotFound(err) {
		return e.fail(req, e.deleteError(req), OutcomeError, storeFault("delete directory", req.path, err))
	}
	return e.succeed(req, 0)
}

func (e *Engine) deleteFile(ctx context.Context, req *request, size int64) result {
	parent, name := metadata.Split(req.path)

	res, resolveErr := metadata.ResolveDirectory(ctx, e.meta, parent)
	if resolveErr != nil && !metadata.IsNotFound(resolveErr) {
		return e.fail(req, e.deleteError(req), OutcomeError, storeFault("resolve parent", parent, resolveErr))
	}

	if err := e.content.Remove(ctx, req.path); err != nil {
		return e.fail(req, e.deleteError(req), OutcomeError, contentFault("remove", req.path, err))
	}

	if resolveErr == nil {
		if err := e.meta.DeleteFile(ctx, res.ID, name); err != nil {
			if !metadata.IsNotFound(err) {
				return e.fail(req, e.deleteError(req), OutcomeError, storeFault("delete file", req.path, err))
			}
			logger.Debug("File %q had no metadata record", req.path)
		}
	}
	return e.succeed(req, size)
}

func (e *Engine) readFile(ctx context.Context, req *request) result {
	invalid := func(err error) result {
		text := fmt.Sprintf(notAFile, req.path)
		if werr := e.writeReadError(req, text); werr != nil {
			err = werr
		}
		outcome := OutcomeInvalid
		if fault.Is(err, fault.NotFound) {
			outcome = OutcomeNotFound
		}
		return result{outcome: outcome, err: err}
	}

	parent, name := metadata.Split(req.path)
	res, err := metadata.ResolveDirectory(ctx, e.meta, parent)
	if err != nil {
		return invalid(storeFault("resolve parent", parent, err))
	}
	record, err := e.meta.LookupFile(ctx, res.ID, name)
	if err != nil {
		return invalid(storeFault("lookup file", req.path, err))
	}

	info, err := e.content.Stat(ctx, req.path)
	if err != nil {
		return invalid(contentFault("stat", req.path, err))
	}
	if info.IsDir {
		return invalid(fault.Newf(fault.NotFound, "stat", "is a directory").WithPath(req.path))
	}
	// The advertised size comes from the record; content that drifted from
	// it is left for the consistency sweep.
	if info.Size != record.Size {
		logger.Warn("File %q has %d content bytes but its record says %d", req.path, info.Size, record.Size)
		return invalid(fault.Newf(fault.Store, "read file", "size mismatch").WithPath(req.path))
	}

	r, err := e.content.Open(ctx, req.path)
	if err != nil {
		return invalid(contentFault("open", req.path, err))
	}
	defer func() { _ = r.Close() }()

	header, err := e.readHeader(record.Size)
	if err != nil {
		return invalid(fault.New(fault.Internal, "encode size", err))
	}

	sent, err := e.sendFile(ctx, req, header, r, record.Size)
	e.metrics.RecordBytes("out", sent)
	if err != nil {
		return result{outcome: OutcomeAborted, bytes: sent, err: err}
	}

	e.metrics.RecordTransferSize("READ_FILE", sent)
	return result{outcome: OutcomeSuccess, bytes: sent}
}

// sendFile writes header then exactly size bytes of r in read-block sized
// pieces, flushing every DrainEvery blocks.
func (e *Engine) sendFile(ctx context.Context, req *request, header []byte, r io.Reader, size int64) (int64, error) {
	bw := bufio.NewWriterSize(req.conn, e.cfg.ReadBlockSize)

	e.setWriteDeadline(req.conn)
	if _, err := bw.Write(header); err != nil {
		return 0, fault.New(fault.Framing, "write header", err)
	}

	block := bufpool.Get(e.cfg.ReadBlockSize)
	defer bufpool.Put(block)

	var sent int64
	blocks := 0
	for sent < size {
		if err := ctx.Err(); err != nil {
			return sent, fault.New(fault.Timeout, "send file", err).WithPath(req.path)
		}

		n := int(min(size-sent, int64(len(block))))
		if _, err := io.ReadFull(r, block[:n]); err != nil {
			return sent, fault.New(fault.Internal, "read content", err).WithPath(req.path)
		}
		if err := req.limiter.WaitN(ctx, n); err != nil {
			return sent, fault.New(fault.Timeout, "throttle", err).WithPath(req.path)
		}
		if _, err := bw.Write(block[:n]); err != nil {
			return sent, fault.New(fault.Framing, "send file", err)
		}
		sent += int64(n)

		blocks++
		if blocks%e.cfg.DrainEvery == 0 {
			if err := bw.Flush(); err != nil {
				return sent, fault.New(fault.Framing, "drain", err)
			}
			e.setWriteDeadline(req.conn)
		}
	}

	if err := bw.Flush(); err != nil {
		return sent, fault.New(fault.Framing, "drain", err)
	}
	return sent, nil
}

func (e *Engine) readTree(ctx context.Context, req *request) result {
	tree, err := e.content.Tree(ctx, req.path)
	if err != nil {
		text := fmt.Sprintf(notADirectory, req.path)
		cerr := contentFault("tree", req.path, err)
		if errors.Is(err, content.ErrNotDirectory) {
			cerr = fault.New(fault.NotFound, "tree", err).WithPath(req.path)
		}
		if werr := e.writeReadError(req, text); werr != nil {
			cerr = werr
		}
		outcome := OutcomeInvalid
		if errors.Is(err, content.ErrNotFound) {
			outcome = OutcomeNotFound
		}
		return result{outcome: outcome, err: cerr}
	}

	body, err := json.Marshal(tree)
	if err != nil {
		return result{outcome: OutcomeError, err: fault.New(fault.Serialization, "encode tree", err)}
	}

	header, err := e.readHeader(int64(len(body)))
	if err != nil {
		return result{outcome: OutcomeError, err: fault.New(fault.Internal, "encode size", err)}
	}

	e.setWriteDeadline(req.conn)
	if err := frame.WriteFull(req.conn, append(header, body...)); err != nil {
		return result{outcome: OutcomeError, err: fault.New(fault.Framing, "write tree", err)}
	}

	e.metrics.RecordBytes("out", int64(len(body)))
	return result{outcome: OutcomeSuccess, bytes: int64(len(body))}
}
