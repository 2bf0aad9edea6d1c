package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/content"
)

// abortTimeout bounds cleanup calls made after the request context may
// already be gone.
const abortTimeout = 30 * time.Second

// Create returns a streaming writer. Content smaller than one part is sent
// with a single PutObject on Close; larger content becomes a multipart
// upload whose parts are sent as soon as they fill up, so memory stays
// around one part per writer.
func (s *Store) Create(ctx context.Context, p string) (content.Writer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if isDir, err := s.dirExists(ctx, p); err != nil {
		return nil, fmt.Errorf("create %s: %w", p, err)
	} else if isDir && p != "" {
		return nil, fmt.Errorf("create %s: %w", p, content.ErrIsDirectory)
	}

	return &s3Writer{
		store:    s,
		ctx:      ctx,
		key:      s.objectKey(p),
		buffer:   &bytes.Buffer{},
		partSize: s.partSize,
	}, nil
}

type s3Writer struct {
	store    *Store
	ctx      context.Context
	key      string
	buffer   *bytes.Buffer
	partSize int64

	uploadID string
	parts    []types.CompletedPart
	done     bool
	err      error
}

func (w *s3Writer) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	if w.done {
		return 0, fmt.Errorf("write to closed writer for %s", w.key)
	}

	n, _ := w.buffer.Write(p)

	for int64(w.buffer.Len()) >= w.partSize {
		if err := w.uploadPart(w.buffer.Next(int(w.partSize))); err != nil {
			w.err = err
			w.abortUpload()
			return n, err
		}
	}
	return n, nil
}

func (w *s3Writer) uploadPart(data []byte) error {
	if w.uploadID == "" {
		out, err := w.store.client.CreateMultipartUpload(w.ctx, &s3.CreateMultipartUploadInput{
			Bucket: aws.String(w.store.bucket),
			Key:    aws.String(w.key),
		})
		if err != nil {
			return fmt.Errorf("failed to create multipart upload: %w", err)
		}
		w.uploadID = aws.ToString(out.UploadId)
	}

	partNumber := int32(len(w.parts) + 1)
	out, err := w.store.client.UploadPart(w.ctx, &s3.UploadPartInput{
		Bucket:     aws.String(w.store.bucket),
		Key:        aws.String(w.key),
		UploadId:   aws.String(w.uploadID),
		PartNumber: aws.Int32(partNumber),
		Body:       bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to upload part %d: %w", partNumber, err)
	}

	w.parts = append(w.parts, types.CompletedPart{
		ETag:       out.ETag,
		PartNumber: aws.Int32(partNumber),
	})
	return nil
}

func (w *s3Writer) abortUpload() {
	if w.uploadID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), abortTimeout)
	defer cancel()

	_, err := w.store.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(w.store.bucket),
		Key:      aws.String(w.key),
		UploadId: aws.String(w.uploadID),
	})
	if err != nil && !isNoSuchUpload(err) {
		logger.Warn("Failed to abort multipart upload %s for %s: %v", w.uploadID, w.key, err)
	}
	w.uploadID = ""
}

func isNoSuchUpload(err error) bool {
	var noSuchUpload *types.NoSuchUpload
	return errors.As(err, &noSuchUpload)
}

// Close commits the object.
func (w *s3Writer) Close() error {
	if w.done {
		return w.err
	}
	w.done = true

	if w.err != nil {
		w.abortUpload()
		return w.err
	}

	if w.uploadID == "" {
		_, err := w.store.client.PutObject(w.ctx, &s3.PutObjectInput{
			Bucket: aws.String(w.store.bucket),
			Key:    aws.String(w.key),
			Body:   bytes.NewReader(w.buffer.Bytes()),
		})
		if err != nil {
			w.err = fmt.Errorf("failed to write object %s: %w", w.key, err)
		}
		return w.err
	}

	if w.buffer.Len() > 0 {
		if err := w.uploadPart(w.buffer.Bytes()); err != nil {
			w.err = err
			w.abortUpload()
			return err
		}
	}

	sort.Slice(w.parts, func(i, j int) bool {
		return aws.ToInt32(w.parts[i].PartNumber) < aws.ToInt32(w.parts[j].PartNumber)
	})

	_, err := w.store.client.CompleteMultipartUpload(w.ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(w.store.bucket),
		Key:             aws.String(w.key),
		UploadId:        aws.String(w.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: w.parts},
	})
	if err != nil {
		w.err = fmt.Errorf("failed to complete multipart upload: %w", err)
		w.abortUpload()
		return w.err
	}
	return nil
}

// Abort discards everything written so far; nothing becomes visible.
func (w *s3Writer) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	w.abortUpload()
	w.buffer.Reset()
	return nil
}
