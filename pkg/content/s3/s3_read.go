package s3

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/marmos91/dittostore/pkg/content"
)

// Open streams the object body. The caller must close it.
func (s *Store) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(p)),
	})
	if err != nil {
		if isNotFound(err) {
			if isDir, derr := s.dirExists(ctx, p); derr == nil && isDir {
				return nil, fmt.Errorf("open %s: %w", p, content.ErrIsDirectory)
			}
			return nil, fmt.Errorf("open %s: %w", p, content.ErrNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", p, err)
	}
	return out.Body, nil
}
