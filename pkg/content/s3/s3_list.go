package s3

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/content"
)

// listPrefix calls fn for every object under prefix.
func (s *Store) listPrefix(ctx context.Context, prefix string, fn func(obj types.Object) error) error {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			if err := fn(obj); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) deleteBatch(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	ids := make([]types.ObjectIdentifier, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
	}

	out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return fmt.Errorf("failed to delete objects: %w", err)
	}
	if len(out.Errors) > 0 {
		first := out.Errors[0]
		return fmt.Errorf("failed to delete %d objects, first %s: %s",
			len(out.Errors), aws.ToString(first.Key), aws.ToString(first.Message))
	}
	return nil
}

// RemoveAll deletes p, its marker and every object below it, in batches.
func (s *Store) RemoveAll(ctx context.Context, p string) error {
	if p == "" {
		return fmt.Errorf("remove all: %w", content.ErrInvalidPath)
	}

	info, err := s.Stat(ctx, p)
	if err != nil {
		return err
	}
	if !info.IsDir {
		return s.Remove(ctx, p)
	}

	batch := make([]string, 0, deleteBatchSize)
	err = s.listPrefix(ctx, s.dirKey(p), func(obj types.Object) error {
		batch = append(batch, aws.ToString(obj.Key))
		if len(batch) == deleteBatchSize {
			if err := s.deleteBatch(ctx, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove all %s: %w", p, err)
	}

	if err := s.deleteBatch(ctx, batch); err != nil {
		return fmt.Errorf("remove all %s: %w", p, err)
	}
	return nil
}

// Tree rebuilds the nested listing from a flat key listing. Directory
// markers produce empty directories.
func (s *Store) Tree(ctx context.Context, p string) (content.Tree, error) {
	info, err := s.Stat(ctx, p)
	if err != nil {
		return nil, err
	}
	if !info.IsDir {
		return nil, fmt.Errorf("tree %s: %w", p, content.ErrNotDirectory)
	}

	prefix := s.dirKey(p)
	tree := content.Tree{}
	err = s.listPrefix(ctx, prefix, func(obj types.Object) error {
		rel := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
		if rel == "" {
			return nil
		}
		if strings.HasSuffix(rel, "/") {
			tree.Insert(strings.TrimSuffix(rel, "/"), true)
		} else {
			tree.Insert(rel, false)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("tree %s: %w", p, err)
	}
	return tree, nil
}

func (s *Store) Walk(ctx context.Context, fn content.WalkFunc) error {
	return s.listPrefix(ctx, s.keyPrefix, func(obj types.Object) error {
		key := aws.ToString(obj.Key)
		if strings.HasSuffix(key, "/") {
			return nil
		}
		rel := s.relative(key)
		if rel == "" {
			logger.Debug("Skipping object at bare key prefix %q", key)
			return nil
		}
		return fn(content.Info{
			Path: rel,
			Name: rel[strings.LastIndexByte(rel, '/')+1:],
			Size: aws.ToInt64(obj.Size),
		})
	})
}
