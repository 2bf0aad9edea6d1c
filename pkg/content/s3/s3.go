// Package s3 implements content.Store on Amazon S3 or an S3-compatible
// service.
//
// Object keys mirror the cloud folder: a file "docs/a.txt" is stored at
// "<prefix>docs/a.txt" and a directory "docs" is a zero-length marker object
// "<prefix>docs/". The bucket stays human-readable and the tree can be
// rebuilt from a listing.
package s3

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/content"
)

const (
	minPartSize     = 5 * 1024 * 1024
	maxPartSize     = 5 * 1024 * 1024 * 1024
	defaultPartSize = 10 * 1024 * 1024

	// DeleteObjects accepts at most 1000 keys per call.
	deleteBatchSize = 1000
)

// Config configures the S3 content store.
type Config struct {
	Region          string `mapstructure:"region" validate:"required"`
	Bucket          string `mapstructure:"bucket" validate:"required"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// PartSize is the multipart part size (default 10MB, 5MB to 5GB).
	PartSize int64 `mapstructure:"part_size"`

	// MaxRetries bounds the SDK retryer (default 10).
	MaxRetries int `mapstructure:"max_retries"`
}

// Store is an S3-backed content.Store.
type Store struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
	partSize  int64
}

var _ content.Store = (*Store)(nil)

// NewClient builds an S3 client from cfg. A custom endpoint (MinIO,
// Localstack) switches to path-style addressing.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	var opts []func(*awsConfig.LoadOptions) error

	opts = append(opts, awsConfig.WithRegion(cfg.Region))

	if cfg.Endpoint != "" {
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		resolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...any) (aws.Endpoint, error) {
				//nolint:staticcheck
				return aws.Endpoint{
					URL:               cfg.Endpoint,
					HostnameImmutable: true,
					Source:            aws.EndpointSourceCustom,
				}, nil
			},
		)
		//nolint:staticcheck
		opts = append(opts, awsConfig.WithEndpointResolverWithOptions(resolver))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	opts = append(opts, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.UsePathStyle = true
		}
	}), nil
}

// New builds a client from cfg and verifies bucket access.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 content store: bucket is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("S3 content store: region is required")
	}

	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := NewWithClient(ctx, client, cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("S3 content store initialized: bucket=%s, region=%s, prefix=%s",
		cfg.Bucket, cfg.Region, cfg.KeyPrefix)
	return store, nil
}

// NewWithClient wraps an existing client. The bucket must already exist.
func NewWithClient(ctx context.Context, client *s3.Client, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}

	partSize := cfg.PartSize
	if partSize == 0 {
		partSize = defaultPartSize
	}
	if partSize < minPartSize {
		return nil, fmt.Errorf("part size must be at least 5MB, got %d bytes", partSize)
	}
	if partSize > maxPartSize {
		return nil, fmt.Errorf("part size must be at most 5GB, got %d bytes", partSize)
	}

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	prefix := cfg.KeyPrefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &Store{
		client:    client,
		bucket:    cfg.Bucket,
		keyPrefix: prefix,
		partSize:  partSize,
	}, nil
}

// objectKey is the key of a file.
func (s *Store) objectKey(p string) string {
	return s.keyPrefix + p
}

// dirKey is the key of a directory marker; the root has no marker.
func (s *Store) dirKey(p string) string {
	if p == "" {
		return s.keyPrefix
	}
	return s.keyPrefix + p + "/"
}

// relative strips the key prefix from an object key.
func (s *Store) relative(key string) string {
	return strings.TrimPrefix(key, s.keyPrefix)
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

func (s *Store) objectExists(ctx context.Context, key string) (bool, int64, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	return true, aws.ToInt64(out.ContentLength), nil
}

// dirExists reports whether p has a marker or any object below it.
func (s *Store) dirExists(ctx context.Context, p string) (bool, error) {
	if p == "" {
		return true, nil
	}

	ok, _, err := s.objectExists(ctx, s.dirKey(p))
	if err != nil || ok {
		return ok, err
	}

	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.dirKey(p)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, err
	}
	return len(out.Contents) > 0, nil
}

func (s *Store) Mkdir(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	parent := ""
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		parent = p[:i]
	}
	ok, err := s.dirExists(ctx, parent)
	if err != nil {
		return fmt.Errorf("mkdir %s: %w", p, err)
	}
	if !ok {
		return fmt.Errorf("mkdir %s: %w", p, content.ErrNotDirectory)
	}

	if isFile, _, err := s.objectExists(ctx, s.objectKey(p)); err != nil {
		return fmt.Errorf("mkdir %s: %w", p, err)
	} else if isFile {
		return fmt.Errorf("mkdir %s: %w", p, content.ErrExists)
	}
	if isDir, err := s.dirExists(ctx, p); err != nil {
		return fmt.Errorf("mkdir %s: %w", p, err)
	} else if isDir {
		return fmt.Errorf("mkdir %s: %w", p, content.ErrExists)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.dirKey(p)),
		Body:   strings.NewReader(""),
	})
	if err != nil {
		return fmt.Errorf("mkdir %s: failed to write marker: %w", p, err)
	}
	return nil
}

func (s *Store) Stat(ctx context.Context, p string) (content.Info, error) {
	if err := ctx.Err(); err != nil {
		return content.Info{}, err
	}
	if p == "" {
		return content.Info{IsDir: true}, nil
	}

	name := p[strings.LastIndexByte(p, '/')+1:]

	ok, size, err := s.objectExists(ctx, s.objectKey(p))
	if err != nil {
		return content.Info{}, fmt.Errorf("stat %s: %w", p, err)
	}
	if ok {
		return content.Info{Path: p, Name: name, Size: size}, nil
	}

	isDir, err := s.dirExists(ctx, p)
	if err != nil {
		return content.Info{}, fmt.Errorf("stat %s: %w", p, err)
	}
	if isDir {
		return content.Info{Path: p, Name: name, IsDir: true}, nil
	}

	return content.Info{}, fmt.Errorf("stat %s: %w", p, content.ErrNotFound)
}

func (s *Store) Remove(ctx context.Context, p string) error {
	info, err := s.Stat(ctx, p)
	if err != nil {
		return err
	}
	if info.IsDir {
		return fmt.Errorf("remove %s: %w", p, content.ErrIsDirectory)
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(p)),
	})
	if err != nil {
		return fmt.Errorf("remove %s: %w", p, err)
	}
	return nil
}

func (s *Store) Close() error {
	return nil
}
