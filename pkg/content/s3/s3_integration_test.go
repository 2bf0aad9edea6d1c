//go:build integration

package s3

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittostore/pkg/content"
	contenttesting "github.com/marmos91/dittostore/pkg/content/testing"
)

// Run with a Localstack container:
//
//	docker run --rm -p 4566:4566 localstack/localstack
//	go test -tags=integration ./pkg/content/s3/...
const testBucket = "dittostore-test-bucket"

func localstackConfig(prefix string) Config {
	endpoint := os.Getenv("LOCALSTACK_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:4566"
	}
	return Config{
		Region:          "us-east-1",
		Bucket:          testBucket,
		KeyPrefix:       prefix,
		Endpoint:        endpoint,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		PartSize:        minPartSize,
	}
}

func setupBucket(t *testing.T) *s3.Client {
	t.Helper()
	ctx := context.Background()

	client, err := NewClient(ctx, localstackConfig(""))
	require.NoError(t, err)

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(testBucket)}); err != nil {
		_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(testBucket)})
		require.NoError(t, err, "failed to create test bucket")
	}
	return client
}

// newTestStore returns a store isolated under a random key prefix that is
// emptied when the test ends.
func newTestStore(t *testing.T, client *s3.Client) *Store {
	t.Helper()
	ctx := context.Background()

	cfg := localstackConfig("test-" + uuid.NewString())
	store, err := NewWithClient(ctx, client, cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		var keys []string
		_ = store.listPrefix(ctx, store.keyPrefix, func(obj types.Object) error {
			keys = append(keys, aws.ToString(obj.Key))
			return nil
		})
		for len(keys) > 0 {
			n := min(len(keys), deleteBatchSize)
			_ = store.deleteBatch(ctx, keys[:n])
			keys = keys[n:]
		}
	})
	return store
}

func TestS3ContentStore_Integration(t *testing.T) {
	client := setupBucket(t)

	suite := &contenttesting.StoreTestSuite{
		NewStore: func(t *testing.T) content.Store {
			return newTestStore(t, client)
		},
	}
	suite.Run(t)
}

func TestS3MultipartUpload_Integration(t *testing.T) {
	client := setupBucket(t)
	store := newTestStore(t, client)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("0123456789abcdef"), (2*minPartSize+1024)/16)

	w, err := store.Create(ctx, "big.bin")
	require.NoError(t, err)
	for off := 0; off < len(payload); off += 1 << 20 {
		end := min(off+1<<20, len(payload))
		_, err := w.Write(payload[off:end])
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	sw := w.(*s3Writer)
	assert.Len(t, sw.parts, 3)

	r, err := store.Open(ctx, "big.bin")
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, len(payload), len(got))
	assert.True(t, bytes.Equal(payload, got))
}

func TestS3AbortDiscardsUpload_Integration(t *testing.T) {
	client := setupBucket(t)
	store := newTestStore(t, client)
	ctx := context.Background()

	w, err := store.Create(ctx, "aborted.bin")
	require.NoError(t, err)
	_, err = w.Write(bytes.Repeat([]byte{1}, minPartSize+1))
	require.NoError(t, err)
	require.NoError(t, w.Abort())

	_, err = store.Stat(ctx, "aborted.bin")
	assert.ErrorIs(t, err, content.ErrNotFound)
}
