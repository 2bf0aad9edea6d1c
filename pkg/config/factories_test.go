package config

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	contentfs "github.com/marmos91/dittostore/pkg/content/fs"
	"github.com/marmos91/dittostore/pkg/metadata"
	"github.com/marmos91/dittostore/pkg/metadata/sqlite"
)

func TestCreateContentStore_Filesystem(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "cloud")

	store, err := CreateContentStore(ctx, &ContentConfig{
		Type:       "filesystem",
		Filesystem: map[string]any{"path": root},
	})
	if err != nil {
		t.Fatalf("Failed to create filesystem store: %v", err)
	}
	defer store.Close()

	if _, ok := store.(*contentfs.Store); !ok {
		t.Fatalf("Expected *fs.Store, got %T", store)
	}
	if err := store.Mkdir(ctx, "docs"); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
}

func TestCreateContentStore_Memory(t *testing.T) {
	store, err := CreateContentStore(context.Background(), &ContentConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("Failed to create memory store: %v", err)
	}
	if err := store.Mkdir(context.Background(), "docs"); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
}

func TestCreateContentStore_Errors(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ContentConfig
		wantErr string
	}{
		{"unknown type", ContentConfig{Type: "ftp"}, "unknown content store type"},
		{"filesystem without path", ContentConfig{Type: "filesystem"}, "path is required"},
		{"filesystem unknown key", ContentConfig{Type: "filesystem", Filesystem: map[string]any{"path": "/x", "pth": "/y"}}, "invalid filesystem config"},
		{"s3 without bucket", ContentConfig{Type: "s3", S3: map[string]any{"region": "us-east-1"}}, "bucket is required"},
		{"s3 without region", ContentConfig{Type: "s3", S3: map[string]any{"bucket": "b"}}, "region is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CreateContentStore(context.Background(), &tt.cfg)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestCreateMetadataStore(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		cfg  MetadataConfig
	}{
		{"memory", MetadataConfig{Type: "memory"}},
		{"sqlite", MetadataConfig{Type: "sqlite", SQLite: map[string]any{
			"path":         filepath.Join(dir, "metadata.db"),
			"busy_timeout": "2s",
		}}},
		{"badger", MetadataConfig{Type: "badger", Badger: map[string]any{
			"path":                filepath.Join(dir, "badger"),
			"block_cache_size_mb": "16",
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store, err := CreateMetadataStore(ctx, &tt.cfg)
			if err != nil {
				t.Fatalf("Failed to create %s store: %v", tt.name, err)
			}
			defer store.Close()

			rec := &metadata.DirectoryRecord{Name: "docs"}
			if err := store.InsertDirectory(ctx, rec); err != nil {
				t.Fatalf("InsertDirectory failed: %v", err)
			}
			if _, err := store.LookupDirectory(ctx, nil, "docs"); err != nil {
				t.Fatalf("LookupDirectory failed: %v", err)
			}
		})
	}
}

func TestCreateMetadataStore_UnknownType(t *testing.T) {
	_, err := CreateMetadataStore(context.Background(), &MetadataConfig{Type: "postgres"})
	if err == nil || !strings.Contains(err.Error(), "unknown metadata store type") {
		t.Fatalf("Expected unknown type error, got: %v", err)
	}
}

func TestDecodeOptions(t *testing.T) {
	var cfg sqlite.Config
	err := decodeOptions(map[string]any{
		"path":           "/tmp/x.db",
		"max_open_conns": "8",
		"busy_timeout":   "1500ms",
	}, &cfg)
	if err != nil {
		t.Fatalf("decodeOptions failed: %v", err)
	}

	if cfg.Path != "/tmp/x.db" || cfg.MaxOpenConns != 8 || cfg.BusyTimeout != 1500*time.Millisecond {
		t.Errorf("Unexpected decoded config %+v", cfg)
	}
}
