package config

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/dittostore/pkg/content"
	contentfs "github.com/marmos91/dittostore/pkg/content/fs"
	contents3 "github.com/marmos91/dittostore/pkg/content/s3"
	"github.com/marmos91/dittostore/pkg/metadata"
	"github.com/marmos91/dittostore/pkg/metadata/badger"
	metadatamemory "github.com/marmos91/dittostore/pkg/metadata/memory"
	"github.com/marmos91/dittostore/pkg/metadata/sqlite"
)

// CreateContentStore creates the content store selected by cfg.Type.
//
// Supported types:
//   - "filesystem": pkg/content/fs rooted at the cloud folder
//   - "memory": pkg/content/fs over an in-memory filesystem
//   - "s3": pkg/content/s3 (Amazon S3 or compatible storage)
func CreateContentStore(ctx context.Context, cfg *ContentConfig) (content.Store, error) {
	switch cfg.Type {
	case "filesystem":
		var fsCfg contentfs.Config
		if err := decodeOptions(cfg.Filesystem, &fsCfg); err != nil {
			return nil, fmt.Errorf("invalid filesystem config: %w", err)
		}
		store, err := contentfs.New(fsCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create filesystem content store: %w", err)
		}
		return store, nil

	case "memory":
		return contentfs.NewMemory(), nil

	case "s3":
		var s3Cfg contents3.Config
		if err := decodeOptions(cfg.S3, &s3Cfg); err != nil {
			return nil, fmt.Errorf("invalid S3 config: %w", err)
		}
		if s3Cfg.Bucket == "" {
			return nil, fmt.Errorf("S3 bucket is required")
		}
		if s3Cfg.Region == "" {
			return nil, fmt.Errorf("S3 region is required")
		}
		store, err := contents3.New(ctx, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 content store: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown content store type: %q", cfg.Type)
	}
}

// CreateMetadataStore creates the metadata store selected by cfg.Type.
func CreateMetadataStore(ctx context.Context, cfg *MetadataConfig) (metadata.Store, error) {
	switch cfg.Type {
	case "sqlite":
		var sqlCfg sqlite.Config
		if err := decodeOptions(cfg.SQLite, &sqlCfg); err != nil {
			return nil, fmt.Errorf("invalid sqlite config: %w", err)
		}
		store, err := sqlite.New(ctx, sqlCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		return store, nil

	case "badger":
		var badgerCfg badger.Config
		if err := decodeOptions(cfg.Badger, &badgerCfg); err != nil {
			return nil, fmt.Errorf("invalid badger config: %w", err)
		}
		store, err := badger.New(ctx, badgerCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger database: %w", err)
		}
		return store, nil

	case "memory":
		var memCfg metadatamemory.Config
		if err := decodeOptions(cfg.Memory, &memCfg); err != nil {
			return nil, fmt.Errorf("invalid memory config: %w", err)
		}
		return metadatamemory.New(memCfg), nil

	default:
		return nil, fmt.Errorf("unknown metadata store type: %q", cfg.Type)
	}
}

// decodeOptions decodes a backend section into its Config type. Durations
// may be written as strings ("5s") and numbers may arrive as strings from
// environment overrides.
func decodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(options)
}
