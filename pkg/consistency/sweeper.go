// Package consistency reconciles the metadata store with the content store.
//
// The storage engine mutates content first and records metadata second, and
// a failure in between is not rolled back. The Sweeper runs periodically
// and repairs what such failures leave behind:
//
//   - file records whose content is missing or whose size differs from the
//     stored bytes are deleted
//   - directory records whose directory is gone are deleted together with
//     everything below them
//   - content with no record is reported, and removed when RemoveOrphans
//     is set
package consistency

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/content"
	"github.com/marmos91/dittostore/pkg/metadata"
	"github.com/marmos91/dittostore/pkg/metrics"
)

// Repair kinds reported to metrics.
const (
	RepairMissingContent   = "missing_content"
	RepairSizeMismatch     = "size_mismatch"
	RepairMissingDirectory = "missing_directory"
	RepairOrphanContent    = "orphan_content"
)

// Config controls the sweeper.
type Config struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Interval between sweeps (default 1h).
	Interval time.Duration `mapstructure:"interval" validate:"min=0" yaml:"interval"`

	// Timeout bounds a single sweep (default 10m).
	Timeout time.Duration `mapstructure:"timeout" validate:"min=0" yaml:"timeout"`

	// DryRun logs what would be repaired without changing anything.
	DryRun bool `mapstructure:"dry_run" yaml:"dry_run"`

	// RemoveOrphans deletes content that has no record. Off by default:
	// a file being uploaded has no record until the upload completes.
	RemoveOrphans bool `mapstructure:"remove_orphans" yaml:"remove_orphans"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Interval == 0 {
		c.Interval = time.Hour
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Minute
	}
}

// Sweeper periodically reconciles the two stores.
type Sweeper struct {
	meta    metadata.Store
	content content.Store
	config  Config
	metrics metrics.ConsistencyMetrics

	// mu serializes sweeps so RunNow never overlaps the worker.
	mu sync.Mutex

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
	started  bool
}

// New creates a sweeper. m may be nil.
func New(meta metadata.Store, store content.Store, config Config, m metrics.ConsistencyMetrics) *Sweeper {
	config.ApplyDefaults()
	if m == nil {
		m = metrics.NewConsistencyMetrics(nil)
	}
	return &Sweeper{
		meta:    meta,
		content: store,
		config:  config,
		metrics: m,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches the background worker. It does nothing when disabled.
func (s *Sweeper) Start() {
	if !s.config.Enabled {
		logger.Info("Consistency sweep disabled")
		return
	}

	logger.Info("Starting consistency sweep: interval=%s dry_run=%v remove_orphans=%v",
		s.config.Interval, s.config.DryRun, s.config.RemoveOrphans)

	s.started = true
	go s.worker()
}

// Stop ends the worker and waits for a running sweep until ctx expires.
func (s *Sweeper) Stop(ctx context.Context) error {
	if !s.started {
		return nil
	}

	s.stopOnce.Do(func() { close(s.stopCh) })

	select {
	case <-s.doneCh:
		logger.Info("Consistency sweep stopped")
		return nil
	case <-ctx.Done():
		logger.Warn("Consistency sweep shutdown timeout")
		return ctx.Err()
	}
}

// RunNow performs one sweep immediately.
func (s *Sweeper) RunNow(ctx context.Context) (*Stats, error) {
	logger.Info("Running consistency sweep (manual trigger)")
	return s.sweep(ctx)
}

func (s *Sweeper) worker() {
	defer close(s.doneCh)

	// base is cancelled on Stop so a running sweep ends early.
	base, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	go func() {
		select {
		case <-s.stopCh:
			cancelBase()
		case <-base.Done():
		}
	}()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(base, s.config.Timeout)
			stats, err := s.sweep(ctx)
			cancel()

			if err != nil {
				logger.Error("Consistency sweep failed: %v", err)
			} else {
				logger.Info("Consistency sweep completed: %s", stats.Summary())
			}

		case <-s.stopCh:
			return
		}
	}
}

// Stats summarizes one sweep.
type Stats struct {
	StartTime time.Time
	EndTime   time.Time

	Directories  int
	Files        int
	ContentFiles int

	MissingContent     int
	SizeMismatches     int
	MissingDirectories int
	OrphanContent      int

	// Repaired counts the repairs applied; always 0 in dry-run mode.
	Repaired int
	Failed   int
}

func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

func (s *Stats) Summary() string {
	return fmt.Sprintf("dirs=%d files=%d content=%d missing_content=%d size_mismatch=%d missing_dirs=%d orphans=%d repaired=%d failed=%d duration=%s",
		s.Directories, s.Files, s.ContentFiles, s.MissingContent, s.SizeMismatches,
		s.MissingDirectories, s.OrphanContent, s.Repaired, s.Failed, s.Duration())
}

func (s *Sweeper) sweep(ctx context.Context) (stats *Stats, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats = &Stats{StartTime: time.Now()}
	defer func() {
		stats.EndTime = time.Now()
		s.metrics.RecordSweep(stats.Duration(), err)
	}()

	dirs, err := s.meta.ListDirectories(ctx)
	if err != nil {
		return stats, fmt.Errorf("list directories: %w", err)
	}
	files, err := s.meta.ListFiles(ctx)
	if err != nil {
		return stats, fmt.Errorf("list files: %w", err)
	}
	stats.Directories = len(dirs)
	stats.Files = len(files)

	paths := directoryPaths(dirs)

	if err := s.sweepDirectories(ctx, dirs, paths, stats); err != nil {
		return stats, err
	}

	onDisk := make(map[string]int64)
	err = s.content.Walk(ctx, func(info content.Info) error {
		onDisk[info.Path] = info.Size
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("walk content: %w", err)
	}
	stats.ContentFiles = len(onDisk)

	recorded := make(map[string]struct{}, len(files))
	for i := range files {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		f := &files[i]
		dir, ok := parentPath(paths, f.ParentID)
		if !ok {
			// The parent was removed by the directory pass or its chain is
			// broken; the cascade already dropped the record.
			continue
		}
		p := content.Join(dir, f.Name)
		recorded[p] = struct{}{}

		size, exists := onDisk[p]
		switch {
		case !exists:
			stats.MissingContent++
			s.repairFile(ctx, f, p, RepairMissingContent, stats)
		case size != f.Size:
			stats.SizeMismatches++
			logger.Debug("Consistency: %q recorded with %d bytes, content has %d", p, f.Size, size)
			s.repairFile(ctx, f, p, RepairSizeMismatch, stats)
		}
	}

	orphans := make([]string, 0)
	for p := range onDisk {
		if _, ok := recorded[p]; !ok {
			orphans = append(orphans, p)
		}
	}
	sort.Strings(orphans)
	stats.OrphanContent = len(orphans)
	s.metrics.RecordRepairs(RepairOrphanContent, len(orphans))

	for _, p := range orphans {
		if s.config.DryRun || !s.config.RemoveOrphans {
			logger.Info("Consistency: content %q has no record", p)
			continue
		}
		if err := s.content.Remove(ctx, p); err != nil && !errors.Is(err, content.ErrNotFound) {
			logger.Warn("Consistency: failed to remove orphan %q: %v", p, err)
			stats.Failed++
			continue
		}
		logger.Info("Consistency: removed orphan content %q", p)
		stats.Repaired++
	}

	return stats, nil
}

// sweepDirectories drops directory records whose directory no longer
// exists. Parents are handled before children so a removed subtree is
// skipped as a whole.
func (s *Sweeper) sweepDirectories(ctx context.Context, dirs []metadata.DirectoryRecord, paths map[int64]string, stats *Stats) error {
	ordered := make([]metadata.DirectoryRecord, 0, len(dirs))
	for _, d := range dirs {
		if _, ok := paths[d.ID]; ok {
			ordered = append(ordered, d)
		}
	}
	sort.Slice(ordered, func(i, j int) bool {
		return strings.Count(paths[ordered[i].ID], "/") < strings.Count(paths[ordered[j].ID], "/")
	})

	removed := make([]string, 0)
	for _, d := range ordered {
		if err := ctx.Err(); err != nil {
			return err
		}

		p := paths[d.ID]
		if underAny(p, removed) {
			delete(paths, d.ID)
			continue
		}

		info, err := s.content.Stat(ctx, p)
		if err == nil && info.IsDir {
			continue
		}
		if err != nil && !errors.Is(err, content.ErrNotFound) {
			logger.Warn("Consistency: failed to stat directory %q: %v", p, err)
			stats.Failed++
			continue
		}

		stats.MissingDirectories++
		s.metrics.RecordRepairs(RepairMissingDirectory, 1)

		if s.config.DryRun {
			logger.Info("Consistency: DRY RUN - would drop directory record %q", p)
		} else {
			if err := s.meta.DeleteDirectory(ctx, d.ID); err != nil && !metadata.IsNotFound(err) {
				logger.Warn("Consistency: failed to drop directory record %q: %v", p, err)
				stats.Failed++
				continue
			}
			logger.Info("Consistency: dropped directory record %q", p)
			stats.Repaired++
		}

		removed = append(removed, p)
		delete(paths, d.ID)
	}
	return nil
}

func (s *Sweeper) repairFile(ctx context.Context, f *metadata.FileRecord, p, kind string, stats *Stats) {
	s.metrics.RecordRepairs(kind, 1)

	if s.config.DryRun {
		logger.Info("Consistency: DRY RUN - would drop file record %q (%s)", p, kind)
		return
	}
	if err := s.meta.DeleteFile(ctx, f.ParentID, f.Name); err != nil && !metadata.IsNotFound(err) {
		logger.Warn("Consistency: failed to drop file record %q: %v", p, err)
		stats.Failed++
		return
	}

	logger.Info("Consistency: dropped file record %q (%s)", p, kind)
	stats.Repaired++
}

// directoryPaths maps every directory id whose parent chain reaches the
// root to its path.
func directoryPaths(dirs []metadata.DirectoryRecord) map[int64]string {
	byID := make(map[int64]*metadata.DirectoryRecord, len(dirs))
	for i := range dirs {
		byID[dirs[i].ID] = &dirs[i]
	}

	paths := make(map[int64]string, len(dirs))
	var resolve func(id int64, depth int) (string, bool)
	resolve = func(id int64, depth int) (string, bool) {
		if p, ok := paths[id]; ok {
			return p, true
		}
		d, ok := byID[id]
		if !ok || depth > len(dirs) {
			return "", false
		}
		if d.ParentID == nil {
			paths[id] = d.Name
			return d.Name, true
		}
		parent, ok := resolve(*d.ParentID, depth+1)
		if !ok {
			return "", false
		}
		p := parent + "/" + d.Name
		paths[id] = p
		return p, true
	}

	for id := range byID {
		resolve(id, 0)
	}
	return paths
}

func parentPath(paths map[int64]string, parent *int64) (string, bool) {
	if parent == nil {
		return "", true
	}
	p, ok := paths[*parent]
	return p, ok
}

func underAny(p string, roots []string) bool {
	for _, r := range roots {
		if strings.HasPrefix(p, r+"/") {
			return true
		}
	}
	return false
}
