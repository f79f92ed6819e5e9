package scan

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/gbabichev/Twinalyzer-sub001/internal/discovery"
	"github.com/gbabichev/Twinalyzer-sub001/internal/embedding"
	"github.com/gbabichev/Twinalyzer-sub001/internal/fingerprint"
	"github.com/gbabichev/Twinalyzer-sub001/internal/report"
)

// Stats summarizes the last completed scan for consumer display.
type Stats struct {
	Leaves     int
	Discovered int
	Processed  int
	Failed     int
	Truncated  bool
}

// Scanner runs duplicate-detection scans. Only one scan is in flight at a
// time: starting a new one cancels and awaits any running scan first.
// The zero extractor is fine for fingerprint-only use.
type Scanner struct {
	extractor embedding.Extractor

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	statsMu sync.Mutex
	stats   Stats
}

// NewScanner creates a scanner. extractor may be nil if embedding mode is
// never requested.
func NewScanner(extractor embedding.Extractor) *Scanner {
	return &Scanner{extractor: extractor}
}

// Stats returns the summary of the most recently finished scan.
func (s *Scanner) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

// imageItem associates one discovered image with its leaf folder.
type imageItem struct {
	path string
	leaf int
}

// Run executes one scan over the given roots with a snapshot of cfg.
// onProgress may be nil; when set it is invoked from worker goroutines with
// monotonically non-decreasing values that terminate at exactly 1.0, including
// on cancellation. A cancelled scan returns the context error and no results.
func (s *Scanner) Run(ctx context.Context, roots []string, cfg Config, onProgress func(float64)) ([]report.Result, error) {
	cfg = cfg.normalized()
	if cfg.Mode == ModeEmbedding && s.extractor == nil {
		return nil, errors.New("embedding mode requires a feature extractor")
	}

	runCtx, end := s.begin(ctx)
	defer end()

	reporter := newProgressReporter(onProgress, 0)
	defer reporter.finish()

	sel := discovery.NewSelection()
	opts := discovery.Options{
		IgnoredFolderName: cfg.IgnoredFolderName,
		MaxLeaves:         cfg.MaxLeaves,
	}
	for _, root := range roots {
		if err := sel.AddRoot(runCtx, root, opts); err != nil {
			return nil, err
		}
	}

	leaves := sel.Leaves()
	var items []imageItem
	for li, leaf := range leaves {
		for _, img := range leaf.Images {
			items = append(items, imageItem{path: img, leaf: li})
		}
	}

	reporter.setTotal(len(items))

	stats := Stats{
		Leaves:     len(leaves),
		Discovered: len(items),
		Truncated:  sel.Truncated(),
	}
	defer func() {
		s.statsMu.Lock()
		s.stats = stats
		s.statsMu.Unlock()
	}()

	if len(items) == 0 {
		return nil, runCtx.Err()
	}

	var results []report.Result
	var failed atomic.Int64
	var err error
	switch cfg.Mode {
	case ModeEmbedding:
		results, err = s.runEmbedding(runCtx, cfg, items, len(leaves), reporter, &failed)
	default:
		results, err = s.runFingerprint(runCtx, cfg, items, len(leaves), reporter, &failed)
	}
	stats.Failed = int(failed.Load())
	stats.Processed = len(items) - stats.Failed
	if err == nil {
		// Extraction failures caused by cancellation are counted per item;
		// the run itself must still surface the context error.
		err = runCtx.Err()
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}

// runFingerprint hashes every image concurrently, then compares pairs
// single-threaded so the algorithm itself needs no synchronization.
func (s *Scanner) runFingerprint(ctx context.Context, cfg Config, items []imageItem, leafCount int, reporter *progressReporter, failed *atomic.Int64) ([]report.Result, error) {
	hashes := make([]uint64, len(items))
	valid := make([]bool, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for idx := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			h, err := fingerprint.ComputeFile(items[idx].path)
			if err != nil {
				// A single undecodable image never aborts the batch.
				failed.Add(1)
			} else {
				hashes[idx] = h
				valid[idx] = true
			}
			reporter.step()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	maxDist := fingerprint.MaxDistance(cfg.Threshold)
	var pairs []report.Pair
	for _, group := range groupIndexes(items, leafCount, cfg.TopLevelOnly) {
		var paths []string
		var groupHashes []uint64
		for _, idx := range group {
			if !valid[idx] {
				continue
			}
			paths = append(paths, items[idx].path)
			groupHashes = append(groupHashes, hashes[idx])
		}
		groupPairs, err := fingerprint.ComparePairs(ctx, paths, groupHashes, maxDist)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, groupPairs...)
	}
	fingerprint.SortPairs(pairs)
	return report.GroupPairs(pairs), nil
}

// runEmbedding extracts a feature vector per image concurrently, then
// clusters single-threaded.
func (s *Scanner) runEmbedding(ctx context.Context, cfg Config, items []imageItem, leafCount int, reporter *progressReporter, failed *atomic.Int64) ([]report.Result, error) {
	vectors := make([][]float32, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for idx := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			vec, err := s.extractor.Extract(gctx, items[idx].path)
			if err != nil {
				// Failed extraction drops the image from clustering.
				failed.Add(1)
			} else {
				vectors[idx] = vec
			}
			reporter.step()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var results []report.Result
	for _, group := range groupIndexes(items, leafCount, cfg.TopLevelOnly) {
		var paths []string
		var groupVecs [][]float32
		for _, idx := range group {
			if vectors[idx] == nil {
				continue
			}
			paths = append(paths, items[idx].path)
			groupVecs = append(groupVecs, vectors[idx])
		}
		clusters, err := embedding.Cluster(ctx, paths, groupVecs, cfg.Threshold, s.extractor)
		if err != nil {
			return nil, err
		}
		results = append(results, clusters...)
	}
	return results, nil
}

// groupIndexes partitions item indexes for the comparison pass: one group
// per leaf folder when topLevelOnly is set, otherwise a single global group
// in discovery order.
func groupIndexes(items []imageItem, leafCount int, topLevelOnly bool) [][]int {
	if !topLevelOnly {
		all := make([]int, len(items))
		for i := range items {
			all[i] = i
		}
		return [][]int{all}
	}
	groups := make([][]int, leafCount)
	for i, item := range items {
		groups[item.leaf] = append(groups[item.leaf], i)
	}
	return groups
}

// begin establishes this run as the single in-flight scan, cancelling and
// awaiting any previous one. The returned func tears the run down.
func (s *Scanner) begin(ctx context.Context) (context.Context, func()) {
	s.mu.Lock()
	for s.done != nil {
		cancel, done := s.cancel, s.done
		s.mu.Unlock()
		cancel()
		<-done
		s.mu.Lock()
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	s.mu.Unlock()

	return runCtx, func() {
		cancel()
		s.mu.Lock()
		if s.done == done {
			s.cancel, s.done = nil, nil
		}
		s.mu.Unlock()
		close(done)
	}
}
