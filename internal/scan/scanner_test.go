package scan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gbabichev/Twinalyzer-sub001/internal/embedding"
	"github.com/gbabichev/Twinalyzer-sub001/internal/report"
)

func gradientJPEG(t *testing.T, seed int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			v := uint8((255*x/64 + seed*37) % 256)
			img.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
}

// progressRecorder collects callback values across worker goroutines.
type progressRecorder struct {
	mu     sync.Mutex
	values []float64
}

func (r *progressRecorder) record(v float64) {
	r.mu.Lock()
	r.values = append(r.values, v)
	r.mu.Unlock()
}

func (r *progressRecorder) snapshot() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.values...)
}

func TestScanner_FingerprintFindsCrossFolderDuplicate(t *testing.T) {
	root := t.TempDir()
	dup := gradientJPEG(t, 0)
	writeFile(t, filepath.Join(root, "a", "cat.jpg"), dup)
	writeFile(t, filepath.Join(root, "b", "cat_copy.jpg"), dup)
	writeFile(t, filepath.Join(root, "b", "other.jpg"), gradientJPEG(t, 3))

	scanner := NewScanner(nil)
	results, err := scanner.Run(context.Background(), []string{root}, Config{Threshold: 0.9}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("expected 1 result group, got %d", len(results))
	}
	rows := report.Flatten(results)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].Similarity != 1.0 {
		t.Errorf("expected similarity 1.0 for identical bytes, got %v", rows[0].Similarity)
	}
	if !rows[0].CrossFolder() {
		t.Error("expected cross-folder flag for images in different leaves")
	}

	stats := scanner.Stats()
	if stats.Leaves != 2 || stats.Discovered != 3 || stats.Processed != 3 || stats.Failed != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestScanner_RunsAreIdempotent(t *testing.T) {
	root := t.TempDir()
	dup := gradientJPEG(t, 0)
	writeFile(t, filepath.Join(root, "a", "1.jpg"), dup)
	writeFile(t, filepath.Join(root, "a", "2.jpg"), dup)
	writeFile(t, filepath.Join(root, "b", "3.jpg"), gradientJPEG(t, 2))

	scanner := NewScanner(nil)
	cfg := Config{Threshold: 0.9}

	first, err := scanner.Run(context.Background(), []string{root}, cfg, nil)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	second, err := scanner.Run(context.Background(), []string{root}, cfg, nil)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	firstRows := report.Flatten(first)
	secondRows := report.Flatten(second)
	if len(firstRows) != len(secondRows) {
		t.Fatalf("run row counts differ: %d vs %d", len(firstRows), len(secondRows))
	}
	for i := range firstRows {
		if firstRows[i] != secondRows[i] {
			t.Errorf("row %d differs between runs: %+v vs %+v", i, firstRows[i], secondRows[i])
		}
	}
}

func TestScanner_TopLevelOnlyRestrictsComparison(t *testing.T) {
	root := t.TempDir()
	dup := gradientJPEG(t, 0)
	writeFile(t, filepath.Join(root, "a", "cat.jpg"), dup)
	writeFile(t, filepath.Join(root, "b", "cat.jpg"), dup)

	scanner := NewScanner(nil)

	global, err := scanner.Run(context.Background(), []string{root}, Config{Threshold: 0.9}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(global) != 1 {
		t.Fatalf("expected cross-leaf duplicate without restriction, got %d groups", len(global))
	}

	perLeaf, err := scanner.Run(context.Background(), []string{root}, Config{Threshold: 0.9, TopLevelOnly: true}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(perLeaf) != 0 {
		t.Errorf("expected no matches across leaves with TopLevelOnly, got %d groups", len(perLeaf))
	}
}

func TestScanner_UndecodableImageSkipped(t *testing.T) {
	root := t.TempDir()
	dup := gradientJPEG(t, 0)
	writeFile(t, filepath.Join(root, "a", "1.jpg"), dup)
	writeFile(t, filepath.Join(root, "a", "2.jpg"), dup)
	writeFile(t, filepath.Join(root, "a", "broken.jpg"), []byte("not a jpeg"))

	scanner := NewScanner(nil)
	results, err := scanner.Run(context.Background(), []string{root}, Config{Threshold: 0.9}, nil)
	if err != nil {
		t.Fatalf("expected broken image to be skipped, got error: %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("expected the valid pair to survive, got %d groups", len(results))
	}
	stats := scanner.Stats()
	if stats.Failed != 1 {
		t.Errorf("expected 1 failed image, got %d", stats.Failed)
	}
	if stats.Processed != 2 {
		t.Errorf("expected 2 processed images, got %d", stats.Processed)
	}
}

func TestScanner_ProgressTerminatesAtOne(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 12; i++ {
		writeFile(t, filepath.Join(root, "a", fmt.Sprintf("%02d.jpg", i)), gradientJPEG(t, i))
	}

	rec := &progressRecorder{}
	scanner := NewScanner(nil)
	if _, err := scanner.Run(context.Background(), []string{root}, Config{Threshold: 0.9}, rec.record); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	values := rec.snapshot()
	if len(values) == 0 {
		t.Fatal("expected at least the terminal progress value")
	}
	terminal := 0
	for i, v := range values {
		if v == 1.0 {
			terminal++
		}
		if i > 0 && v < values[i-1] {
			t.Errorf("progress regressed: %v after %v", v, values[i-1])
		}
		if v != 1.0 && v > 0.99 {
			t.Errorf("intermediate progress above cap: %v", v)
		}
	}
	if terminal != 1 {
		t.Errorf("expected exactly one terminal 1.0, got %d", terminal)
	}
	if values[len(values)-1] != 1.0 {
		t.Errorf("expected final value 1.0, got %v", values[len(values)-1])
	}
}

func TestScanner_CancelledBeforeStart(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a", "1.jpg"), gradientJPEG(t, 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := &progressRecorder{}
	scanner := NewScanner(nil)
	results, err := scanner.Run(ctx, []string{root}, Config{Threshold: 0.9}, rec.record)

	if err == nil {
		t.Error("expected context error from cancelled scan")
	}
	if results != nil {
		t.Errorf("expected no results from cancelled scan, got %d", len(results))
	}

	// Cancellation still drives progress to the terminal value, exactly once.
	values := rec.snapshot()
	if len(values) == 0 || values[len(values)-1] != 1.0 {
		t.Errorf("expected terminal 1.0 after cancellation, got %v", values)
	}
	terminal := 0
	for _, v := range values {
		if v == 1.0 {
			terminal++
		}
	}
	if terminal != 1 {
		t.Errorf("expected exactly one terminal 1.0, got %d", terminal)
	}
}

func TestScanner_CancelledMidScan(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 12; i++ {
		writeFile(t, filepath.Join(root, "a", fmt.Sprintf("%02d.jpg", i)), gradientJPEG(t, i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &progressRecorder{}
	scanner := NewScanner(nil)
	// Cancel from inside the first intermediate progress delivery, while
	// images are still being processed.
	results, err := scanner.Run(ctx, []string{root}, Config{Threshold: 0.9, Workers: 1}, func(p float64) {
		rec.record(p)
		if p < 1.0 {
			cancel()
		}
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled from mid-scan cancellation, got %v", err)
	}
	if results != nil {
		t.Errorf("expected no results from cancelled scan, got %d", len(results))
	}

	values := rec.snapshot()
	if len(values) == 0 || values[len(values)-1] != 1.0 {
		t.Fatalf("expected terminal 1.0 after cancellation, got %v", values)
	}
	terminal := 0
	for i, v := range values {
		if v == 1.0 {
			terminal++
		}
		if i > 0 && v < values[i-1] {
			t.Errorf("progress regressed: %v after %v", v, values[i-1])
		}
	}
	if terminal != 1 {
		t.Errorf("expected exactly one terminal 1.0, got %d", terminal)
	}
}

// blockingExtractor parks every extraction until its context is cancelled and
// signals once the first one has begun.
type blockingExtractor struct {
	started chan struct{}
	once    sync.Once
}

func (b *blockingExtractor) Extract(ctx context.Context, path string) ([]float32, error) {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *blockingExtractor) Distance(x, y []float32) float64 {
	return embedding.CosineDistance(x, y)
}

func TestScanner_NewRunCancelsPrevious(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a", "1.jpg"), gradientJPEG(t, 0))
	writeFile(t, filepath.Join(root, "a", "2.jpg"), gradientJPEG(t, 1))

	ext := &blockingExtractor{started: make(chan struct{})}
	scanner := NewScanner(ext)

	type runResult struct {
		results []report.Result
		err     error
	}
	firstDone := make(chan runResult, 1)
	go func() {
		res, err := scanner.Run(context.Background(), []string{root},
			Config{Threshold: 0.9, Mode: ModeEmbedding}, nil)
		firstDone <- runResult{res, err}
	}()

	// Wait until the first scan is parked inside extraction, then start a
	// second scan on the same scanner.
	<-ext.started
	if _, err := scanner.Run(context.Background(), []string{root}, Config{Threshold: 0.9}, nil); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	first := <-firstDone
	if !errors.Is(first.err, context.Canceled) {
		t.Errorf("expected first run to be cancelled by the second, got %v", first.err)
	}
	if first.results != nil {
		t.Errorf("expected no results from the cancelled run, got %d", len(first.results))
	}
}

func TestScanner_EmptySelection(t *testing.T) {
	root := t.TempDir() // no images at all

	rec := &progressRecorder{}
	scanner := NewScanner(nil)
	results, err := scanner.Run(context.Background(), []string{root}, Config{Threshold: 0.9}, rec.record)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
	values := rec.snapshot()
	if len(values) != 1 || values[0] != 1.0 {
		t.Errorf("expected single terminal 1.0 for empty scan, got %v", values)
	}
}

// mapExtractor serves canned vectors keyed by file base name.
type mapExtractor struct {
	vectors map[string][]float32
}

func (m mapExtractor) Extract(ctx context.Context, path string) ([]float32, error) {
	vec, ok := m.vectors[filepath.Base(path)]
	if !ok {
		return nil, fmt.Errorf("no vector for %s", path)
	}
	return vec, nil
}

func (m mapExtractor) Distance(a, b []float32) float64 {
	return embedding.CosineDistance(a, b)
}

func TestScanner_EmbeddingMode(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a", "x.jpg"), gradientJPEG(t, 0))
	writeFile(t, filepath.Join(root, "a", "y.jpg"), gradientJPEG(t, 1))
	writeFile(t, filepath.Join(root, "b", "z.jpg"), gradientJPEG(t, 2))

	ext := mapExtractor{vectors: map[string][]float32{
		"x.jpg": {1, 0},
		"y.jpg": {1, 0},
		"z.jpg": {0, 1},
	}}

	scanner := NewScanner(ext)
	results, err := scanner.Run(context.Background(), []string{root}, Config{Threshold: 0.9, Mode: ModeEmbedding}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("expected 1 cluster, got %d", len(results))
	}
	if len(results[0].Similars) != 2 {
		t.Errorf("expected x and y in the cluster, got %+v", results[0].Similars)
	}
}

func TestScanner_EmbeddingModeRequiresExtractor(t *testing.T) {
	scanner := NewScanner(nil)
	_, err := scanner.Run(context.Background(), []string{t.TempDir()}, Config{Mode: ModeEmbedding}, nil)
	if err == nil {
		t.Error("expected error for embedding mode without an extractor")
	}
}

func TestScanner_ExtractionFailureSkipsImage(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a", "x.jpg"), gradientJPEG(t, 0))
	writeFile(t, filepath.Join(root, "a", "y.jpg"), gradientJPEG(t, 1))
	writeFile(t, filepath.Join(root, "a", "unknown.jpg"), gradientJPEG(t, 2))

	ext := mapExtractor{vectors: map[string][]float32{
		"x.jpg": {1, 0},
		"y.jpg": {1, 0},
	}}

	scanner := NewScanner(ext)
	results, err := scanner.Run(context.Background(), []string{root}, Config{Threshold: 0.9, Mode: ModeEmbedding}, nil)
	if err != nil {
		t.Fatalf("expected failed extraction to be skipped, got error: %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("expected the extractable pair to cluster, got %d groups", len(results))
	}
	if scanner.Stats().Failed != 1 {
		t.Errorf("expected 1 failed image, got %d", scanner.Stats().Failed)
	}
}
