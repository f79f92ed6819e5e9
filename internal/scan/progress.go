package scan

import (
	"sync"
	"time"
)

const (
	// progressStride is how many processed images pass between reports.
	progressStride = 5
	// progressMinInterval is the shortest wall-clock gap between reports.
	progressMinInterval = 100 * time.Millisecond
)

// progressReporter throttles progress callbacks so the consumer is never
// flooded. Reported values are monotonically non-decreasing and reach 1.0
// exactly once, at or after completion.
type progressReporter struct {
	onProgress func(float64)
	total      int

	mu        sync.Mutex
	processed int
	lastEmit  time.Time
	lastValue float64
	finished  bool
}

func newProgressReporter(onProgress func(float64), total int) *progressReporter {
	return &progressReporter{onProgress: onProgress, total: total}
}

// setTotal records the image count once discovery has finished.
func (p *progressReporter) setTotal(total int) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.total = total
	p.mu.Unlock()
}

// step records one processed image and maybe emits a progress value.
// Intermediate values stay below 1.0; only finish reports the terminal value.
// The callback runs under the mutex so deliveries arrive in emission order.
func (p *progressReporter) step() {
	if p == nil || p.onProgress == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.processed++
	if p.finished || p.total == 0 || p.processed%progressStride != 0 || time.Since(p.lastEmit) < progressMinInterval {
		return
	}
	value := float64(p.processed) / float64(p.total)
	if value > 0.99 {
		value = 0.99
	}
	if value <= p.lastValue {
		return
	}
	p.lastValue = value
	p.lastEmit = time.Now()
	p.onProgress(value)
}

// finish emits the terminal 1.0, exactly once, even when the scan was
// cancelled or produced no work.
func (p *progressReporter) finish() {
	if p == nil || p.onProgress == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finished {
		return
	}
	p.finished = true
	p.onProgress(1.0)
}
