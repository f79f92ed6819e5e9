// Package scan orchestrates one duplicate-detection run: discovery, signal
// extraction, comparison, and result assembly, with throttled progress and
// cooperative cancellation.
package scan

import (
	"fmt"
	"strings"

	"github.com/gbabichev/Twinalyzer-sub001/internal/discovery"
)

// Mode selects which comparison pipeline a scan uses.
type Mode int

const (
	// ModeFingerprint is the fast local 64-bit hash pipeline.
	ModeFingerprint Mode = iota
	// ModeEmbedding is the vector-embedding pipeline.
	ModeEmbedding
)

// ParseMode maps a user-facing mode name to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fingerprint", "basic":
		return ModeFingerprint, nil
	case "embedding", "enhanced":
		return ModeEmbedding, nil
	default:
		return ModeFingerprint, fmt.Errorf("unknown mode %q (want fingerprint or embedding)", s)
	}
}

func (m Mode) String() string {
	switch m {
	case ModeEmbedding:
		return "embedding"
	default:
		return "fingerprint"
	}
}

const defaultWorkers = 5

// Config is the immutable snapshot of scan settings taken when a scan
// starts. Later edits never affect an in-flight scan.
type Config struct {
	// Threshold is the minimum similarity in [0, 1] for a match.
	Threshold float64
	// Mode picks the comparison pipeline.
	Mode Mode
	// TopLevelOnly restricts comparison to images within the same leaf folder.
	TopLevelOnly bool
	// IgnoredFolderName excludes folders with this name during discovery.
	IgnoredFolderName string
	// MaxLeaves caps discovery; zero means the discovery default.
	MaxLeaves int
	// Workers bounds concurrent per-image signal extraction.
	Workers int
}

// normalized clamps the threshold and fills worker defaults.
func (c Config) normalized() Config {
	if c.Threshold < 0 {
		c.Threshold = 0
	}
	if c.Threshold > 1 {
		c.Threshold = 1
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.MaxLeaves <= 0 {
		c.MaxLeaves = discovery.DefaultMaxLeaves
	}
	return c
}
