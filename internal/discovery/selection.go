package discovery

import (
	"context"
	"path/filepath"
	"strings"
)

// Selection tracks the user-selected roots and the leaves discovered under
// them. Re-adding a root replaces only the leaves inside its subtree,
// preserving discovery state from unrelated roots.
type Selection struct {
	roots     []string
	leaves    []Leaf
	truncated bool
}

// NewSelection returns an empty selection.
func NewSelection() *Selection {
	return &Selection{}
}

// AddRoot discovers leaves under root and merges them into the selection.
// If the root was already selected, its previous leaves are dropped first
// (a targeted rescan).
func (s *Selection) AddRoot(ctx context.Context, root string, opts Options) error {
	root = Normalize(root)

	leaves, truncated, err := DiscoverLeaves(ctx, root, opts)
	if err != nil {
		return err
	}

	if s.hasRoot(root) {
		s.dropSubtree(root)
	} else {
		s.roots = append(s.roots, root)
	}
	s.leaves = append(s.leaves, leaves...)
	s.truncated = s.truncated || truncated
	return nil
}

// RemoveRoot forgets a root and every leaf under it.
func (s *Selection) RemoveRoot(root string) {
	root = Normalize(root)
	if !s.hasRoot(root) {
		return
	}
	s.dropSubtree(root)
	roots := s.roots[:0]
	for _, r := range s.roots {
		if r != root {
			roots = append(roots, r)
		}
	}
	s.roots = roots
}

// Roots returns the selected roots in selection order.
func (s *Selection) Roots() []string {
	return s.roots
}

// Leaves returns the discovered leaves in discovery order.
func (s *Selection) Leaves() []Leaf {
	return s.leaves
}

// Truncated reports whether any discovery pass hit the leaf cap.
func (s *Selection) Truncated() bool {
	return s.truncated
}

func (s *Selection) hasRoot(root string) bool {
	for _, r := range s.roots {
		if r == root {
			return true
		}
	}
	return false
}

func (s *Selection) dropSubtree(root string) {
	kept := s.leaves[:0]
	for _, leaf := range s.leaves {
		if !underRoot(leaf.Path, root) {
			kept = append(kept, leaf)
		}
	}
	s.leaves = kept
}

func underRoot(path, root string) bool {
	if path == root {
		return true
	}
	sep := string(filepath.Separator)
	if !strings.HasSuffix(root, sep) {
		root += sep
	}
	return strings.HasPrefix(path, root)
}
