// Package discovery walks selected root directories and finds the leaf
// folders to scan: directories that directly contain image files.
package discovery

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMaxLeaves bounds how many leaf folders one discovery pass may
// collect before stopping early.
const DefaultMaxLeaves = 2000

// imageExtensions is the closed set of recognized image file extensions.
var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true,
	".heic": true, ".heif": true,
	".tiff": true, ".tif": true,
	".bmp": true, ".gif": true, ".webp": true,
	".dng": true, ".cr2": true, ".nef": true, ".arw": true,
}

// IsImageFile reports whether the file name carries a recognized image
// extension, compared case-insensitively.
func IsImageFile(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// Options controls one discovery pass.
type Options struct {
	// IgnoredFolderName excludes any folder with this case-insensitive name,
	// except a scan root itself. Surrounding whitespace is ignored.
	IgnoredFolderName string

	// MaxLeaves caps discovery; zero means DefaultMaxLeaves.
	MaxLeaves int
}

func (o Options) maxLeaves() int {
	if o.MaxLeaves <= 0 {
		return DefaultMaxLeaves
	}
	return o.MaxLeaves
}

// Leaf is a directory treated as a scan unit because it directly contains
// image files. Images are listed in directory order.
type Leaf struct {
	Path   string
	Images []string
}

// Normalize resolves a path to its canonical absolute form so folders have a
// single identity regardless of symlinks or relative segments.
func Normalize(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

// DiscoverLeaves walks root depth-first and returns every leaf folder found,
// plus whether the leaf cap cut discovery short. A folder with images is
// recorded as a leaf and its subdirectories are still visited for their own
// images. Hidden entries are skipped, as is any folder matching the ignored
// name (the root itself is exempt). Unreadable directories are skipped
// silently; they are never fatal to the scan.
func DiscoverLeaves(ctx context.Context, root string, opts Options) ([]Leaf, bool, error) {
	root = Normalize(root)
	ignored := strings.TrimSpace(opts.IgnoredFolderName)
	max := opts.maxLeaves()

	var leaves []Leaf
	truncated := false

	var walk func(dir string, isRoot bool) error
	walk = func(dir string, isRoot bool) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if truncated {
			return nil
		}
		if !isRoot && ignored != "" && strings.EqualFold(filepath.Base(dir), ignored) {
			return nil
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			// Permission errors and the like skip the directory.
			return nil
		}

		var images []string
		var subdirs []string
		for _, entry := range entries {
			name := entry.Name()
			if strings.HasPrefix(name, ".") {
				continue
			}
			if entry.IsDir() {
				subdirs = append(subdirs, filepath.Join(dir, name))
				continue
			}
			if IsImageFile(name) {
				images = append(images, filepath.Join(dir, name))
			}
		}

		if len(images) > 0 {
			leaves = append(leaves, Leaf{Path: dir, Images: images})
			if len(leaves) >= max {
				truncated = true
				return nil
			}
		}

		for _, sub := range subdirs {
			if err := walk(sub, false); err != nil {
				return err
			}
			if truncated {
				return nil
			}
		}
		return nil
	}

	if err := walk(root, true); err != nil {
		return nil, false, err
	}
	return leaves, truncated, nil
}
