// Package fingerprint implements the fast local duplicate-detection pipeline:
// a 64-bit mean-brightness hash per image compared pairwise by Hamming
// distance.
package fingerprint

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"sort"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/gbabichev/Twinalyzer-sub001/internal/report"
)

const hashBits = 64

// Compute derives the 64-bit fingerprint of an image: downsample to an 8x8
// grayscale grid and set bit i when sample i is at or above the grid mean.
// The result is a pure function of the image bytes.
func Compute(imageData []byte) (uint64, error) {
	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return 0, fmt.Errorf("failed to decode image: %w", err)
	}

	gray := downsampleGray(img)

	var sum float64
	for _, v := range gray {
		sum += v
	}
	mean := sum / hashBits

	var hash uint64
	for i, v := range gray {
		if v >= mean {
			hash |= 1 << (63 - i)
		}
	}
	return hash, nil
}

// ComputeFile reads and fingerprints a single image file.
func ComputeFile(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Compute(data)
}

// downsampleGray scales an image to 8x8 and converts it to 64 grayscale
// samples in row-major order using the ITU-R BT.601 luma formula.
func downsampleGray(img image.Image) []float64 {
	dst := image.NewRGBA(image.Rect(0, 0, 8, 8))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)

	gray := make([]float64, 0, hashBits)
	for y := range 8 {
		for x := range 8 {
			r, g, b, _ := dst.At(x, y).RGBA()
			luma := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
			gray = append(gray, luma)
		}
	}
	return gray
}

// HammingDistance counts the differing bits between two fingerprints.
func HammingDistance(hash1, hash2 uint64) int {
	xor := hash1 ^ hash2
	distance := 0
	for xor != 0 {
		distance++
		xor &= xor - 1 // Clear lowest set bit
	}
	return distance
}

// MaxDistance converts a similarity threshold in [0, 1] to the maximum
// allowed Hamming distance between matching fingerprints.
func MaxDistance(threshold float64) int {
	d := int(math.Round((1 - threshold) * hashBits))
	if d < 0 {
		return 0
	}
	if d > hashBits {
		return hashBits
	}
	return d
}

// ComparePairs runs the exhaustive pairwise comparison over fingerprinted
// images and returns every pair within maxDist bits, sorted by descending
// similarity. paths and hashes are parallel arrays; the comparison is a
// handful of integer ops per pair, so no spatial index is needed at the
// expected workload of tens of thousands of images.
func ComparePairs(ctx context.Context, paths []string, hashes []uint64, maxDist int) ([]report.Pair, error) {
	if len(paths) != len(hashes) {
		return nil, fmt.Errorf("mismatched inputs: %d paths, %d hashes", len(paths), len(hashes))
	}

	var pairs []report.Pair
	for i := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for j := i + 1; j < len(paths); j++ {
			dist := HammingDistance(hashes[i], hashes[j])
			if dist > maxDist {
				continue
			}
			pairs = append(pairs, report.Pair{
				Reference:  paths[i],
				Candidate:  paths[j],
				Similarity: 1 - float64(dist)/hashBits,
			})
		}
	}

	SortPairs(pairs)
	return pairs, nil
}

// SortPairs orders pairs by descending similarity with a path tie-break so
// two runs over the same inputs produce identical output.
func SortPairs(pairs []report.Pair) {
	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].Similarity != pairs[j].Similarity {
			return pairs[i].Similarity > pairs[j].Similarity
		}
		if pairs[i].Reference != pairs[j].Reference {
			return pairs[i].Reference < pairs[j].Reference
		}
		return pairs[i].Candidate < pairs[j].Candidate
	})
}
