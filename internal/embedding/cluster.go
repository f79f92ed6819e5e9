package embedding

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/gbabichev/Twinalyzer-sub001/internal/report"
)

// exactEps is the similarity above which two images are treated as exact
// duplicates: it triggers the deterministic reference tie-break and clamps
// the displayed score to 100%.
const exactEps = 0.9995

// Cluster sweeps the similarity graph once and emits non-overlapping groups
// of two or more similar images. paths and vectors are parallel arrays in
// discovery order.
//
// The sweep seeds a cluster at the first unclustered image and attaches every
// later unclustered image whose similarity to the seed meets the threshold.
// The result is a star around the seed, not a strict clique: two members may
// fall below the threshold relative to each other while both qualifying
// relative to the seed. Per-member scores compensate by reporting the best
// similarity to any peer in the cluster.
func Cluster(ctx context.Context, paths []string, vectors [][]float32, threshold float64, ext Extractor) ([]report.Result, error) {
	n := len(paths)
	used := make([]bool, n)

	var results []report.Result
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if used[i] {
			continue
		}

		members := []int{i}
		for j := i + 1; j < n; j++ {
			if used[j] {
				continue
			}
			if Similarity(ext.Distance(vectors[i], vectors[j])) >= threshold {
				members = append(members, j)
				used[j] = true
			}
		}
		used[i] = true

		if len(members) < 2 {
			continue
		}
		results = append(results, buildResult(paths, vectors, members, ext))
	}
	return results, nil
}

// buildResult picks the cluster reference, scores every member, and emits the
// group with the reference anchored first at similarity 1.0.
func buildResult(paths []string, vectors [][]float32, members []int, ext Extractor) report.Result {
	m := len(members)

	// Pairwise similarities within the cluster.
	sims := make([][]float64, m)
	for a := range sims {
		sims[a] = make([]float64, m)
	}
	for a := 0; a < m; a++ {
		for b := a + 1; b < m; b++ {
			s := Similarity(ext.Distance(vectors[members[a]], vectors[members[b]]))
			sims[a][b] = s
			sims[b][a] = s
		}
	}

	// Reference selection: an exact-duplicate pair decides the reference via
	// the lexicographically smaller of its two paths; otherwise the smallest
	// path among all members wins.
	reference := ""
	for a := 0; a < m && reference == ""; a++ {
		for b := a + 1; b < m; b++ {
			if sims[a][b] >= exactEps {
				pa, pb := paths[members[a]], paths[members[b]]
				if pa < pb {
					reference = pa
				} else {
					reference = pb
				}
				break
			}
		}
	}
	if reference == "" {
		reference = paths[members[0]]
		for _, idx := range members[1:] {
			if paths[idx] < reference {
				reference = paths[idx]
			}
		}
	}

	similars := make([]report.Member, 0, m)
	similars = append(similars, report.Member{Path: reference, Similarity: 1.0})
	for a := 0; a < m; a++ {
		path := paths[members[a]]
		if path == reference {
			continue
		}
		best := 0.0
		for b := 0; b < m; b++ {
			if b != a && sims[a][b] > best {
				best = sims[a][b]
			}
		}
		if best >= exactEps {
			best = 1.0
		}
		similars = append(similars, report.Member{Path: path, Similarity: best})
	}

	// Keep the anchor first; sort the rest by descending score.
	rest := similars[1:]
	sort.SliceStable(rest, func(i, j int) bool {
		if rest[i].Similarity != rest[j].Similarity {
			return rest[i].Similarity > rest[j].Similarity
		}
		return rest[i].Path < rest[j].Path
	})

	return report.Result{
		ID:        uuid.NewString(),
		Reference: reference,
		Similars:  similars,
	}
}
