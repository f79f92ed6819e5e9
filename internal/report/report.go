// Package report turns raw per-image comparison signals into the grouped
// result model shared by both detection pipelines, and flattens it for
// table display and CSV export.
package report

import (
	"encoding/csv"
	"io"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/google/uuid"
)

// Pair is a single reference/candidate match produced during pairwise
// comparison. Similarity is in [0, 1].
type Pair struct {
	Reference  string  `json:"reference"`
	Candidate  string  `json:"candidate"`
	Similarity float64 `json:"similarity"`
}

// Member is one entry in a result group.
type Member struct {
	Path       string  `json:"path"`
	Similarity float64 `json:"similarity"`
}

// Result groups one reference image with its similar images,
// sorted by descending similarity.
type Result struct {
	ID        string   `json:"id"`
	Reference string   `json:"reference"`
	Similars  []Member `json:"similars"`
}

// GroupPairs converts flat comparison pairs into result groups keyed by
// reference path. Members are sorted by descending similarity and groups by
// their best member similarity, so the strongest matches come first.
func GroupPairs(pairs []Pair) []Result {
	byRef := make(map[string][]Member)
	var order []string
	for _, p := range pairs {
		if _, ok := byRef[p.Reference]; !ok {
			order = append(order, p.Reference)
		}
		byRef[p.Reference] = append(byRef[p.Reference], Member{Path: p.Candidate, Similarity: p.Similarity})
	}

	results := make([]Result, 0, len(order))
	for _, ref := range order {
		members := byRef[ref]
		sort.SliceStable(members, func(i, j int) bool {
			if members[i].Similarity != members[j].Similarity {
				return members[i].Similarity > members[j].Similarity
			}
			return members[i].Path < members[j].Path
		})
		results = append(results, Result{
			ID:        uuid.NewString(),
			Reference: ref,
			Similars:  members,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := bestSimilarity(results[i]), bestSimilarity(results[j])
		if a != b {
			return a > b
		}
		return results[i].Reference < results[j].Reference
	})
	return results
}

func bestSimilarity(r Result) float64 {
	if len(r.Similars) == 0 {
		return 0
	}
	return r.Similars[0].Similarity
}

// TableRow is the flattened (reference, similar, similarity) view of one
// result member. The reference anchor entry is never flattened into a row.
type TableRow struct {
	Reference  string  `json:"reference"`
	Similar    string  `json:"similar"`
	Similarity float64 `json:"similarity"`
}

// ID returns the stable row identity, unique per (reference, similar) pair
// within one scan and unchanged across re-sorts.
func (r TableRow) ID() string {
	return r.Reference + "::" + r.Similar
}

// CrossFolder reports whether the two images live in different parent
// directories.
func (r TableRow) CrossFolder() bool {
	return filepath.Dir(r.Reference) != filepath.Dir(r.Similar)
}

// Percent returns the similarity as a percentage.
func (r TableRow) Percent() float64 {
	return r.Similarity * 100
}

// Flatten expands result groups into table rows, one per similar image.
// Entries whose path equals the group reference (the 100% anchor emitted by
// the clustering pipeline) are excluded.
func Flatten(results []Result) []TableRow {
	var rows []TableRow
	for _, res := range results {
		for _, m := range res.Similars {
			if m.Path == res.Reference {
				continue
			}
			rows = append(rows, TableRow{
				Reference:  res.Reference,
				Similar:    m.Path,
				Similarity: m.Similarity,
			})
		}
	}
	return rows
}

// Regroup reconstructs result groups from flattened rows. Flatten followed by
// Regroup yields an equivalent set of (reference, sorted similars) groups.
func Regroup(rows []TableRow) []Result {
	pairs := make([]Pair, len(rows))
	for i, row := range rows {
		pairs[i] = Pair{Reference: row.Reference, Candidate: row.Similar, Similarity: row.Similarity}
	}
	return GroupPairs(pairs)
}

// Set is the mutable in-memory view of one scan's results. The caller owns
// actual file deletion; Set only keeps the result model consistent.
type Set struct {
	results []Result
}

// NewSet wraps scan results for consistent mutation.
func NewSet(results []Result) *Set {
	return &Set{results: results}
}

// Results returns the current result groups.
func (s *Set) Results() []Result {
	return s.results
}

// Rows returns the flattened table view of the current results.
func (s *Set) Rows() []TableRow {
	return Flatten(s.results)
}

// RemoveImage drops every trace of path from the result model. A group loses
// the removed member; if the reference itself was removed, or fewer than two
// distinct images remain, the whole group is dropped.
func (s *Set) RemoveImage(path string) {
	kept := s.results[:0]
	for _, res := range s.results {
		if res.Reference == path {
			continue
		}
		members := res.Similars[:0]
		for _, m := range res.Similars {
			if m.Path == path {
				continue
			}
			members = append(members, m)
		}
		res.Similars = members

		remaining := 0
		for _, m := range res.Similars {
			if m.Path != res.Reference {
				remaining++
			}
		}
		if remaining == 0 {
			continue
		}
		kept = append(kept, res)
	}
	s.results = kept
}

// WriteCSV writes the flattened rows in the export interchange format.
// Field quoting follows standard CSV rules via encoding/csv.
func WriteCSV(w io.Writer, rows []TableRow) error {
	cw := csv.NewWriter(w)
	header := []string{"reference", "similar", "percent", "cross_folder", "reference_folder", "similar_folder"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{
			row.Reference,
			row.Similar,
			strconv.FormatFloat(row.Percent(), 'f', 1, 64),
			strconv.FormatBool(row.CrossFolder()),
			filepath.Dir(row.Reference),
			filepath.Dir(row.Similar),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
