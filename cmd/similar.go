package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/gbabichev/Twinalyzer-sub001/internal/discovery"
	"github.com/gbabichev/Twinalyzer-sub001/internal/embedding"
	"github.com/gbabichev/Twinalyzer-sub001/internal/index"
)

var similarCmd = &cobra.Command{
	Use:   "similar <image>",
	Short: "Find images similar to a given image",
	Long: `Find images visually similar to the given image within a folder tree.

Embeddings are computed for every image under --root, indexed in-memory, and
the nearest neighbors of the query image are printed with their distances.

Requires a running embedding server (see TWINALYZER_EMBEDDING_URL).

Examples:
  twinalyzer similar ./photos/IMG_0001.jpg --root ./photos
  twinalyzer similar query.jpg --root ./archive --top 20 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runSimilar,
}

func init() {
	rootCmd.AddCommand(similarCmd)

	similarCmd.Flags().String("root", "", "Folder tree to search (required)")
	similarCmd.Flags().Int("top", 10, "Number of neighbors to return")
	similarCmd.Flags().Bool("json", false, "Output as JSON")
	_ = similarCmd.MarkFlagRequired("root")
}

// neighbor is one similar-image search hit.
type neighbor struct {
	Path       string  `json:"path"`
	Distance   float64 `json:"distance"`
	Similarity float64 `json:"similarity"`
}

func runSimilar(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	query, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	if _, err := os.Stat(query); err != nil {
		return fmt.Errorf("image not found: %w", err)
	}

	root := mustGetString(cmd, "root")
	ctx := cmd.Context()

	leaves, truncated, err := discovery.DiscoverLeaves(ctx, root, discovery.Options{
		IgnoredFolderName: cfg.Scan.IgnoredFolderName,
		MaxLeaves:         cfg.Scan.MaxLeaves,
	})
	if err != nil {
		return err
	}

	var images []string
	for _, leaf := range leaves {
		images = append(images, leaf.Images...)
	}
	if len(images) == 0 {
		return fmt.Errorf("no images found under %s", root)
	}

	extractor := embedding.NewClipClient(cfg.Embedding.URL)

	bar := progressbar.NewOptions(len(images),
		progressbar.OptionSetDescription("Indexing images"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionFullWidth(),
	)

	idx := index.New()
	skipped := 0
	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return err
		}
		vec, err := extractor.Extract(ctx, img)
		if err != nil {
			skipped++
		} else {
			idx.Add(img, vec)
		}
		_ = bar.Add(1)
	}
	fmt.Println()

	queryVec, err := extractor.Extract(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to embed query image: %w", err)
	}

	top := mustGetInt(cmd, "top")
	paths, distances, err := idx.Search(queryVec, top+1)
	if err != nil {
		return err
	}

	var neighbors []neighbor
	for i, p := range paths {
		if p == query {
			continue
		}
		neighbors = append(neighbors, neighbor{
			Path:       p,
			Distance:   distances[i],
			Similarity: embedding.Similarity(distances[i]),
		})
		if len(neighbors) == top {
			break
		}
	}

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(neighbors)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tDISTANCE\tSIMILARITY")
	for _, n := range neighbors {
		fmt.Fprintf(w, "%s\t%.4f\t%.1f%%\n", n.Path, n.Distance, n.Similarity*100)
	}
	w.Flush()

	if skipped > 0 {
		fmt.Printf("\nSkipped %d image(s) that failed embedding extraction\n", skipped)
	}
	if truncated {
		fmt.Println("Warning: folder discovery hit its cap; the index may be incomplete")
	}
	return nil
}
