package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/gbabichev/Twinalyzer-sub001/internal/embedding"
	"github.com/gbabichev/Twinalyzer-sub001/internal/report"
	"github.com/gbabichev/Twinalyzer-sub001/internal/scan"
)

var scanCmd = &cobra.Command{
	Use:   "scan <folder> [folder...]",
	Short: "Scan folders for duplicate and near-duplicate images",
	Long: `Scan one or more folder trees for duplicate images.

The scan will:
1. Find leaf folders (folders directly containing images)
2. Compute a signal per image (fingerprint hash or embedding vector)
3. Compare all pairs and group matches by reference image
4. Print grouped results, or export them as CSV/JSON

Examples:
  twinalyzer scan ./photos
  twinalyzer scan ./photos ./backup --threshold 0.85
  twinalyzer scan ./photos --mode embedding
  twinalyzer scan ./photos --top-level-only --ignore originals
  twinalyzer scan ./photos --csv report.csv`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScanCmd,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().Float64("threshold", 0.9, "Minimum similarity for a match (0-1)")
	scanCmd.Flags().String("mode", "", "Detection pipeline: fingerprint or embedding (default from config)")
	scanCmd.Flags().Bool("top-level-only", false, "Compare images within each folder only")
	scanCmd.Flags().String("ignore", "", "Folder name to exclude from discovery")
	scanCmd.Flags().Int("max-leaves", 0, "Cap on discovered leaf folders (default from config)")
	scanCmd.Flags().Int("workers", 0, "Number of parallel workers (default from config)")
	scanCmd.Flags().String("csv", "", "Write the flattened rows to a CSV file ('-' for stdout)")
	scanCmd.Flags().Bool("json", false, "Print grouped results as JSON")
}

func runScanCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	roots := make([]string, len(args))
	for i, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return fmt.Errorf("failed to resolve path: %w", err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("folder not found: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("not a directory: %s", abs)
		}
		roots[i] = abs
	}

	modeName := mustGetString(cmd, "mode")
	if modeName == "" {
		modeName = cfg.Scan.Mode
	}
	mode, err := scan.ParseMode(modeName)
	if err != nil {
		return err
	}

	scanCfg := scan.Config{
		Threshold:         mustGetFloat64(cmd, "threshold"),
		Mode:              mode,
		TopLevelOnly:      mustGetBool(cmd, "top-level-only"),
		IgnoredFolderName: mustGetString(cmd, "ignore"),
		MaxLeaves:         mustGetInt(cmd, "max-leaves"),
		Workers:           mustGetInt(cmd, "workers"),
	}
	if scanCfg.IgnoredFolderName == "" {
		scanCfg.IgnoredFolderName = cfg.Scan.IgnoredFolderName
	}
	if scanCfg.MaxLeaves == 0 {
		scanCfg.MaxLeaves = cfg.Scan.MaxLeaves
	}
	if scanCfg.Workers == 0 {
		scanCfg.Workers = cfg.Scan.Workers
	}

	scanner := scan.NewScanner(embedding.NewClipClient(cfg.Embedding.URL))

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription(fmt.Sprintf("Scanning (%s mode)", mode)),
		progressbar.OptionShowElapsedTimeOnFinish(),
		// No ETA: the bar holds at 99% through the pairing phase, which
		// would make any prediction nonsense.
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	results, err := scanner.Run(cmd.Context(), roots, scanCfg, func(p float64) {
		_ = bar.Set(int(p * 100))
	})
	fmt.Println() // New line after progress bar
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	rows := report.Flatten(results)
	stats := scanner.Stats()

	if path := mustGetString(cmd, "csv"); path != "" {
		if err := writeCSVOutput(path, rows); err != nil {
			return err
		}
	}

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	printResults(results)
	printSummary(stats, results, rows)
	return nil
}

func writeCSVOutput(path string, rows []report.TableRow) error {
	if path == "-" {
		return report.WriteCSV(os.Stdout, rows)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer f.Close()
	if err := report.WriteCSV(f, rows); err != nil {
		return fmt.Errorf("failed to write CSV: %w", err)
	}
	return nil
}

func printResults(results []report.Result) {
	if len(results) == 0 {
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, res := range results {
		fmt.Fprintf(w, "%s\n", res.Reference)
		for _, m := range res.Similars {
			if m.Path == res.Reference {
				continue
			}
			fmt.Fprintf(w, "  %s\t%.1f%%\n", m.Path, m.Similarity*100)
		}
	}
	w.Flush()
}

func printSummary(stats scan.Stats, results []report.Result, rows []report.TableRow) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	crossFolder := 0
	for _, row := range rows {
		if row.CrossFolder() {
			crossFolder++
		}
	}

	fmt.Println()
	fmt.Printf("%s\n", cyan("=== Scan Complete ==="))
	fmt.Printf("Folders scanned:  %d\n", stats.Leaves)
	fmt.Printf("Images processed: %d\n", stats.Processed)
	fmt.Printf("Match groups:     %s\n", green(fmt.Sprintf("%d", len(results))))
	fmt.Printf("Matched pairs:    %d (%d cross-folder)\n", len(rows), crossFolder)
	if stats.Failed > 0 {
		fmt.Printf("%s\n", yellow(fmt.Sprintf("Skipped %d unreadable image(s)", stats.Failed)))
	}
	if stats.Truncated {
		fmt.Printf("%s\n", yellow("Warning: folder discovery hit its cap; results may be incomplete"))
	}
}
