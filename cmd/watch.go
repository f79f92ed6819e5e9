package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/gbabichev/Twinalyzer-sub001/internal/embedding"
	"github.com/gbabichev/Twinalyzer-sub001/internal/report"
	"github.com/gbabichev/Twinalyzer-sub001/internal/scan"
)

var watchCmd = &cobra.Command{
	Use:   "watch <folder> [folder...]",
	Short: "Watch folders and rescan on changes",
	Long: `Watch folder trees for file changes and rerun the duplicate scan after
each quiet period, printing the updated match summary.

Examples:
  twinalyzer watch ./photos
  twinalyzer watch ./photos --threshold 0.85 --debounce 2s`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().Float64("threshold", 0.9, "Minimum similarity for a match (0-1)")
	watchCmd.Flags().String("mode", "", "Detection pipeline: fingerprint or embedding")
	watchCmd.Flags().Duration("debounce", time.Second, "Debounce window for batching changes")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	modeName := mustGetString(cmd, "mode")
	if modeName == "" {
		modeName = cfg.Scan.Mode
	}
	mode, err := scan.ParseMode(modeName)
	if err != nil {
		return err
	}

	roots := make([]string, len(args))
	for i, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return fmt.Errorf("failed to resolve path: %w", err)
		}
		if info, err := os.Stat(abs); err != nil || !info.IsDir() {
			return fmt.Errorf("not a directory: %s", abs)
		}
		roots[i] = abs
	}

	scanCfg := scan.Config{
		Threshold:         mustGetFloat64(cmd, "threshold"),
		Mode:              mode,
		IgnoredFolderName: cfg.Scan.IgnoredFolderName,
		MaxLeaves:         cfg.Scan.MaxLeaves,
		Workers:           cfg.Scan.Workers,
	}
	debounce := mustGetDuration(cmd, "debounce")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	for _, root := range roots {
		if err := addWatchDirs(watcher, root); err != nil {
			return fmt.Errorf("add watch dirs: %w", err)
		}
	}

	scanner := scan.NewScanner(embedding.NewClipClient(cfg.Embedding.URL))
	rescan := func() {
		results, err := scanner.Run(cmd.Context(), roots, scanCfg, nil)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "scan error: %v\n", err)
			return
		}
		rows := report.Flatten(results)
		fmt.Fprintf(cmd.OutOrStdout(), "[%s] %d group(s), %d matched pair(s)\n",
			time.Now().Format("15:04:05"), len(results), len(rows))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s for changes...\n", strings.Join(roots, ", "))
	rescan()

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-cmd.Context().Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if shouldIgnoreEvent(event) {
				continue
			}
			// New directories need their own watches.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = addWatchDirs(watcher, event.Name)
				}
			}
			if !pending {
				timer.Reset(debounce)
				pending = true
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "watch error: %v\n", err)
		case <-timer.C:
			pending = false
			rescan()
		}
	}
}

func addWatchDirs(watcher *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			base := filepath.Base(path)
			if strings.HasPrefix(base, ".") && path != root {
				return filepath.SkipDir
			}
			return watcher.Add(path)
		}
		return nil
	})
}

func shouldIgnoreEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return true
	}
	base := filepath.Base(event.Name)
	return strings.HasPrefix(base, ".")
}
