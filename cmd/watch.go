package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/helpthread/helpthread/internal/config"
)

// watch follows the local cache file and reports record-count changes, so a
// second terminal can observe tags and suggestions as they land.
func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch the local cache and report changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cacheFile := cfg.Client.CacheFile
			if cacheFile == "" {
				cacheFile = config.DefaultCacheFile
			}

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return err
			}
			defer watcher.Close()

			// Watch the directory: the store replaces the file via rename,
			// which drops a watch on the file itself.
			dir := filepath.Dir(cacheFile)
			if err := watcher.Add(dir); err != nil {
				return err
			}

			readStats := func() (int, int) {
				store := newLocalStore()
				defer store.Close()
				return store.Stats()
			}

			tagged, suggestions := readStats()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "watching %s (%d tagged emails, %d suggestions)\n",
				cacheFile, tagged, suggestions)

			ctx := cmd.Context()
			for {
				select {
				case <-ctx.Done():
					return nil
				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if filepath.Clean(event.Name) != filepath.Clean(cacheFile) {
						continue
					}
					if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
						continue
					}
					newTagged, newSuggestions := readStats()
					if newTagged == tagged && newSuggestions == suggestions {
						continue
					}
					fmt.Fprintf(out, "cache changed: %d tagged emails (%+d), %d suggestions (%+d)\n",
						newTagged, newTagged-tagged, newSuggestions, newSuggestions-suggestions)
					tagged, suggestions = newTagged, newSuggestions
				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					logger.Warn("watch error", zap.Error(err))
				}
			}
		},
	}
}
