// Package main implements the testloom CLI commands.
// This file contains the bundle directory watcher command.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"testloom/internal/bundle"
	"testloom/internal/index"
	"testloom/internal/logging"

	"github.com/spf13/cobra"
)

// =============================================================================
// WATCH COMMAND - revalidate bundles edited outside the tool
// =============================================================================

var watchMarkStale bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the bundle root and revalidate on change",
	Long: `Watches the bundle root for edits made outside the tool. Each changed
bundle is revalidated and reported, so a spec whose meta went missing
or a data file whose bundle was deleted surfaces immediately.

With watcher.mark_stale enabled in config (or --mark-stale), the
locators of an externally edited bundle are flagged stale in the
maintenance-status store so they get re-verified before the next run.`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := bundleStore()

	var idx *index.Store
	if cfg.Watcher.MarkStale || watchMarkStale {
		var err error
		idx, err = openIndexStore()
		if err != nil {
			return err
		}
		defer idx.Close()
	}

	onChange := func(change bundle.Change) {
		fmt.Printf("%s %-32s %s (%s)\n",
			stateMarker(change.State), change.Slug, change.State, change.Op)

		// The startup sweep reports current states; only live edits mark
		// locators stale.
		if idx != nil && change.Op == "revalidate" {
			marked, err := idx.MarkBundleStale(change.Slug)
			if err != nil {
				logging.WatchWarn("stale marking for %s failed: %v", change.Slug, err)
			} else if marked > 0 {
				fmt.Printf("   marked %d locator(s) stale\n", marked)
			}
		}
	}

	watcher, err := bundle.NewWatcher(store, cfg.GetWatcherDebounce(), onChange)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	fmt.Printf("👀 Watching %s (Ctrl+C to stop)\n", store.Root())
	fmt.Println(strings.Repeat("─", 60))
	if err := watcher.RevalidateAll(); err != nil {
		logging.WatchWarn("initial sweep failed: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	watcher.Stop()

	stats := watcher.Stats()
	fmt.Println(strings.Repeat("─", 60))
	fmt.Printf("Events seen: %d   Revalidations: %d   Errors: %d\n",
		stats.EventsSeen, stats.Revalidations, stats.Errors)
	return nil
}

func init() {
	watchCmd.Flags().BoolVar(&watchMarkStale, "mark-stale", false, "Flag locators of edited bundles stale in the inventory")
	rootCmd.AddCommand(watchCmd)
}
