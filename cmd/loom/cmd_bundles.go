// Package main implements the testloom CLI commands.
// This file contains bundle listing and validation commands.
package main

import (
	"fmt"
	"strings"

	"testloom/internal/bundle"

	"github.com/spf13/cobra"
)

// =============================================================================
// BUNDLE COMMANDS - what exists on disk and whether it is whole
// =============================================================================

// bundlesCmd lists bundles and their health
var bundlesCmd = &cobra.Command{
	Use:   "bundles",
	Short: "List test bundles and their health",
	Long: `Lists every bundle under the bundle root with its state: complete,
incomplete (artifacts missing) or orphan-data (a data file whose bundle
directory is gone).

Subcommands:
  list      - List all bundles (default)
  show      - Show one bundle's meta record
  validate  - Validate one bundle, exit nonzero unless complete`,
	RunE: runBundlesList,
}

var bundlesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all bundles",
	RunE:  runBundlesList,
}

var bundlesShowCmd = &cobra.Command{
	Use:   "show <slug>",
	Short: "Show one bundle's meta record",
	Args:  cobra.ExactArgs(1),
	RunE:  runBundlesShow,
}

var bundlesValidateCmd = &cobra.Command{
	Use:   "validate <slug>",
	Short: "Validate one bundle, exit nonzero unless complete",
	Args:  cobra.ExactArgs(1),
	RunE:  runBundlesValidate,
}

func stateMarker(state bundle.State) string {
	switch state {
	case bundle.StateComplete:
		return "✅"
	case bundle.StateOrphanData:
		return "❓"
	default:
		return "⚠️ "
	}
}

func runBundlesList(cmd *cobra.Command, args []string) error {
	store := bundleStore()
	infos, err := store.List()
	if err != nil {
		return fmt.Errorf("failed to list bundles: %w", err)
	}
	if len(infos) == 0 {
		fmt.Printf("No bundles under %s\n", store.Root())
		fmt.Println("Record one with 'loom record <url>' and compile it with 'loom generate'.")
		return nil
	}

	fmt.Printf("📦 Test Bundles (%s)\n", store.Root())
	fmt.Println(strings.Repeat("─", 60))
	for _, info := range infos {
		line := fmt.Sprintf("  %s %-32s %s", stateMarker(info.State), info.Slug, info.State)
		if len(info.Missing) > 0 {
			line += "  missing: " + strings.Join(info.Missing, ", ")
		}
		if info.State == bundle.StateComplete && !info.HasData {
			line += "  (no data file)"
		}
		fmt.Println(line)
	}
	fmt.Println(strings.Repeat("─", 60))
	fmt.Printf("Total: %d bundle(s)\n", len(infos))
	return nil
}

func runBundlesShow(cmd *cobra.Command, args []string) error {
	slug := args[0]
	store := bundleStore()

	stored, err := store.Load(slug)
	if err != nil {
		return fmt.Errorf("failed to load bundle: %w", err)
	}

	fmt.Printf("📦 %s [%s]\n", stored.Slug, stored.State)
	fmt.Println(strings.Repeat("─", 60))
	if stored.Meta == nil {
		fmt.Println("  No meta record; the spec source exists but its meta.json is gone.")
	} else {
		meta := stored.Meta
		fmt.Printf("  Test:      %s\n", meta.TestName)
		if meta.Module != "" {
			fmt.Printf("  Module:    %s\n", meta.Module)
		}
		if meta.GeneratedAt != "" {
			fmt.Printf("  Generated: %s\n", meta.GeneratedAt)
		}
		if meta.LastRunAt != "" {
			fmt.Printf("  Last run:  %s (%s)\n", meta.LastRunAt, meta.LastStatus)
		}
		if len(meta.Parameters) > 0 {
			fmt.Println("  Parameters:")
			for _, p := range meta.Parameters {
				fmt.Printf("    %-24s %s\n", p.Name, p.Source)
			}
		}
		if len(meta.Steps) > 0 {
			fmt.Println("  Steps:")
			for i, s := range meta.Steps {
				fmt.Printf("    %2d  [%s] %s\n", i, s.Action, s.Hint)
			}
		}
		if len(meta.Assertions) > 0 {
			fmt.Println("  Assertions:")
			for _, a := range meta.Assertions {
				fmt.Printf("    - %s\n", a.Description)
			}
		}
	}

	if rows, err := store.LoadDataRows(slug); err == nil {
		fmt.Printf("  Data rows: %d\n", len(rows))
	}
	fmt.Println(strings.Repeat("─", 60))
	return nil
}

func runBundlesValidate(cmd *cobra.Command, args []string) error {
	slug := args[0]
	store := bundleStore()

	state, missing := store.Validate(slug)
	fmt.Printf("%s %s: %s\n", stateMarker(state), slug, state)
	for _, m := range missing {
		fmt.Printf("   missing: %s\n", m)
	}
	if state != bundle.StateComplete {
		return fmt.Errorf("bundle %s is %s", slug, state)
	}
	return nil
}

func init() {
	bundlesCmd.AddCommand(bundlesListCmd, bundlesShowCmd, bundlesValidateCmd)
	rootCmd.AddCommand(bundlesCmd)
}
