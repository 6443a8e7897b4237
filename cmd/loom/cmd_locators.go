// Package main implements the testloom CLI commands.
// This file contains locator inventory and maintenance commands.
package main

import (
	"context"
	"fmt"
	"strings"

	"testloom/internal/index"

	"github.com/spf13/cobra"
)

// =============================================================================
// LOCATOR COMMANDS - the cross-test locator inventory
// =============================================================================

var (
	locatorsStatusFilter string
	locatorsNote         string
)

// locatorsCmd surfaces the locator inventory
var locatorsCmd = &cobra.Command{
	Use:   "locators",
	Short: "Locator inventory and maintenance status",
	Long: `Every generated bundle records which locators it uses. The inventory
aggregates them across tests, so when the application UI changes you
can see exactly which tests a broken selector takes down.

Subcommands:
  list     - List the inventory (default)
  rebuild  - Rebuild the inventory from the bundles on disk
  status   - Mark a locator healthy, stale or broken
  rekey    - Move maintenance status to a renamed locator`,
	RunE: runLocatorsList,
}

var locatorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the locator inventory",
	RunE:  runLocatorsList,
}

var locatorsRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the inventory from the bundles on disk",
	RunE:  runLocatorsRebuild,
}

var locatorsStatusCmd = &cobra.Command{
	Use:   "status <strategy> <locator> <status>",
	Short: "Mark a locator healthy, stale or broken",
	Args:  cobra.ExactArgs(3),
	RunE:  runLocatorsStatus,
}

var locatorsRekeyCmd = &cobra.Command{
	Use:   "rekey <strategy> <old> <new>",
	Short: "Move maintenance status to a renamed locator",
	Args:  cobra.ExactArgs(3),
	RunE:  runLocatorsRekey,
}

func openIndexStore() (*index.Store, error) {
	idx, err := index.NewStore(indexDBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open locator inventory: %w", err)
	}
	return idx, nil
}

func runLocatorsList(cmd *cobra.Command, args []string) error {
	idx, err := openIndexStore()
	if err != nil {
		return err
	}
	defer idx.Close()

	records, err := idx.Records()
	if err != nil {
		return fmt.Errorf("failed to read inventory: %w", err)
	}

	if locatorsStatusFilter != "" {
		want := index.Status(locatorsStatusFilter)
		if !index.ValidStatus(want) {
			return fmt.Errorf("unknown status %q (want healthy, stale or broken)", locatorsStatusFilter)
		}
		filtered := records[:0]
		for _, r := range records {
			if r.Status == want {
				filtered = append(filtered, r)
			}
		}
		records = filtered
	}

	if len(records) == 0 {
		if locatorsStatusFilter != "" {
			fmt.Printf("No %s locators.\n", locatorsStatusFilter)
			return nil
		}
		fmt.Println("Locator inventory is empty. Run 'loom locators rebuild'.")
		return nil
	}

	fmt.Println("🔎 Locator Inventory")
	fmt.Println(strings.Repeat("─", 70))
	for _, r := range records {
		fmt.Printf("  %-12s %-36s x%-3d %s\n",
			r.StrategyType, truncate(r.Locator, 36), r.UsageCount, r.Status)
		fmt.Printf("      tests: %s\n", strings.Join(r.UsedInTests, ", "))
		if r.Note != "" {
			fmt.Printf("      note:  %s\n", r.Note)
		}
	}
	fmt.Println(strings.Repeat("─", 70))
	fmt.Printf("Total: %d locator(s)\n", len(records))
	return nil
}

func runLocatorsRebuild(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	builder := index.NewBuilder(bundleStore())
	usages, err := builder.Scan(ctx)
	if err != nil {
		return fmt.Errorf("inventory scan failed: %w", err)
	}

	idx, err := openIndexStore()
	if err != nil {
		return err
	}
	defer idx.Close()

	if err := idx.ReplaceAll(usages); err != nil {
		return fmt.Errorf("failed to store inventory: %w", err)
	}

	entries := index.Aggregate(usages)
	fmt.Printf("✅ Inventory rebuilt: %d locator(s) across %d usage row(s)\n", len(entries), len(usages))
	fmt.Printf("   Database: %s\n", idx.Path())
	return nil
}

func runLocatorsStatus(cmd *cobra.Command, args []string) error {
	strategyType, locatorText, status := args[0], args[1], index.Status(args[2])

	idx, err := openIndexStore()
	if err != nil {
		return err
	}
	defer idx.Close()

	if err := idx.SetStatus(strategyType, locatorText, status, locatorsNote); err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}
	fmt.Printf("✅ %s %q marked %s\n", strategyType, locatorText, status)
	return nil
}

func runLocatorsRekey(cmd *cobra.Command, args []string) error {
	strategyType, oldText, newText := args[0], args[1], args[2]

	idx, err := openIndexStore()
	if err != nil {
		return err
	}
	defer idx.Close()

	if err := idx.Rekey(strategyType, oldText, newText); err != nil {
		return fmt.Errorf("failed to rekey: %w", err)
	}
	fmt.Printf("✅ Maintenance status moved from %q to %q\n", oldText, newText)
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func init() {
	locatorsListCmd.Flags().StringVar(&locatorsStatusFilter, "status", "", "Only show locators with this status")
	locatorsCmd.Flags().StringVar(&locatorsStatusFilter, "status", "", "Only show locators with this status")
	locatorsStatusCmd.Flags().StringVar(&locatorsNote, "note", "", "Free-form note stored with the status")

	locatorsCmd.AddCommand(locatorsListCmd, locatorsRebuildCmd, locatorsStatusCmd, locatorsRekeyCmd)
	rootCmd.AddCommand(locatorsCmd)
}
