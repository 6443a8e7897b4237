// Package main implements the testloom CLI commands.
// This file contains step-level spec editing commands.
package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"testloom/internal/bundle"
	"testloom/internal/diff"
	"testloom/internal/locator"
	"testloom/internal/recorder"

	"github.com/spf13/cobra"
)

// =============================================================================
// STEP COMMANDS - targeted edits on a generated spec
// =============================================================================

var (
	stepAction   string
	stepStrategy string
	stepSelector string
	stepValue    string
	stepAt       int
	stepThrough  int
	stepShowDiff bool
)

// stepCmd edits the steps of a generated spec
var stepCmd = &cobra.Command{
	Use:   "step",
	Short: "Edit the steps of a generated spec",
	Long: `Step-level edits on a generated spec source. Steps are addressed by
position as shown by 'loom step list'; everything outside the touched
step survives byte for byte, including hand-written code between steps.

Subcommands:
  list    - List the steps of a spec
  add     - Insert a step
  delete  - Remove a step
  update  - Replace a step's statement, keeping its marker
  move    - Move a step or a step range`,
	RunE: runStepList,
}

var stepListCmd = &cobra.Command{
	Use:   "list <slug>",
	Short: "List the steps of a spec",
	Args:  cobra.ExactArgs(1),
	RunE:  runStepList,
}

var stepAddCmd = &cobra.Command{
	Use:   "add <slug>",
	Short: "Insert a step",
	Long: `Inserts a step built from --action, --strategy, --selector and --value.
With --at the step lands before the given index; without it the step is
appended after the last one.

Examples:
  loom step add create-sales-order --action click --strategy role --selector 'button[name="Save"]'
  loom step add create-sales-order --action fill --strategy label --selector 'Notes' --value 'rush order' --at 2`,
	Args: cobra.ExactArgs(1),
	RunE: runStepAdd,
}

var stepDeleteCmd = &cobra.Command{
	Use:   "delete <slug> <index>",
	Short: "Remove a step",
	Args:  cobra.ExactArgs(2),
	RunE:  runStepDelete,
}

var stepUpdateCmd = &cobra.Command{
	Use:   "update <slug> <index>",
	Short: "Replace a step's statement, keeping its marker",
	Args:  cobra.ExactArgs(2),
	RunE:  runStepUpdate,
}

var stepMoveCmd = &cobra.Command{
	Use:   "move <slug> <from> <to>",
	Short: "Move a step or a step range",
	Long: `Moves the step at <from> so it becomes step <to>. With --through a
whole contiguous range [from, through] moves together, keeping its
internal order.`,
	Args: cobra.ExactArgs(3),
	RunE: runStepMove,
}

func runStepList(cmd *cobra.Command, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("a bundle slug is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	slug := args[0]
	updater := bundle.NewUpdater(bundleStore())
	defer updater.Close()

	blocks, err := updater.Steps(ctx, slug)
	if err != nil {
		return fmt.Errorf("failed to read steps: %w", err)
	}

	fmt.Printf("📋 Steps of %s\n", slug)
	fmt.Println(strings.Repeat("─", 50))
	for i, block := range blocks {
		fmt.Printf("  %2d  %s  %s\n", i, block.ID, block.Hint)
	}
	fmt.Println(strings.Repeat("─", 50))
	fmt.Printf("Total: %d step(s)\n", len(blocks))
	return nil
}

func runStepAdd(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	slug := args[0]
	step, loc, err := stepFromFlags()
	if err != nil {
		return err
	}

	store := bundleStore()
	updater := bundle.NewUpdater(store)
	defer updater.Close()
	before := specSourceOf(store, slug)

	block := bundle.BlockForStep(step, loc)
	result, err := updater.AddStep(ctx, slug, block, stepAt)
	if err != nil {
		return fmt.Errorf("failed to add step: %w", err)
	}

	at := stepAt
	if at < 0 {
		if blocks, err := updater.Steps(ctx, slug); err == nil {
			at = len(blocks) - 1
		}
	}
	fmt.Printf("✅ Step added at index %d: %s (%d changed span(s))\n",
		at, block.Hint, len(result.UpdatedLineSpans))
	printStepDiff(store, slug, before, result)
	return nil
}

func runStepDelete(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	slug := args[0]
	index, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid step index %q: %w", args[1], err)
	}

	store := bundleStore()
	updater := bundle.NewUpdater(store)
	defer updater.Close()
	before := specSourceOf(store, slug)

	block, result, err := updater.DeleteStep(ctx, slug, index)
	if err != nil {
		return fmt.Errorf("failed to delete step: %w", err)
	}
	fmt.Printf("✅ Step %d deleted: %s (%d changed span(s))\n",
		index, block.Hint, len(result.UpdatedLineSpans))
	printStepDiff(store, slug, before, result)
	return nil
}

func runStepUpdate(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	slug := args[0]
	index, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid step index %q: %w", args[1], err)
	}

	step, loc, err := stepFromFlags()
	if err != nil {
		return err
	}

	store := bundleStore()
	updater := bundle.NewUpdater(store)
	defer updater.Close()
	before := specSourceOf(store, slug)

	body := "    " + recorder.Statement(step, loc) + "\n"
	result, err := updater.UpdateStep(ctx, slug, index, body)
	if err != nil {
		return fmt.Errorf("failed to update step: %w", err)
	}
	fmt.Printf("✅ Step %d updated (%d changed span(s))\n", index, len(result.UpdatedLineSpans))
	printStepDiff(store, slug, before, result)
	return nil
}

func runStepMove(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	slug := args[0]
	from, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid step index %q: %w", args[1], err)
	}
	to, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("invalid target index %q: %w", args[2], err)
	}
	through := stepThrough
	if through < from {
		through = from
	}

	store := bundleStore()
	updater := bundle.NewUpdater(store)
	defer updater.Close()
	before := specSourceOf(store, slug)

	result, err := updater.ReorderSteps(ctx, slug, from, through, to)
	if err != nil {
		return fmt.Errorf("failed to move step(s): %w", err)
	}
	if through > from {
		fmt.Printf("✅ Steps %d-%d moved to %d (%d changed span(s))\n",
			from, through, to, len(result.UpdatedLineSpans))
	} else {
		fmt.Printf("✅ Step %d moved to %d (%d changed span(s))\n",
			from, to, len(result.UpdatedLineSpans))
	}
	printStepDiff(store, slug, before, result)
	return nil
}

// specSourceOf reads the current spec source when a diff preview was
// requested. A load failure yields an empty string; the edit itself will
// report the error.
func specSourceOf(store *bundle.Store, slug string) string {
	if !stepShowDiff {
		return ""
	}
	stored, err := store.Load(slug)
	if err != nil {
		return ""
	}
	return stored.SpecSource
}

// printStepDiff renders an applied edit as unified hunks when --diff is set.
func printStepDiff(store *bundle.Store, slug, before string, result *bundle.UpdateResult) {
	if !stepShowDiff || result == nil {
		return
	}
	name := filepath.Base(store.SpecPath(slug))
	fmt.Print(diff.ComputeDiff(name, name, before, result.UpdatedSource).Unified())
}

// stepFromFlags builds the step and locator described by the shared step
// flags. Navigations take the target URL in --value and no locator.
func stepFromFlags() (recorder.RecordedStep, locator.Locator, error) {
	kind := recorder.ActionKind(stepAction)
	switch kind {
	case recorder.ActionNavigate, recorder.ActionClick, recorder.ActionDblClick,
		recorder.ActionFill, recorder.ActionSelect, recorder.ActionCheck,
		recorder.ActionUncheck, recorder.ActionPress, recorder.ActionHover:
	default:
		return recorder.RecordedStep{}, locator.Locator{},
			fmt.Errorf("unknown action %q (want navigate, click, dblclick, fill, select, check, uncheck, press or hover)", stepAction)
	}

	step := recorder.RecordedStep{ActionKind: kind, Value: stepValue}
	if kind == recorder.ActionNavigate {
		if stepValue == "" {
			return recorder.RecordedStep{}, locator.Locator{},
				fmt.Errorf("navigate needs --value with the target URL")
		}
		return step, locator.Locator{}, nil
	}

	if stepSelector == "" {
		return recorder.RecordedStep{}, locator.Locator{},
			fmt.Errorf("action %q needs --selector", stepAction)
	}
	strategy := locator.Strategy(stepStrategy)
	switch strategy {
	case locator.StrategyRole, locator.StrategyLabel, locator.StrategyPlaceholder,
		locator.StrategyText, locator.StrategyTestID, locator.StrategyCSS,
		locator.StrategyXPath:
	default:
		return recorder.RecordedStep{}, locator.Locator{},
			fmt.Errorf("unknown strategy %q (want role, label, placeholder, text, testid, css or xpath)", stepStrategy)
	}
	return step, locator.Locator{Strategy: strategy, Selector: stepSelector}, nil
}

func init() {
	for _, c := range []*cobra.Command{stepAddCmd, stepUpdateCmd} {
		c.Flags().StringVar(&stepAction, "action", "click", "Step action (navigate, click, dblclick, fill, select, check, uncheck, press, hover)")
		c.Flags().StringVar(&stepStrategy, "strategy", "css", "Locator strategy (role, label, placeholder, text, testid, css, xpath)")
		c.Flags().StringVar(&stepSelector, "selector", "", "Locator selector text")
		c.Flags().StringVar(&stepValue, "value", "", "Value for fill/select/press, or the URL for navigate")
	}
	stepAddCmd.Flags().IntVar(&stepAt, "at", -1, "Insert before this index (default: append)")
	stepMoveCmd.Flags().IntVar(&stepThrough, "through", -1, "Move the whole range <from>..<through>")
	for _, c := range []*cobra.Command{stepAddCmd, stepDeleteCmd, stepUpdateCmd, stepMoveCmd} {
		c.Flags().BoolVar(&stepShowDiff, "diff", false, "Print the edit as a unified diff")
	}

	stepCmd.AddCommand(stepListCmd, stepAddCmd, stepDeleteCmd, stepUpdateCmd, stepMoveCmd)
	rootCmd.AddCommand(stepCmd)
}
