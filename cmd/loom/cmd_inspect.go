// Package main implements the testloom CLI commands.
// This file contains the live locator inspection command.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"testloom/internal/browser"
	"testloom/internal/locator"

	"github.com/spf13/cobra"
)

// =============================================================================
// INSPECT COMMAND - score a locator against the live page
// =============================================================================

var (
	inspectPage string
	inspectJSON bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <strategy> <selector>",
	Short: "Score a locator against the live page",
	Long: `Scores a locator against the running browser: how resilient its
strategy is, how many elements it matches right now, and a combined
verdict with a recommendation.

Requires a running browser ('loom browser launch') with at least one
open page ('loom browser open' or an active recording).

Examples:
  loom inspect role 'button[name="Save"]'
  loom inspect css '#order-form > button' --json`,
	Args: cobra.ExactArgs(2),
	RunE: runInspect,
}

func runInspect(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	loc := locator.Locator{Strategy: locator.Strategy(args[0]), Selector: args[1]}
	switch loc.Strategy {
	case locator.StrategyRole, locator.StrategyLabel, locator.StrategyPlaceholder,
		locator.StrategyText, locator.StrategyTestID, locator.StrategyCSS,
		locator.StrategyXPath:
	default:
		return fmt.Errorf("unknown strategy %q (want role, label, placeholder, text, testid, css or xpath)", args[0])
	}

	mgr, err := attachedManager(ctx)
	if err != nil {
		return err
	}

	pageID, err := resolvePage(ctx, mgr, inspectPage)
	if err != nil {
		return err
	}

	querier, err := mgr.Querier(pageID)
	if err != nil {
		return fmt.Errorf("failed to build page querier: %w", err)
	}

	evaluator := locator.NewEvaluator(cfg.GetEvaluatorTimeout())
	evaluation := evaluator.Evaluate(ctx, querier, loc)

	if inspectJSON {
		data, err := json.MarshalIndent(evaluation, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("🔍 %s %q\n", loc.Strategy, loc.Selector)
	fmt.Println(strings.Repeat("─", 50))
	fmt.Printf("  Quality:   %s (%.2f) - %s\n",
		evaluation.Quality.Level, evaluation.Quality.Score, evaluation.Quality.Reason)
	if evaluation.Uniqueness.MatchCount < 0 {
		fmt.Println("  Matches:   unresolved")
	} else {
		fmt.Printf("  Matches:   %d (unique: %v)\n",
			evaluation.Uniqueness.MatchCount, evaluation.Uniqueness.IsUnique)
	}
	fmt.Printf("  Usability: %s (%.2f)\n", evaluation.Usability.Level, evaluation.Usability.Score)
	fmt.Printf("  Verdict:   %s\n", evaluation.Usability.Recommendation)
	return nil
}

// resolvePage picks the page to query: the requested one, or the first
// tracked page. Pages persisted by an earlier process are reattached by
// target before use.
func resolvePage(ctx context.Context, mgr *browser.Manager, want string) (string, error) {
	pages := mgr.List()
	if len(pages) == 0 {
		return "", fmt.Errorf("no open pages - use 'loom browser open <url>' first")
	}

	var chosen *browser.PageSession
	for i := range pages {
		if want == "" || pages[i].ID == want || strings.HasPrefix(pages[i].ID, want) {
			chosen = &pages[i]
			break
		}
	}
	if chosen == nil {
		fmt.Printf("Page %q not found. Open pages:\n", want)
		for _, p := range pages {
			fmt.Printf("  %s  [%s] %s\n", p.ID, p.Status, p.URL)
		}
		return "", fmt.Errorf("page not found")
	}

	if page, ok := mgr.Page(chosen.ID); !ok || page == nil {
		if chosen.TargetID == "" {
			return "", fmt.Errorf("page %s is detached and has no target to reattach", chosen.ID)
		}
		reattached, err := mgr.Attach(ctx, chosen.TargetID)
		if err != nil {
			return "", fmt.Errorf("failed to reattach page: %w", err)
		}
		return reattached.ID, nil
	}
	return chosen.ID, nil
}

func init() {
	inspectCmd.Flags().StringVar(&inspectPage, "page", "", "Page ID to query (default: first tracked page)")
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Print the full evaluation as JSON")
	rootCmd.AddCommand(inspectCmd)
}
