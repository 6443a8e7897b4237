// Package main implements the testloom CLI commands.
// This file contains the bundle generation command.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"testloom/internal/bundle"
	"testloom/internal/index"
	"testloom/internal/logging"
	"testloom/internal/recorder"
	"testloom/internal/transform"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// =============================================================================
// GENERATE COMMAND - compile a recorded walkthrough into a test bundle
// =============================================================================

var (
	generateSteps   string
	generateName    string
	generateModule  string
	generateBinds   []string
	generateAuto    bool
	generateAsserts []string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Compile a recorded walkthrough into a test bundle",
	Long: `Compiles a step file produced by 'loom record' into a test bundle:
spec source with step markers, a meta record, a human-readable summary
and a seeded data file.

Before generation, the navigation cleanup pass strips login redirects
and redundant navigations, and the parameter candidate detector scans
for typed literals worth turning into data-file columns.

Bind a detected value with --bind <step>=<name> (step indexes as shown
by the candidate listing), or accept every suggestion with --auto-bind.
Bound values become columns of the sibling data file; the spec reads
them per row, so one recording drives many data combinations.`,
	RunE: runGenerate,
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	steps, err := loadRecording(generateSteps)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		return fmt.Errorf("step file %s has no steps", generateSteps)
	}
	logger.Info("Generating bundle",
		zap.String("name", generateName),
		zap.Int("steps", len(steps)))

	// Raw source: one statement per line, best candidate per step.
	var raw strings.Builder
	for _, step := range steps {
		loc, _ := step.BestCandidate()
		raw.WriteString(recorder.Statement(step, loc))
		raw.WriteByte('\n')
	}

	pass := transform.NewCleanupPass(transform.CleanupConfig{
		AuthDomains:  cfg.Cleanup.AuthDomains,
		RoutingParam: cfg.Cleanup.RoutingParam,
	})
	defer pass.Close()

	cleaned, spans, err := transform.NewChain(pass).Apply(ctx, raw.String())
	if err != nil {
		return fmt.Errorf("navigation cleanup failed: %w", err)
	}

	kept := keptSteps(steps, cleaned)
	if removed := len(steps) - len(kept); removed > 0 {
		fmt.Printf("🧹 Navigation cleanup removed %d step(s) (%d changed span(s))\n", removed, len(spans))
	}
	if len(kept) == 0 {
		return fmt.Errorf("no steps survived navigation cleanup")
	}

	detector := transform.NewDetector(transform.DetectorConfig{
		MaxLabelDepth: cfg.Detector.MaxLabelDepth,
		MaxNameLength: cfg.Detector.MaxNameLength,
	})
	defer detector.Close()

	candidates, err := detector.Detect(ctx, cleaned)
	if err != nil {
		return fmt.Errorf("parameter detection failed: %w", err)
	}

	bindings, err := resolveBindings(kept, candidates)
	if err != nil {
		return err
	}

	if len(bindings) == 0 && len(candidates) > 0 {
		fmt.Printf("💡 %d parameter candidate(s) detected:\n", len(candidates))
		for _, c := range candidates {
			fmt.Printf("   step %2d: %s = %q\n", c.Line-1, c.Label, c.OriginalValue)
			fmt.Printf("            bind with: --bind %d=%s\n", c.Line-1, c.SuggestedName)
		}
	}

	var assertions []bundle.MetaAssertion
	for _, a := range generateAsserts {
		assertions = append(assertions, bundle.MetaAssertion{Description: a})
	}

	b, err := bundle.Generate(bundle.GenerateRequest{
		TestName:   generateName,
		Module:     generateModule,
		Steps:      kept,
		Bindings:   bindings,
		Assertions: assertions,
	})
	if err != nil {
		return err
	}

	store := bundleStore()
	if err := store.Write(b); err != nil {
		return fmt.Errorf("failed to write bundle: %w", err)
	}
	copyShots(store, b, kept)

	// Record generation-time locator usage in the inventory.
	if idx, err := index.NewStore(indexDBPath()); err != nil {
		logging.IndexWarn("locator inventory unavailable: %v", err)
	} else {
		if err := idx.ReplaceSlug(b.Slug, index.CanonicalUsage(b.Slug, b.Meta.Steps)); err != nil {
			logging.IndexWarn("inventory update for %s failed: %v", b.Slug, err)
		}
		_ = idx.Close()
	}

	fmt.Printf("✅ Bundle %q generated\n", b.Slug)
	fmt.Println(strings.Repeat("─", 50))
	fmt.Printf("  Spec:    %s\n", store.SpecPath(b.Slug))
	fmt.Printf("  Meta:    %s\n", store.MetaPath(b.Slug))
	fmt.Printf("  Summary: %s\n", store.MarkdownPath(b.Slug))
	fmt.Printf("  Data:    %s\n", store.DataPath(b.Slug))
	fmt.Println(strings.Repeat("─", 50))
	fmt.Printf("  Steps: %d   Parameters: %d\n", len(b.Meta.Steps), len(b.Meta.Parameters))
	return nil
}

// copyShots moves per-step screenshots captured during recording into the
// bundle's shots directory, named by step marker id. Steps recorded
// without --shots are skipped silently.
func copyShots(store *bundle.Store, b *bundle.TestBundle, kept []bundle.StepInput) {
	shotsDir := filepath.Join(store.Dir(b.Slug), "shots")
	for i, input := range kept {
		ref := input.Step.ScreenshotRef
		if ref == "" || i >= len(b.Meta.Steps) {
			continue
		}
		data, err := os.ReadFile(ref)
		if err != nil {
			logging.BundleDebug("screenshot %s unavailable: %v", ref, err)
			continue
		}
		if err := os.MkdirAll(shotsDir, 0o755); err != nil {
			logging.BundleWarn("failed to create shots dir for %s: %v", b.Slug, err)
			return
		}
		dest := filepath.Join(shotsDir, "step-"+b.Meta.Steps[i].ID+".png")
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			logging.BundleWarn("failed to copy screenshot for %s: %v", b.Slug, err)
		}
	}
}

// loadRecording reads a step file written by 'loom record'.
func loadRecording(path string) ([]recorder.RecordedStep, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read step file: %w", err)
	}
	var steps []recorder.RecordedStep
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("failed to parse step file %s: %w", path, err)
	}
	return steps, nil
}

// keptSteps maps the cleaned source back onto the recorded steps. Cleanup
// only ever removes whole statements, so the surviving lines match the
// surviving steps in order.
func keptSteps(steps []recorder.RecordedStep, cleaned string) []bundle.StepInput {
	lines := strings.Split(strings.TrimRight(cleaned, "\n"), "\n")
	kept := make([]bundle.StepInput, 0, len(lines))
	i := 0
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for i < len(steps) {
			loc, _ := steps[i].BestCandidate()
			stmt := recorder.Statement(steps[i], loc)
			i++
			if stmt == line {
				kept = append(kept, bundle.StepInput{Step: steps[i-1], Locator: loc})
				break
			}
		}
	}
	return kept
}

// resolveBindings turns --bind flags or detector suggestions into parameter
// bindings. Detector lines are 1-based lines of the cleaned source, which
// line up one-to-one with the kept steps.
func resolveBindings(kept []bundle.StepInput, candidates []transform.ParameterCandidate) ([]bundle.ParameterBinding, error) {
	byLine := make(map[int]transform.ParameterCandidate, len(candidates))
	for _, c := range candidates {
		byLine[c.Line] = c
	}

	if generateAuto {
		bindings := make([]bundle.ParameterBinding, 0, len(candidates))
		for _, c := range candidates {
			idx := c.Line - 1
			if idx < 0 || idx >= len(kept) {
				continue
			}
			bindings = append(bindings, bundle.ParameterBinding{
				Name:          c.SuggestedName,
				OriginalValue: c.OriginalValue,
				StepOrder:     kept[idx].Step.Order,
				CandidateID:   c.ID,
			})
		}
		return bindings, nil
	}

	var bindings []bundle.ParameterBinding
	for _, spec := range generateBinds {
		stepPart, name, ok := strings.Cut(spec, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --bind %q, want <step>=<name>", spec)
		}
		idx, err := strconv.Atoi(stepPart)
		if err != nil {
			return nil, fmt.Errorf("invalid --bind %q: %w", spec, err)
		}
		if idx < 0 || idx >= len(kept) {
			return nil, fmt.Errorf("--bind %q: no step %d (recording has %d after cleanup)", spec, idx, len(kept))
		}
		binding := bundle.ParameterBinding{
			Name:          name,
			OriginalValue: kept[idx].Step.Value,
			StepOrder:     kept[idx].Step.Order,
		}
		if c, found := byLine[idx+1]; found {
			binding.CandidateID = c.ID
			if binding.OriginalValue == "" {
				binding.OriginalValue = c.OriginalValue
			}
		}
		bindings = append(bindings, binding)
	}
	return bindings, nil
}

func init() {
	generateCmd.Flags().StringVar(&generateSteps, "steps", "", "Step file from 'loom record' (required)")
	generateCmd.Flags().StringVarP(&generateName, "name", "n", "", "Test name (required)")
	generateCmd.Flags().StringVarP(&generateModule, "module", "m", "", "Application module the test belongs to")
	generateCmd.Flags().StringArrayVar(&generateBinds, "bind", nil, "Bind a step value to a parameter: <step>=<name> (repeatable)")
	generateCmd.Flags().BoolVar(&generateAuto, "auto-bind", false, "Accept every detected parameter suggestion")
	generateCmd.Flags().StringArrayVar(&generateAsserts, "assert", nil, "Expected outcome to note in the meta record (repeatable)")
	_ = generateCmd.MarkFlagRequired("steps")
	_ = generateCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(generateCmd)
}
