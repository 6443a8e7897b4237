package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"testloom/internal/locator"
	"testloom/internal/logging"
	"testloom/internal/recorder"
)

// ParameterBinding ties a confirmed candidate to a named parameter consumed
// by one step. StepOrder addresses the step whose literal value the
// parameter replaces.
type ParameterBinding struct {
	Name          string
	OriginalValue string
	StepOrder     int
	CandidateID   string
}

// StepInput pairs a recorded step with the locator the author selected for
// it. Navigations carry a zero locator.
type StepInput struct {
	Step    recorder.RecordedStep
	Locator locator.Locator
}

// GenerateRequest carries everything the generator needs. Steps must
// already be in final order.
type GenerateRequest struct {
	TestName   string
	Module     string
	Steps      []StepInput
	Bindings   []ParameterBinding
	Assertions []MetaAssertion
}

var identRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// Generate assembles a bundle from recorded steps, selected locators and
// parameter bindings. Identical requests produce byte-identical SpecSource,
// MetaMarkdown and meta JSON, except for Meta.GeneratedAt.
func Generate(req GenerateRequest) (*TestBundle, error) {
	timer := logging.StartTimer(logging.CategoryBundle, "generate")
	defer timer.Stop()

	if strings.TrimSpace(req.TestName) == "" {
		return nil, fmt.Errorf("generate: empty test name")
	}
	slug := Slug(req.TestName)
	if slug == "" {
		return nil, fmt.Errorf("generate: test name %q yields an empty slug", req.TestName)
	}
	if len(req.Steps) == 0 {
		return nil, fmt.Errorf("generate %s: no steps", slug)
	}

	bindings := make(map[int]ParameterBinding, len(req.Bindings))
	for _, binding := range req.Bindings {
		if binding.Name == "" {
			return nil, fmt.Errorf("generate %s: binding for step %d has no name", slug, binding.StepOrder)
		}
		if _, dup := bindings[binding.StepOrder]; dup {
			return nil, fmt.Errorf("generate %s: step %d bound twice", slug, binding.StepOrder)
		}
		input, ok := stepByOrder(req.Steps, binding.StepOrder)
		if !ok {
			return nil, fmt.Errorf("generate %s: binding %q references unknown step %d", slug, binding.Name, binding.StepOrder)
		}
		if !takesValue(input.Step.ActionKind) {
			return nil, fmt.Errorf("generate %s: step %d (%s) takes no value, cannot bind %q",
				slug, binding.StepOrder, input.Step.ActionKind, binding.Name)
		}
		bindings[binding.StepOrder] = binding
	}

	var spec strings.Builder
	spec.WriteString("import { test, expect } from '@playwright/test';\n")
	fmt.Fprintf(&spec, "import rows from '../data/%sData.json';\n", slug)
	spec.WriteString("\n")
	spec.WriteString("for (const [row, data] of rows.entries()) {\n")
	fmt.Fprintf(&spec, "  test(`%s (row ${row})`, async ({ page }) => {\n", escapeTemplate(req.TestName))

	metaSteps := make([]MetaStep, 0, len(req.Steps))
	for i, input := range req.Steps {
		valueExpr := "'" + locator.EscapeJS(input.Step.Value) + "'"
		if binding, bound := bindings[input.Step.Order]; bound {
			valueExpr = paramExpr(binding.Name)
		}
		statement := recorder.StatementWithValue(input.Step, input.Locator, valueExpr)
		hint := stepHint(input.Step, input.Locator)
		id := stepID(i, statement)

		fmt.Fprintf(&spec, "    // step:%s %s\n", id, hint)
		fmt.Fprintf(&spec, "    %s\n", statement)

		metaStep := MetaStep{
			ID:     id,
			Action: string(input.Step.ActionKind),
			Hint:   hint,
		}
		if input.Step.ActionKind != recorder.ActionNavigate {
			metaStep.Strategy = string(input.Locator.Strategy)
			metaStep.Locator = input.Locator.Selector
		}
		metaSteps = append(metaSteps, metaStep)
	}

	spec.WriteString("  });\n")
	spec.WriteString("}\n")

	params, seed := collectParameters(req.Steps, bindings)

	meta := Meta{
		TestName:    req.TestName,
		Module:      req.Module,
		Parameters:  params,
		Assertions:  req.Assertions,
		Steps:       metaSteps,
		DataFileRef: "../data/" + slug + "Data.json",
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if meta.Assertions == nil {
		meta.Assertions = []MetaAssertion{}
	}

	bundle := &TestBundle{
		Slug:         slug,
		SpecSource:   spec.String(),
		Meta:         meta,
		MetaMarkdown: metaMarkdown(req, slug, metaSteps, params),
		DataSeed:     seed,
	}
	logging.BundleDebug("generated %s: %d steps, %d parameters", slug, len(metaSteps), len(params))
	return bundle, nil
}

func stepByOrder(steps []StepInput, order int) (StepInput, bool) {
	for _, s := range steps {
		if s.Step.Order == order {
			return s, true
		}
	}
	return StepInput{}, false
}

func takesValue(kind recorder.ActionKind) bool {
	switch kind {
	case recorder.ActionNavigate, recorder.ActionFill, recorder.ActionSelect, recorder.ActionPress:
		return true
	}
	return false
}

// paramExpr renders the data-row accessor for a parameter name. Names that
// are not valid identifiers use the bracket form.
func paramExpr(name string) string {
	if identRe.MatchString(name) {
		return "data." + name
	}
	return "data['" + locator.EscapeJS(name) + "']"
}

// collectParameters dedupes bindings by name in first-use order and seeds
// the initial data row with the original literals.
func collectParameters(steps []StepInput, bindings map[int]ParameterBinding) ([]MetaParameter, map[string]string) {
	params := []MetaParameter{}
	seed := map[string]string{}
	seen := map[string]bool{}
	for _, input := range steps {
		binding, ok := bindings[input.Step.Order]
		if !ok || seen[binding.Name] {
			continue
		}
		seen[binding.Name] = true
		params = append(params, MetaParameter{Name: binding.Name, Source: paramExpr(binding.Name)})
		original := binding.OriginalValue
		if original == "" {
			original = input.Step.Value
		}
		seed[binding.Name] = original
	}
	return params, seed
}

// stepID is the 8-hex marker fingerprint. It hashes the step's position and
// rendered statement, so identical inputs always reproduce the same ids.
// Edits never recompute it; the updater carries markers verbatim.
func stepID(index int, statement string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d\x00%s", index, statement)
	return hex.EncodeToString(h.Sum(nil))[:8]
}

func stepHint(step recorder.RecordedStep, loc locator.Locator) string {
	if step.ActionKind == recorder.ActionNavigate {
		return "navigate"
	}
	name := locatorHint(loc)
	if name == "" {
		return string(step.ActionKind)
	}
	return oneLine(string(step.ActionKind)+" "+name, 60)
}

func locatorHint(loc locator.Locator) string {
	if loc.Strategy == locator.StrategyRole {
		if _, name := locator.SplitRoleSelector(loc.Selector); name != "" {
			return name
		}
	}
	return loc.Selector
}

func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) > max {
		return string(runes[:max])
	}
	return s
}

// escapeTemplate escapes a string for a backtick template literal.
func escapeTemplate(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "`", "\\`")
	s = strings.ReplaceAll(s, "${", "\\${")
	return s
}

// metaMarkdown renders the free-text summary consumed by the diagnosis
// collaborator. Deterministic; no timestamps.
func metaMarkdown(req GenerateRequest, slug string, steps []MetaStep, params []MetaParameter) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", req.TestName)
	if req.Module != "" {
		fmt.Fprintf(&b, "Module: %s\n\n", req.Module)
	}
	fmt.Fprintf(&b, "Recorded flow with %d steps and %d data-driven parameters. Each row of\n", len(steps), len(params))
	fmt.Fprintf(&b, "`data/%sData.json` runs the test once.\n\n", slug)

	b.WriteString("## Steps\n\n")
	for i, s := range steps {
		hint := s.Hint
		if hint == "" {
			hint = s.Action
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, hint)
	}

	if len(params) > 0 {
		b.WriteString("\n## Parameters\n\n")
		for _, p := range params {
			fmt.Fprintf(&b, "- `%s` read from `%s`\n", p.Name, p.Source)
		}
	}

	if len(req.Assertions) > 0 {
		b.WriteString("\n## Assertions\n\n")
		for _, a := range req.Assertions {
			fmt.Fprintf(&b, "- %s\n", a.Description)
		}
	}
	return b.String()
}
