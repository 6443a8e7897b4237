package transform

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	sitter "github.com/smacker/go-tree-sitter"

	"testloom/internal/logging"
)

// ParameterCandidate is a literal input value the detector proposes to
// turn into a named parameter. Candidates are never merged: the same
// value typed into two fields yields two candidates.
type ParameterCandidate struct {
	// ID is stable for the same logical occurrence across re-runs of the
	// detector, so selections made in one pass survive the next.
	ID            string `json:"id"`
	Label         string `json:"label"`
	OriginalValue string `json:"originalValue"`
	SuggestedName string `json:"suggestedName"`
	Verb          string `json:"verb"`
	Line          int    `json:"line"`
}

// DetectorConfig bounds the detector's walks.
type DetectorConfig struct {
	// MaxLabelDepth caps how far down a receiver chain the label search
	// goes before giving up.
	MaxLabelDepth int

	// MaxNameLength truncates suggested parameter names.
	MaxNameLength int
}

// DefaultDetectorConfig returns the stock detector settings.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		MaxLabelDepth: 10,
		MaxNameLength: 50,
	}
}

// valueVerbs are the calls that set an input's value.
var valueVerbs = map[string]bool{
	"fill":         true,
	"type":         true,
	"selectOption": true,
}

// Detector scans cleaned source for literal input values and proposes
// named parameters for them.
type Detector struct {
	cfg    DetectorConfig
	parser *Parser
}

// NewDetector builds a detector. Callers should Close it when done.
func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{cfg: cfg, parser: NewParser()}
}

// Close releases the underlying parser.
func (d *Detector) Close() { d.parser.Close() }

// Detect returns the parameter candidates found in source, in source
// order. Unparseable input degrades to an empty result.
func (d *Detector) Detect(ctx context.Context, source string) ([]ParameterCandidate, error) {
	timer := logging.StartTimer(logging.CategoryTransform, "parameter detection")
	defer timer.Stop()

	script, err := d.parser.Parse(ctx, source)
	if err != nil {
		return nil, err
	}
	defer script.Close()

	if script.HasError() {
		// Partial trees still carry intact subtrees; scan what parsed.
		logging.TransformWarn("parameter detection on source with syntax errors")
	}

	var candidates []ParameterCandidate

	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		if n.Type() == "call_expression" {
			if c, ok := d.candidateFrom(script, n); ok {
				candidates = append(candidates, c)
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(script.Root())

	assignIDs(candidates)
	logging.TransformDebug("parameter detection found %d candidate(s)", len(candidates))
	return candidates, nil
}

// candidateFrom inspects a call expression and extracts a candidate when
// it is a value-setting call with a literal string value.
func (d *Detector) candidateFrom(s *Script, call *sitter.Node) (ParameterCandidate, bool) {
	fn := call.ChildByFieldName("function")
	if fn == nil || fn.Type() != "member_expression" {
		return ParameterCandidate{}, false
	}
	prop := fn.ChildByFieldName("property")
	if prop == nil || !valueVerbs[s.Text(prop)] {
		return ParameterCandidate{}, false
	}

	args := call.ChildByFieldName("arguments")
	value, ok := valueArg(s, args)
	if !ok {
		return ParameterCandidate{}, false
	}

	label := d.labelFor(s, fn.ChildByFieldName("object"))

	return ParameterCandidate{
		Label:         label,
		OriginalValue: value,
		SuggestedName: suggestName(label, value, d.cfg.MaxNameLength),
		Verb:          s.Text(prop),
		Line:          int(call.StartPoint().Row) + 1,
	}, true
}

// valueArg picks the value argument of a value-setting call. The selector
// form page.fill(sel, value) carries the value second; the chained form
// locator.fill(value) carries it first.
func valueArg(s *Script, args *sitter.Node) (string, bool) {
	if args == nil {
		return "", false
	}
	n := int(args.NamedChildCount())
	if n >= 2 && args.NamedChild(1).Type() == "string" {
		return unquote(s.Text(args.NamedChild(1))), true
	}
	if n >= 1 && args.NamedChild(0).Type() == "string" {
		return unquote(s.Text(args.NamedChild(0))), true
	}
	return "", false
}

// labelFor walks down the receiver chain from a value-setting call looking
// for the nearest label-carrying locator expression. The walk is bounded
// so a pathological chain cannot stall detection.
func (d *Detector) labelFor(s *Script, receiver *sitter.Node) string {
	node := receiver
	for depth := 0; node != nil && depth < d.cfg.MaxLabelDepth; depth++ {
		if node.Type() != "call_expression" {
			return ""
		}
		if label, ok := locatorLabel(s, node); ok {
			return label
		}
		fn := node.ChildByFieldName("function")
		if fn == nil || fn.Type() != "member_expression" {
			return ""
		}
		node = fn.ChildByFieldName("object")
	}
	return ""
}

// locatorLabel extracts the human-facing label from an accessibility or
// placeholder locator call.
func locatorLabel(s *Script, call *sitter.Node) (string, bool) {
	fn := call.ChildByFieldName("function")
	if fn == nil || fn.Type() != "member_expression" {
		return "", false
	}
	prop := fn.ChildByFieldName("property")
	if prop == nil {
		return "", false
	}
	args := call.ChildByFieldName("arguments")

	switch s.Text(prop) {
	case "getByLabel", "getByPlaceholder":
		if args != nil && args.NamedChildCount() > 0 && args.NamedChild(0).Type() == "string" {
			return unquote(s.Text(args.NamedChild(0))), true
		}
	case "getByRole":
		if name, ok := roleNameOption(s, args); ok {
			return name, true
		}
	}
	return "", false
}

// roleNameOption digs the name option out of getByRole(role, { name: '...' }).
func roleNameOption(s *Script, args *sitter.Node) (string, bool) {
	if args == nil || args.NamedChildCount() < 2 {
		return "", false
	}
	opts := args.NamedChild(1)
	if opts.Type() != "object" {
		return "", false
	}
	for i := 0; i < int(opts.NamedChildCount()); i++ {
		pair := opts.NamedChild(i)
		if pair.Type() != "pair" {
			continue
		}
		key := pair.ChildByFieldName("key")
		val := pair.ChildByFieldName("value")
		if key == nil || val == nil {
			continue
		}
		keyText := s.Text(key)
		if keyText == "name" || keyText == "'name'" || keyText == "\"name\"" {
			if val.Type() == "string" {
				return unquote(s.Text(val)), true
			}
		}
	}
	return "", false
}

// suggestName folds a label (or the value itself when no label exists)
// into a camelCase identifier.
func suggestName(label, value string, maxLen int) string {
	basis := label
	if basis == "" {
		basis = value
	}
	basis = strings.ToLower(basis)

	var b strings.Builder
	upperNext := false
	for _, r := range basis {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if upperNext && b.Len() > 0 {
				r = unicode.ToUpper(r)
			}
			b.WriteRune(r)
			upperNext = false
		} else {
			upperNext = true
		}
	}

	runes := []rune(b.String())
	if len(runes) > maxLen {
		runes = runes[:maxLen]
	}
	return string(runes)
}

// assignIDs gives each candidate an ID derived from its label, value and
// ordinal among identical (label, value) pairs. Edits elsewhere in the
// source do not disturb the IDs of untouched occurrences.
func assignIDs(candidates []ParameterCandidate) {
	seen := make(map[string]int)
	for i := range candidates {
		key := candidates[i].Label + "\x00" + candidates[i].OriginalValue
		ordinal := seen[key]
		seen[key] = ordinal + 1

		h := sha256.New()
		fmt.Fprintf(h, "%s\x00%s\x00%d", candidates[i].Label, candidates[i].OriginalValue, ordinal)
		candidates[i].ID = hex.EncodeToString(h.Sum(nil))[:12]
	}
}
