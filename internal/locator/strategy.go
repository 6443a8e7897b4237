package locator

import (
	"regexp"
	"strings"
)

// Strength ranks a locator strategy's resilience to page changes.
type Strength int

const (
	StrengthWeak Strength = iota
	StrengthModerate
	StrengthStrong
)

// String returns the strength as a label.
func (s Strength) String() string {
	switch s {
	case StrengthStrong:
		return "strong"
	case StrengthModerate:
		return "moderate"
	default:
		return "weak"
	}
}

// Classify ranks a locator. Accessibility-facing strategies are strong,
// attribute-bound addressing is moderate, structural addressing is weak.
func Classify(l Locator) Strength {
	switch l.Strategy {
	case StrategyRole, StrategyLabel, StrategyPlaceholder, StrategyText:
		return StrengthStrong
	case StrategyTestID:
		return StrengthModerate
	case StrategyCSS:
		return cssStrength(l.Selector)
	default:
		return StrengthWeak
	}
}

// structuralMarkers are CSS features that tie a selector to document shape.
var structuralMarkers = []string{
	" ", ">", "+", "~",
	":nth-child", ":nth-of-type", ":first-child", ":last-child", ":first-of-type", ":last-of-type",
}

var bracketContentRe = regexp.MustCompile(`\[[^\]]*\]`)

// cssStrength decides whether a CSS selector is attribute-bound or
// structural. A selector anchored on classes, ids or attributes without
// combinators is moderate; anything walking the tree is weak.
func cssStrength(selector string) Strength {
	sel := strings.TrimSpace(selector)
	if sel == "" {
		return StrengthWeak
	}
	// Attribute values may contain spaces; blank them before scanning
	// for combinators.
	flat := bracketContentRe.ReplaceAllString(sel, "[]")
	for _, marker := range structuralMarkers {
		if strings.Contains(flat, marker) {
			return StrengthWeak
		}
	}
	if strings.ContainsAny(sel, ".#[") {
		return StrengthModerate
	}
	// A bare tag name matches far too much to be anything but weak.
	return StrengthWeak
}

// qualityFor maps a strength onto the quality block of an evaluation.
func qualityFor(s Strength) Quality {
	switch s {
	case StrengthStrong:
		return Quality{
			Score:  0.9,
			Level:  LevelHigh,
			Reason: "targets the accessibility tree, which survives markup changes",
		}
	case StrengthModerate:
		return Quality{
			Score:  0.6,
			Level:  LevelMedium,
			Reason: "bound to specific attributes or classes",
		}
	default:
		return Quality{
			Score:  0.3,
			Level:  LevelLow,
			Reason: "depends on document structure, which shifts easily",
		}
	}
}
