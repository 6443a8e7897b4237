// Package locator models element locators and scores how well they will
// hold up against a live page: strategy strength, uniqueness on the
// current DOM, and a combined usability verdict.
package locator

import (
	"fmt"
	"regexp"
	"strings"
)

// Strategy identifies how a selector addresses an element.
type Strategy string

const (
	StrategyRole        Strategy = "role"
	StrategyLabel       Strategy = "label"
	StrategyPlaceholder Strategy = "placeholder"
	StrategyText        Strategy = "text"
	StrategyTestID      Strategy = "testid"
	StrategyCSS         Strategy = "css"
	StrategyXPath       Strategy = "xpath"
)

// Locator is one way of addressing an element. Selector is strategy-native
// text: the accessible label for label locators, the test id value for
// testid locators, a role selector like `button[name="Save"]` for role
// locators, raw CSS or an XPath for the rest.
type Locator struct {
	Strategy Strategy `json:"strategy"`
	Selector string   `json:"selector"`
	Flagged  bool     `json:"flagged"`
}

// Level grades quality and usability.
type Level string

const (
	LevelHigh   Level = "high"
	LevelMedium Level = "medium"
	LevelLow    Level = "low"
)

// Quality describes how resilient the locator's strategy is.
type Quality struct {
	Score  float64 `json:"score"`
	Level  Level   `json:"level"`
	Reason string  `json:"reason"`
}

// Uniqueness reports how many live elements the locator matches.
// MatchCount is -1 when the element could not be resolved at all.
type Uniqueness struct {
	IsUnique   bool    `json:"isUnique"`
	MatchCount int     `json:"matchCount"`
	Score      float64 `json:"score"`
}

// Usability folds strategy strength and uniqueness into one verdict.
type Usability struct {
	Score          float64 `json:"score"`
	Level          Level   `json:"level"`
	Recommendation string  `json:"recommendation"`
}

// Evaluation is the full scoring result for one locator. It is ephemeral;
// only the chosen locator text is persisted into generated source.
type Evaluation struct {
	Locator    Locator    `json:"locator"`
	Quality    Quality    `json:"quality"`
	Uniqueness Uniqueness `json:"uniqueness"`
	Usability  Usability  `json:"usability"`
}

var roleSelectorRe = regexp.MustCompile(`^([a-zA-Z]+)\[name="(.*)"\]$`)

// RoleSelector builds the selector text for a role locator.
func RoleSelector(role, name string) string {
	if name == "" {
		return role
	}
	return fmt.Sprintf(`%s[name="%s"]`, role, name)
}

// SplitRoleSelector breaks a role selector into role and accessible name.
func SplitRoleSelector(selector string) (role, name string) {
	if m := roleSelectorRe.FindStringSubmatch(selector); m != nil {
		return m[1], m[2]
	}
	return selector, ""
}

// Expression renders the locator as a page expression in generated source.
func (l Locator) Expression() string {
	switch l.Strategy {
	case StrategyRole:
		role, name := SplitRoleSelector(l.Selector)
		if name != "" {
			return fmt.Sprintf("page.getByRole('%s', { name: '%s' })", EscapeJS(role), EscapeJS(name))
		}
		return fmt.Sprintf("page.getByRole('%s')", EscapeJS(role))
	case StrategyLabel:
		return fmt.Sprintf("page.getByLabel('%s')", EscapeJS(l.Selector))
	case StrategyPlaceholder:
		return fmt.Sprintf("page.getByPlaceholder('%s')", EscapeJS(l.Selector))
	case StrategyText:
		return fmt.Sprintf("page.getByText('%s')", EscapeJS(l.Selector))
	case StrategyTestID:
		return fmt.Sprintf("page.getByTestId('%s')", EscapeJS(l.Selector))
	case StrategyXPath:
		return fmt.Sprintf("page.locator('xpath=%s')", EscapeJS(l.Selector))
	default:
		return fmt.Sprintf("page.locator('%s')", EscapeJS(l.Selector))
	}
}

// EscapeJS escapes a string for a single-quoted JavaScript literal.
func EscapeJS(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "'", "\\'")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	return s
}
