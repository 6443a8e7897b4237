package recorder

import (
	"fmt"
	"time"

	"testloom/internal/locator"
)

// ActionKind names the interaction a step performs.
type ActionKind string

const (
	ActionNavigate ActionKind = "navigate"
	ActionClick    ActionKind = "click"
	ActionDblClick ActionKind = "dblclick"
	ActionFill     ActionKind = "fill"
	ActionSelect   ActionKind = "select"
	ActionCheck    ActionKind = "check"
	ActionUncheck  ActionKind = "uncheck"
	ActionPress    ActionKind = "press"
	ActionHover    ActionKind = "hover"
)

// RecordedStep is one captured interaction. Steps are immutable once
// appended, except for the human-editable Description.
type RecordedStep struct {
	Order             int               `json:"order"`
	ActionKind        ActionKind        `json:"actionKind"`
	LocatorCandidates []locator.Locator `json:"targetLocatorCandidates"`
	Value             string            `json:"value,omitempty"`
	FrameContext      string            `json:"frameContext"`
	Timestamp         time.Time         `json:"timestamp"`
	ScreenshotRef     string            `json:"screenshotRef,omitempty"`
	Description       string            `json:"description,omitempty"`
}

// CaptureEvent is the payload the browser collaborator delivers for each
// user interaction. Value carries the URL for navigations, the typed text
// for fills, the option for selects and the key for presses.
type CaptureEvent struct {
	ActionKind    ActionKind
	Candidates    []locator.Locator
	Value         string
	FrameContext  string
	Timestamp     time.Time
	ScreenshotRef string
}

// BestCandidate returns the step's preferred locator: the first candidate,
// since capture ranks them by strategy strength.
func (s RecordedStep) BestCandidate() (locator.Locator, bool) {
	if len(s.LocatorCandidates) == 0 {
		return locator.Locator{}, false
	}
	return s.LocatorCandidates[0], true
}

// Statement renders the step as one executable source statement using the
// given locator. Navigations ignore the locator entirely.
func Statement(step RecordedStep, loc locator.Locator) string {
	return StatementWithValue(step, loc, "'"+locator.EscapeJS(step.Value)+"'")
}

// StatementWithValue is Statement with an arbitrary source expression in
// the value position. Generation passes data-file references here for
// steps bound to a parameter.
func StatementWithValue(step RecordedStep, loc locator.Locator, valueExpr string) string {
	switch step.ActionKind {
	case ActionNavigate:
		return fmt.Sprintf("await page.goto(%s);", valueExpr)
	case ActionClick:
		return fmt.Sprintf("await %s.click();", loc.Expression())
	case ActionDblClick:
		return fmt.Sprintf("await %s.dblclick();", loc.Expression())
	case ActionFill:
		return fmt.Sprintf("await %s.fill(%s);", loc.Expression(), valueExpr)
	case ActionSelect:
		return fmt.Sprintf("await %s.selectOption(%s);", loc.Expression(), valueExpr)
	case ActionCheck:
		return fmt.Sprintf("await %s.check();", loc.Expression())
	case ActionUncheck:
		return fmt.Sprintf("await %s.uncheck();", loc.Expression())
	case ActionPress:
		return fmt.Sprintf("await %s.press(%s);", loc.Expression(), valueExpr)
	case ActionHover:
		return fmt.Sprintf("await %s.hover();", loc.Expression())
	default:
		return fmt.Sprintf("// unsupported action %q", step.ActionKind)
	}
}

