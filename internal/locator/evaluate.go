package locator

import (
	"context"
	"fmt"
	"time"

	"testloom/internal/logging"
)

// PageQuerier answers uniqueness queries against a live page. The browser
// package provides the real implementation; tests substitute fakes.
type PageQuerier interface {
	// CountMatches reports how many elements the locator currently
	// matches. It must not mutate page state.
	CountMatches(ctx context.Context, loc Locator) (int, error)
}

// Evaluator scores locators against a live page.
type Evaluator struct {
	timeout time.Duration
}

// NewEvaluator builds an evaluator. The timeout bounds each page query;
// zero means the caller's context is the only bound.
func NewEvaluator(timeout time.Duration) *Evaluator {
	return &Evaluator{timeout: timeout}
}

// Evaluate resolves the locator on the live page and scores it. A locator
// that cannot be resolved yields a flagged zero-confidence evaluation
// rather than an error, so hover-driven callers always get usable data.
func (e *Evaluator) Evaluate(ctx context.Context, q PageQuerier, loc Locator) Evaluation {
	timer := logging.StartTimer(logging.CategoryLocator, "locator evaluation")
	defer timer.Stop()

	qctx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	count, err := q.CountMatches(qctx, loc)
	if err != nil {
		logging.LocatorWarn("resolution failed for %s %q: %v", loc.Strategy, loc.Selector, err)
		return unresolved(loc)
	}
	return scored(loc, count)
}

// unresolved is the zero-confidence evaluation for a locator the page
// could not resolve.
func unresolved(loc Locator) Evaluation {
	loc.Flagged = true
	return Evaluation{
		Locator: loc,
		Quality: Quality{
			Score:  0,
			Level:  LevelLow,
			Reason: "element could not be resolved on the live page",
		},
		Uniqueness: Uniqueness{
			IsUnique:   false,
			MatchCount: -1,
			Score:      0,
		},
		Usability: Usability{
			Score:          0,
			Level:          LevelLow,
			Recommendation: "element could not be resolved; re-record this step",
		},
	}
}

// scored builds the evaluation for a successfully resolved query.
func scored(loc Locator, count int) Evaluation {
	strength := Classify(loc)
	quality := qualityFor(strength)

	uniq := Uniqueness{IsUnique: count == 1, MatchCount: count}
	switch {
	case count == 1:
		uniq.Score = 1.0
	case count > 1:
		uniq.Score = 1.0 / float64(count)
	}

	return Evaluation{
		Locator:    loc,
		Quality:    quality,
		Uniqueness: uniq,
		Usability:  combine(strength, quality, uniq),
	}
}

// combine folds strategy strength and uniqueness into one verdict with a
// recommendation the recorder UI can show verbatim.
func combine(strength Strength, quality Quality, uniq Uniqueness) Usability {
	u := Usability{Score: (quality.Score + uniq.Score) / 2}

	switch {
	case uniq.IsUnique && strength == StrengthStrong:
		u.Level = LevelHigh
		u.Recommendation = "locator is unique and survives DOM restructuring"
	case uniq.IsUnique && strength == StrengthModerate:
		u.Level = LevelMedium
		u.Recommendation = "unique but attribute-bound; prefer a role or label locator when one exists"
	case uniq.IsUnique:
		u.Level = LevelMedium
		u.Recommendation = "unique today but structure-bound; add a stable test identifier attribute"
	case uniq.MatchCount == 0:
		u.Level = LevelLow
		u.Recommendation = "matches nothing on the current page; re-pick the element"
	case strength == StrengthStrong:
		u.Level = LevelLow
		u.Recommendation = fmt.Sprintf("matches %d elements; narrow it with an accessible name", uniq.MatchCount)
	default:
		u.Level = LevelLow
		u.Recommendation = fmt.Sprintf("matches %d elements; add a stable test identifier attribute", uniq.MatchCount)
	}
	return u
}
