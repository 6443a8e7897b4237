// Package transform rewrites recorded test source before it is compiled
// into a bundle. Passes parse the source with tree-sitter, operate on the
// statement list, and splice edits back into the original text so that
// untouched lines survive byte for byte.
package transform

import (
	"context"
	"fmt"

	"testloom/internal/diff"
	"testloom/internal/logging"
)

// Pass is a single source rewrite. Implementations must be deterministic
// and fail soft: when the input cannot be parsed they return it unchanged
// with no spans rather than an error.
type Pass interface {
	// Name identifies the pass in logs and audit records.
	Name() string

	// Apply rewrites source and reports the changed line spans of the
	// returned text. An empty span list means the source is unchanged.
	Apply(ctx context.Context, source string) (string, []diff.Span, error)
}

// Chain applies passes in order, feeding each pass the previous output.
type Chain struct {
	passes []Pass
}

// NewChain builds a chain over the given passes.
func NewChain(passes ...Pass) *Chain {
	return &Chain{passes: passes}
}

// Apply runs every pass in order. The returned spans are relative to the
// final output, covering the cumulative effect of the whole chain.
func (c *Chain) Apply(ctx context.Context, source string) (string, []diff.Span, error) {
	current := source
	for _, p := range c.passes {
		timer := logging.StartTimer(logging.CategoryTransform, p.Name())
		out, spans, err := p.Apply(ctx, current)
		elapsed := timer.Stop()
		if err != nil {
			logging.TransformError("%s failed: %v", p.Name(), err)
			return "", nil, fmt.Errorf("%s: %w", p.Name(), err)
		}
		logging.Audit().PassApplied(p.Name(), len(spans) > 0, elapsed.Milliseconds())
		current = out
	}

	if current == source {
		return current, nil, nil
	}
	return current, diff.ChangedSpans(source, current), nil
}

// spliceOut removes byte ranges from source, widening each range to whole
// lines when the rest of the line is blank. Ranges must be sorted and
// non-overlapping.
func spliceOut(source string, ranges [][2]int) string {
	if len(ranges) == 0 {
		return source
	}

	var out []byte
	src := []byte(source)
	prev := 0
	for _, r := range ranges {
		start, end := widenToLine(src, r[0], r[1])
		if start < prev {
			start = prev
		}
		out = append(out, src[prev:start]...)
		prev = end
	}
	out = append(out, src[prev:]...)
	return string(out)
}

// widenToLine grows [start, end) to swallow the whole line when only
// whitespace surrounds the range, including the trailing newline.
func widenToLine(src []byte, start, end int) (int, int) {
	ls := start
	for ls > 0 && src[ls-1] != '\n' {
		ls--
	}
	le := end
	for le < len(src) && src[le] != '\n' {
		le++
	}

	for i := ls; i < start; i++ {
		if src[i] != ' ' && src[i] != '\t' {
			return start, end
		}
	}
	for i := end; i < le; i++ {
		if src[i] != ' ' && src[i] != '\t' && src[i] != ';' {
			return start, end
		}
	}

	if le < len(src) {
		le++
	}
	return ls, le
}
