// Package diff computes line-level change information for rewritten test
// source, using the sergi/go-diff engine. Transform passes and bundle update
// operations report their effect as changed line spans; the CLI renders
// unified hunks when previewing an edit.
package diff

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Span is a 1-based inclusive range of lines in the updated text that differ
// from the original. A pure removal yields an empty span (End == Start-1)
// positioned at the first line that shifted up.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Empty reports whether the span marks a removal point rather than a range.
func (s Span) Empty() bool {
	return s.End < s.Start
}

func (s Span) String() string {
	if s.Empty() {
		return fmt.Sprintf("@%d", s.Start)
	}
	if s.Start == s.End {
		return fmt.Sprintf("%d", s.Start)
	}
	return fmt.Sprintf("%d-%d", s.Start, s.End)
}

// LineType represents the type of diff line
type LineType int

const (
	LineContext LineType = iota // Unchanged context line
	LineAdded                   // Added line
	LineRemoved                 // Removed line
)

// Line represents a single line in the diff
type Line struct {
	LineNum int
	Content string
	Type    LineType
}

// Hunk represents a group of changes with surrounding context
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Lines    []Line
}

// Header renders the hunk position in unified-diff form.
func (h *Hunk) Header() string {
	return fmt.Sprintf("@@ -%d,%d +%d,%d @@", h.OldStart, h.OldCount, h.NewStart, h.NewCount)
}

// FileDiff represents changes to a single file
type FileDiff struct {
	OldPath  string
	NewPath  string
	Hunks    []Hunk
	IsNew    bool
	IsDelete bool
}

// Unified renders the diff in a compact unified format for terminal preview.
func (d *FileDiff) Unified() string {
	var b strings.Builder
	for i := range d.Hunks {
		hunk := &d.Hunks[i]
		b.WriteString(hunk.Header())
		b.WriteByte('\n')
		for _, line := range hunk.Lines {
			switch line.Type {
			case LineAdded:
				b.WriteString("+")
			case LineRemoved:
				b.WriteString("-")
			default:
				b.WriteString(" ")
			}
			b.WriteString(line.Content)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Engine provides diff computation with caching for repeated input pairs
type Engine struct {
	dmp   *diffmatchpatch.DiffMatchPatch
	cache sync.Map
}

type cacheKey struct {
	oldHash uint64
	newHash uint64
}

// NewEngine creates a new diff engine tuned for source text
func NewEngine() *Engine {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0 // Disable timeout for accuracy
	return &Engine{dmp: dmp}
}

// DefaultEngine is a singleton engine for general use
var DefaultEngine = NewEngine()

// ChangedSpans diffs two versions of a source text and reports which lines of
// the updated text differ from the original. Identical inputs yield nil.
func (e *Engine) ChangedSpans(oldContent, newContent string) []Span {
	if oldContent == newContent {
		return nil
	}

	ops := e.lineOps(oldContent, newContent)

	var spans []Span
	appendChanged := func(pos int) {
		if n := len(spans); n > 0 && pos <= spans[n-1].End+1 {
			if pos > spans[n-1].End {
				spans[n-1].End = pos
			}
			return
		}
		spans = append(spans, Span{Start: pos, End: pos})
	}
	appendRemoval := func(pos int) {
		if n := len(spans); n > 0 && pos <= spans[n-1].End+1 {
			return // adjacent to an already recorded change
		}
		spans = append(spans, Span{Start: pos, End: pos - 1})
	}

	newCur := 0 // new-text lines consumed so far
	for _, op := range ops {
		switch op.typ {
		case LineContext:
			newCur++
		case LineAdded:
			newCur++
			appendChanged(newCur)
		case LineRemoved:
			appendRemoval(newCur + 1)
		}
	}
	return spans
}

// ChangedSpans is a convenience function using the default engine
func ChangedSpans(oldContent, newContent string) []Span {
	return DefaultEngine.ChangedSpans(oldContent, newContent)
}

// ComputeDiff creates a FileDiff from old and new content strings.
// Results are cached per input pair.
func (e *Engine) ComputeDiff(oldPath, newPath, oldContent, newContent string) *FileDiff {
	fileDiff := &FileDiff{
		OldPath: oldPath,
		NewPath: newPath,
		Hunks:   make([]Hunk, 0),
	}

	if oldContent == "" {
		fileDiff.IsNew = true
	}
	if newContent == "" {
		fileDiff.IsDelete = true
	}

	key := cacheKey{hash(oldContent), hash(newContent)}
	if cached, ok := e.cache.Load(key); ok {
		if cachedDiff, ok := cached.(*FileDiff); ok {
			result := *cachedDiff
			result.OldPath = oldPath
			result.NewPath = newPath
			return &result
		}
	}

	ops := e.lineOps(oldContent, newContent)
	fileDiff.Hunks = groupIntoHunks(ops, 3) // 3 lines of context

	e.cache.Store(key, fileDiff)
	return fileDiff
}

// ComputeDiff is a convenience function using the default engine
func ComputeDiff(oldPath, newPath, oldContent, newContent string) *FileDiff {
	return DefaultEngine.ComputeDiff(oldPath, newPath, oldContent, newContent)
}

// ClearCache clears the diff cache
func (e *Engine) ClearCache() {
	e.cache = sync.Map{}
}

// operation represents a single line operation
type operation struct {
	typ     LineType
	oldLine int
	newLine int
	content string
}

// lineOps diffs at line granularity and flattens the result to per-line
// operations. The line-level reduction avoids newline boundary artifacts.
func (e *Engine) lineOps(oldContent, newContent string) []operation {
	a, b, lineArray := e.dmp.DiffLinesToChars(oldContent, newContent)
	diffs := e.dmp.DiffMain(a, b, false)
	diffs = e.dmp.DiffCleanupSemantic(diffs)
	diffs = e.dmp.DiffCharsToLines(diffs, lineArray)

	operations := make([]operation, 0)
	oldLine := 0
	newLine := 0

	for _, d := range diffs {
		lines := strings.Split(d.Text, "\n")

		if len(lines) == 1 && lines[0] == "" && d.Type != diffmatchpatch.DiffEqual {
			continue
		}

		// Remove trailing empty line from split
		if len(lines) > 0 && lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}

		for _, line := range lines {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				operations = append(operations, operation{
					typ:     LineContext,
					oldLine: oldLine,
					newLine: newLine,
					content: line,
				})
				oldLine++
				newLine++

			case diffmatchpatch.DiffDelete:
				operations = append(operations, operation{
					typ:     LineRemoved,
					oldLine: oldLine,
					newLine: -1,
					content: line,
				})
				oldLine++

			case diffmatchpatch.DiffInsert:
				operations = append(operations, operation{
					typ:     LineAdded,
					oldLine: -1,
					newLine: newLine,
					content: line,
				})
				newLine++
			}
		}
	}

	return operations
}

// groupIntoHunks groups operations into hunks with surrounding context
func groupIntoHunks(ops []operation, contextLines int) []Hunk {
	if len(ops) == 0 {
		return nil
	}

	hunks := make([]Hunk, 0)
	var currentHunk *Hunk
	lastChangeIdx := -1

	for i, op := range ops {
		isChange := op.typ != LineContext

		if isChange {
			if currentHunk == nil {
				currentHunk = &Hunk{Lines: make([]Line, 0)}

				start := i - contextLines
				if start < 0 {
					start = 0
				}

				for j := start; j < i; j++ {
					if ops[j].typ == LineContext {
						currentHunk.Lines = append(currentHunk.Lines, Line{
							LineNum: ops[j].oldLine + 1,
							Content: ops[j].content,
							Type:    LineContext,
						})
					}
				}

				currentHunk.OldStart = ops[start].oldLine + 1
				currentHunk.NewStart = ops[start].newLine + 1
				if ops[start].oldLine < 0 {
					currentHunk.OldStart = 0
				}
				if ops[start].newLine < 0 {
					currentHunk.NewStart = 0
				}
			}
			lastChangeIdx = i
		}

		if currentHunk != nil {
			lineNum := op.oldLine + 1
			if op.typ == LineAdded {
				lineNum = op.newLine + 1
			}
			currentHunk.Lines = append(currentHunk.Lines, Line{
				LineNum: lineNum,
				Content: op.content,
				Type:    op.typ,
			})

			// Close the hunk once trailing context exceeds the window
			if op.typ == LineContext && i-lastChangeIdx > contextLines {
				trimTo := len(currentHunk.Lines) - (i - lastChangeIdx - contextLines)
				if trimTo > 0 && trimTo < len(currentHunk.Lines) {
					currentHunk.Lines = currentHunk.Lines[:trimTo]
				}

				computeHunkCounts(currentHunk)
				hunks = append(hunks, *currentHunk)
				currentHunk = nil
			}
		}
	}

	if currentHunk != nil && len(currentHunk.Lines) > 0 {
		computeHunkCounts(currentHunk)
		hunks = append(hunks, *currentHunk)
	}

	return hunks
}

// computeHunkCounts calculates OldCount and NewCount for a hunk
func computeHunkCounts(hunk *Hunk) {
	for _, line := range hunk.Lines {
		if line.Type == LineRemoved || line.Type == LineContext {
			hunk.OldCount++
		}
		if line.Type == LineAdded || line.Type == LineContext {
			hunk.NewCount++
		}
	}
}

// hash computes a simple hash for caching (FNV-1a algorithm)
func hash(s string) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}
