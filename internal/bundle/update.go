package bundle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"testloom/internal/diff"
	"testloom/internal/locator"
	"testloom/internal/logging"
	"testloom/internal/recorder"
	"testloom/internal/transform"
)

// ErrBadAnchor reports step markers that are missing, duplicated or out of
// range. No operation writes anything after hitting it.
var ErrBadAnchor = errors.New("step anchor not usable")

// StepBlock is one addressable step: its marker identity plus the raw body
// lines it owns. Body bytes round-trip verbatim through delete and re-add.
type StepBlock struct {
	ID   string
	Hint string
	Body string
}

// UpdateResult reports the rewritten source and which lines of it changed.
type UpdateResult struct {
	UpdatedSource    string
	UpdatedLineSpans []diff.Span
}

// Updater applies targeted step edits to a stored bundle's spec source.
// Steps are addressed by their `// step:<id>` marker comments; everything
// outside the affected step regions survives byte-for-byte, including hand
// edits. Every operation is all-or-nothing: validation failures and parse
// failures surface before any write, and writes are atomic.
type Updater struct {
	store  *Store
	parser *transform.Parser
}

// NewUpdater creates an updater over the store.
func NewUpdater(store *Store) *Updater {
	return &Updater{store: store, parser: transform.NewParser()}
}

// Close releases the parser.
func (u *Updater) Close() {
	u.parser.Close()
}

var markerLineRe = regexp.MustCompile(`^[ \t]*// step:([0-9a-f]{8})(?:[ \t]+(.*))?$`)

type markerInfo struct {
	line int
	id   string
	hint string
}

// specLayout is the line-indexed view of a spec: where the test body opens
// and closes, and where each step marker sits. Step i's region runs from
// its marker line up to the next marker line (or the body close).
type specLayout struct {
	lines     []string // split after newline; concatenation restores the source
	markers   []markerInfo
	openLine  int // line containing the test body's opening brace
	closeLine int // line containing the test body's closing brace
}

func (l *specLayout) region(i int) (start, end int) {
	start = l.markers[i].line
	if i+1 < len(l.markers) {
		return start, l.markers[i+1].line
	}
	return start, l.closeLine
}

func (l *specLayout) block(i int) StepBlock {
	start, end := l.region(i)
	return StepBlock{
		ID:   l.markers[i].id,
		Hint: l.markers[i].hint,
		Body: strings.Join(l.lines[start+1:end], ""),
	}
}

func (u *Updater) parseLayout(ctx context.Context, source string) (*specLayout, error) {
	script, err := u.parser.Parse(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("parse spec: %w", err)
	}
	defer script.Close()

	if script.HasError() {
		return nil, fmt.Errorf("spec source does not parse: %w", ErrBadAnchor)
	}
	bodyStart, bodyEnd, ok := script.TestBodyRange()
	if !ok {
		return nil, fmt.Errorf("no test body found: %w", ErrBadAnchor)
	}

	layout := &specLayout{
		lines:     strings.SplitAfter(source, "\n"),
		openLine:  lineOfByte(source, bodyStart),
		closeLine: lineOfByte(source, bodyEnd),
	}

	seen := map[string]bool{}
	for i := layout.openLine + 1; i < layout.closeLine && i < len(layout.lines); i++ {
		m := markerLineRe.FindStringSubmatch(strings.TrimRight(layout.lines[i], "\n"))
		if m == nil {
			continue
		}
		if seen[m[1]] {
			return nil, fmt.Errorf("duplicate step marker %s: %w", m[1], ErrBadAnchor)
		}
		seen[m[1]] = true
		layout.markers = append(layout.markers, markerInfo{line: i, id: m[1], hint: m[2]})
	}
	return layout, nil
}

func lineOfByte(source string, offset int) int {
	if offset > len(source) {
		offset = len(source)
	}
	return strings.Count(source[:offset], "\n")
}

// load reads the spec source for a slug. Caller holds the slug lock.
func (u *Updater) load(slug string) (string, error) {
	stored, err := u.store.Load(slug)
	if err != nil {
		return "", err
	}
	if stored.SpecSource == "" {
		return "", fmt.Errorf("bundle %s has no spec source: %w", slug, ErrNotFound)
	}
	return stored.SpecSource, nil
}

// apply verifies the edited source still parses, writes it atomically and
// reports the changed line spans.
func (u *Updater) apply(ctx context.Context, slug, op, oldSource, newSource string) (*UpdateResult, error) {
	script, err := u.parser.Parse(ctx, newSource)
	if err != nil {
		return nil, fmt.Errorf("%s %s: reparse: %w", op, slug, err)
	}
	broken := script.HasError()
	script.Close()
	if broken {
		return nil, fmt.Errorf("%s %s: edit would break the spec source", op, slug)
	}

	if err := u.store.WriteSpec(slug, newSource); err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, slug, err)
	}
	return &UpdateResult{
		UpdatedSource:    newSource,
		UpdatedLineSpans: diff.ChangedSpans(oldSource, newSource),
	}, nil
}

func (u *Updater) audited(op, slug string, start time.Time, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	logging.Audit().BundleUpdate(slug, op, time.Since(start).Milliseconds(), err == nil, msg)
}

// AddStep inserts a step block. at is the target index in document order;
// -1 or an index past the last step appends. A block without an ID gets a
// fresh marker id derived from its body.
func (u *Updater) AddStep(ctx context.Context, slug string, block StepBlock, at int) (result *UpdateResult, err error) {
	start := time.Now()
	defer func() { u.audited("addStep", slug, start, err) }()

	lock := u.store.Lock(slug)
	lock.Lock()
	defer lock.Unlock()

	source, err := u.load(slug)
	if err != nil {
		return nil, err
	}
	layout, err := u.parseLayout(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("addStep %s: %w", slug, err)
	}

	existing := map[string]bool{}
	for _, m := range layout.markers {
		existing[m.id] = true
	}
	if block.ID == "" {
		block.ID = freshStepID(block.Body, existing)
	} else if existing[block.ID] {
		return nil, fmt.Errorf("addStep %s: marker %s already present: %w", slug, block.ID, ErrBadAnchor)
	}

	insertLine := layout.closeLine
	if at >= 0 && at < len(layout.markers) {
		insertLine = layout.markers[at].line
	} else if len(layout.markers) == 0 {
		insertLine = layout.openLine + 1
	}

	indent := markerIndent(layout)
	body := block.Body
	if body != "" && !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	inserted := indent + "// step:" + block.ID
	if block.Hint != "" {
		inserted += " " + block.Hint
	}
	inserted += "\n" + body

	var b strings.Builder
	b.WriteString(strings.Join(layout.lines[:insertLine], ""))
	b.WriteString(inserted)
	b.WriteString(strings.Join(layout.lines[insertLine:], ""))

	return u.apply(ctx, slug, "addStep", source, b.String())
}

// DeleteStep removes the step at index and returns the removed block, so a
// later AddStep can restore it verbatim.
func (u *Updater) DeleteStep(ctx context.Context, slug string, index int) (block StepBlock, result *UpdateResult, err error) {
	start := time.Now()
	defer func() { u.audited("deleteStep", slug, start, err) }()

	lock := u.store.Lock(slug)
	lock.Lock()
	defer lock.Unlock()

	source, err := u.load(slug)
	if err != nil {
		return StepBlock{}, nil, err
	}
	layout, err := u.parseLayout(ctx, source)
	if err != nil {
		return StepBlock{}, nil, fmt.Errorf("deleteStep %s: %w", slug, err)
	}
	if index < 0 || index >= len(layout.markers) {
		return StepBlock{}, nil, fmt.Errorf("deleteStep %s: index %d of %d steps: %w",
			slug, index, len(layout.markers), ErrBadAnchor)
	}

	block = layout.block(index)
	regionStart, regionEnd := layout.region(index)

	var b strings.Builder
	b.WriteString(strings.Join(layout.lines[:regionStart], ""))
	b.WriteString(strings.Join(layout.lines[regionEnd:], ""))

	result, err = u.apply(ctx, slug, "deleteStep", source, b.String())
	if err != nil {
		return StepBlock{}, nil, err
	}
	return block, result, nil
}

// UpdateStep replaces the body of the step at index, keeping its marker
// line untouched.
func (u *Updater) UpdateStep(ctx context.Context, slug string, index int, newBody string) (result *UpdateResult, err error) {
	start := time.Now()
	defer func() { u.audited("updateStep", slug, start, err) }()

	lock := u.store.Lock(slug)
	lock.Lock()
	defer lock.Unlock()

	source, err := u.load(slug)
	if err != nil {
		return nil, err
	}
	layout, err := u.parseLayout(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("updateStep %s: %w", slug, err)
	}
	if index < 0 || index >= len(layout.markers) {
		return nil, fmt.Errorf("updateStep %s: index %d of %d steps: %w",
			slug, index, len(layout.markers), ErrBadAnchor)
	}

	if newBody != "" && !strings.HasSuffix(newBody, "\n") {
		newBody += "\n"
	}
	regionStart, regionEnd := layout.region(index)

	var b strings.Builder
	b.WriteString(strings.Join(layout.lines[:regionStart+1], ""))
	b.WriteString(newBody)
	b.WriteString(strings.Join(layout.lines[regionEnd:], ""))

	return u.apply(ctx, slug, "updateStep", source, b.String())
}

// ReorderSteps moves the block of steps [fromStart, fromEnd] so that the
// first moved step lands at index to in the resulting order. Content inside
// each step region travels with its step.
func (u *Updater) ReorderSteps(ctx context.Context, slug string, fromStart, fromEnd, to int) (result *UpdateResult, err error) {
	start := time.Now()
	defer func() { u.audited("reorderSteps", slug, start, err) }()

	lock := u.store.Lock(slug)
	lock.Lock()
	defer lock.Unlock()

	source, err := u.load(slug)
	if err != nil {
		return nil, err
	}
	layout, err := u.parseLayout(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("reorderSteps %s: %w", slug, err)
	}

	count := len(layout.markers)
	if fromStart < 0 || fromEnd < fromStart || fromEnd >= count {
		return nil, fmt.Errorf("reorderSteps %s: range [%d,%d] of %d steps: %w",
			slug, fromStart, fromEnd, count, ErrBadAnchor)
	}
	moved := fromEnd - fromStart + 1
	if to < 0 || to > count-moved {
		return nil, fmt.Errorf("reorderSteps %s: target %d of %d remaining slots: %w",
			slug, to, count-moved, ErrBadAnchor)
	}

	regions := make([]string, count)
	for i := 0; i < count; i++ {
		rs, re := layout.region(i)
		regions[i] = strings.Join(layout.lines[rs:re], "")
	}

	var keep []string
	for i, r := range regions {
		if i < fromStart || i > fromEnd {
			keep = append(keep, r)
		}
	}
	reordered := make([]string, 0, count)
	reordered = append(reordered, keep[:to]...)
	reordered = append(reordered, regions[fromStart:fromEnd+1]...)
	reordered = append(reordered, keep[to:]...)

	firstRegion, _ := layout.region(0)
	var b strings.Builder
	b.WriteString(strings.Join(layout.lines[:firstRegion], ""))
	for _, r := range reordered {
		b.WriteString(r)
	}
	b.WriteString(strings.Join(layout.lines[layout.closeLine:], ""))

	return u.apply(ctx, slug, "reorderSteps", source, b.String())
}

// Steps lists the step blocks of a stored spec in document order.
func (u *Updater) Steps(ctx context.Context, slug string) ([]StepBlock, error) {
	source, err := u.load(slug)
	if err != nil {
		return nil, err
	}
	layout, err := u.parseLayout(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("steps %s: %w", slug, err)
	}
	blocks := make([]StepBlock, len(layout.markers))
	for i := range layout.markers {
		blocks[i] = layout.block(i)
	}
	return blocks, nil
}

// BlockForStep renders a fresh step block, indented to match generated
// specs, for AddStep.
func BlockForStep(step recorder.RecordedStep, loc locator.Locator) StepBlock {
	return StepBlock{
		Hint: stepHint(step, loc),
		Body: "    " + recorder.Statement(step, loc) + "\n",
	}
}

// markerIndent matches new marker lines to the file's existing ones.
func markerIndent(layout *specLayout) string {
	if len(layout.markers) > 0 {
		line := layout.lines[layout.markers[0].line]
		return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
	}
	return "    "
}

// freshStepID derives a marker id for a new step, salting until it misses
// every existing marker.
func freshStepID(body string, existing map[string]bool) string {
	for salt := 0; ; salt++ {
		h := sha256.New()
		fmt.Fprintf(h, "%s\x00%d", body, salt)
		id := hex.EncodeToString(h.Sum(nil))[:8]
		if !existing[id] {
			return id
		}
	}
}
