// Package index builds the locator inventory over stored bundles and keeps
// per-locator maintenance status in sqlite. The inventory feeds a
// locator-health dashboard: which locators exist, how often they are used
// and in which tests, and whether anyone has marked them stale or broken.
package index

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"testloom/internal/bundle"
	"testloom/internal/locator"
	"testloom/internal/logging"
)

// Usage counts one locator's occurrences inside one test.
type Usage struct {
	StrategyType string
	Locator      string
	Slug         string
	Count        int
}

// Entry is one aggregated inventory row.
type Entry struct {
	Locator      string   `json:"locator"`
	StrategyType string   `json:"strategyType"`
	UsageCount   int      `json:"usageCount"`
	UsedInTests  []string `json:"usedInTests"`
}

// Builder scans stored bundles for locator usage. Bundles generated here
// carry strategy and locator text in their meta steps and are read directly;
// bundles without that data (hand-written, or predating it) fall back to
// pattern recovery over the spec source.
type Builder struct {
	store *bundle.Store
}

// NewBuilder creates a builder over the bundle store.
func NewBuilder(store *bundle.Store) *Builder {
	return &Builder{store: store}
}

// Build rebuilds the full inventory: scan every bundle, aggregate, report.
func (b *Builder) Build(ctx context.Context) ([]Entry, error) {
	start := time.Now()
	infos, err := b.store.List()
	if err != nil {
		return nil, fmt.Errorf("list bundles: %w", err)
	}

	usages, err := b.scanAll(ctx, infos)
	if err != nil {
		logging.Audit().IndexRebuild(len(infos), 0, time.Since(start).Milliseconds(), false, err.Error())
		return nil, err
	}

	entries := Aggregate(usages)
	logging.Audit().IndexRebuild(len(infos), len(entries), time.Since(start).Milliseconds(), true, "")
	logging.Index("rebuilt locator inventory: %d bundles, %d entries", len(infos), len(entries))
	return entries, nil
}

// Scan collects per-test usage rows across all bundles, unaggregated, for
// persistence in the maintenance store.
func (b *Builder) Scan(ctx context.Context) ([]Usage, error) {
	infos, err := b.store.List()
	if err != nil {
		return nil, fmt.Errorf("list bundles: %w", err)
	}
	return b.scanAll(ctx, infos)
}

// scanAll reads bundles concurrently. The scan never writes, so it runs
// outside the store's per-bundle write locks.
func (b *Builder) scanAll(ctx context.Context, infos []bundle.Info) ([]Usage, error) {
	var (
		mu     sync.Mutex
		usages []Usage
	)

	eg, egCtx := errgroup.WithContext(ctx)
	for _, info := range infos {
		if info.State != bundle.StateComplete && info.State != bundle.StateIncomplete {
			continue
		}
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			found, err := b.scanBundle(info.Slug)
			if err != nil {
				return err
			}
			mu.Lock()
			usages = append(usages, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return usages, nil
}

func (b *Builder) scanBundle(slug string) ([]Usage, error) {
	stored, err := b.store.Load(slug)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", slug, err)
	}
	if stored.Meta != nil && len(stored.Meta.Steps) > 0 {
		return CanonicalUsage(slug, stored.Meta.Steps), nil
	}
	if stored.SpecSource == "" {
		return nil, nil
	}
	logging.IndexDebug("meta for %s has no step data, recovering locators from source", slug)
	return RecoverUsage(slug, stored.SpecSource), nil
}

// CanonicalUsage reads locator usage straight out of meta steps, the data
// recorded at generation time. Navigations carry no locator and are skipped.
func CanonicalUsage(slug string, steps []bundle.MetaStep) []Usage {
	counts := map[[2]string]int{}
	var order [][2]string
	for _, step := range steps {
		if step.Strategy == "" || step.Locator == "" {
			continue
		}
		key := [2]string{step.Strategy, step.Locator}
		if _, ok := counts[key]; !ok {
			order = append(order, key)
		}
		counts[key]++
	}

	usages := make([]Usage, 0, len(order))
	for _, key := range order {
		usages = append(usages, Usage{
			StrategyType: key[0],
			Locator:      key[1],
			Slug:         slug,
			Count:        counts[key],
		})
	}
	return usages
}

// recoveryPatterns invert the locator expressions the generator emits. The
// quoted argument admits escaped quotes and backslashes.
var recoveryPatterns = []struct {
	strategy locator.Strategy
	re       *regexp.Regexp
}{
	{locator.StrategyTestID, regexp.MustCompile(`\.getByTestId\('((?:[^'\\]|\\.)*)'\)`)},
	{locator.StrategyLabel, regexp.MustCompile(`\.getByLabel\('((?:[^'\\]|\\.)*)'\)`)},
	{locator.StrategyPlaceholder, regexp.MustCompile(`\.getByPlaceholder\('((?:[^'\\]|\\.)*)'\)`)},
	{locator.StrategyText, regexp.MustCompile(`\.getByText\('((?:[^'\\]|\\.)*)'\)`)},
	{locator.StrategyCSS, regexp.MustCompile(`\.locator\('((?:[^'\\]|\\.)*)'\)`)},
}

var recoverRoleRe = regexp.MustCompile(`\.getByRole\('((?:[^'\\]|\\.)*)'(?:,\s*\{\s*name:\s*'((?:[^'\\]|\\.)*)'\s*\})?\)`)

// RecoverUsage extracts locator usage from spec source by pattern matching.
// It is the fallback for bundles whose meta carries no step data; on specs
// this tool generated it reproduces CanonicalUsage exactly.
func RecoverUsage(slug, source string) []Usage {
	counts := map[[2]string]int{}
	var order [][2]string
	add := func(strategy locator.Strategy, selector string) {
		if selector == "" {
			return
		}
		key := [2]string{string(strategy), selector}
		if _, ok := counts[key]; !ok {
			order = append(order, key)
		}
		counts[key]++
	}

	for _, m := range recoverRoleRe.FindAllStringSubmatch(source, -1) {
		add(locator.StrategyRole, locator.RoleSelector(unescapeJS(m[1]), unescapeJS(m[2])))
	}
	for _, p := range recoveryPatterns {
		for _, m := range p.re.FindAllStringSubmatch(source, -1) {
			strategy := p.strategy
			selector := unescapeJS(m[1])
			if strategy == locator.StrategyCSS && strings.HasPrefix(selector, "xpath=") {
				strategy = locator.StrategyXPath
				selector = strings.TrimPrefix(selector, "xpath=")
			}
			add(strategy, selector)
		}
	}

	usages := make([]Usage, 0, len(order))
	for _, key := range order {
		usages = append(usages, Usage{
			StrategyType: key[0],
			Locator:      key[1],
			Slug:         slug,
			Count:        counts[key],
		})
	}
	return usages
}

// Aggregate folds per-test usage into inventory entries, most used first;
// ties order by strategy then locator text so output is deterministic.
func Aggregate(usages []Usage) []Entry {
	byKey := map[[2]string]*Entry{}
	for _, u := range usages {
		key := [2]string{u.StrategyType, u.Locator}
		e, ok := byKey[key]
		if !ok {
			e = &Entry{Locator: u.Locator, StrategyType: u.StrategyType}
			byKey[key] = e
		}
		e.UsageCount += u.Count
		e.UsedInTests = append(e.UsedInTests, u.Slug)
	}

	entries := make([]Entry, 0, len(byKey))
	for _, e := range byKey {
		sort.Strings(e.UsedInTests)
		e.UsedInTests = dedupeSorted(e.UsedInTests)
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].UsageCount != entries[j].UsageCount {
			return entries[i].UsageCount > entries[j].UsageCount
		}
		if entries[i].StrategyType != entries[j].StrategyType {
			return entries[i].StrategyType < entries[j].StrategyType
		}
		return entries[i].Locator < entries[j].Locator
	})
	return entries
}

func dedupeSorted(s []string) []string {
	out := s[:0]
	for i, v := range s {
		if i == 0 || v != s[i-1] {
			out = append(out, v)
		}
	}
	return out
}

// unescapeJS undoes single-quote JS literal escaping.
func unescapeJS(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	escaped := false
	for _, r := range s {
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
