package diff

import (
	"fmt"
	"strings"
	"testing"
)

func TestChangedSpans_Identical(t *testing.T) {
	content := "line1\nline2\nline3\n"

	spans := ChangedSpans(content, content)
	if spans != nil {
		t.Errorf("Expected nil spans for identical content, got %v", spans)
	}
}

func TestChangedSpans_Replacement(t *testing.T) {
	oldContent := "line1\nline2\nline3\n"
	newContent := "line1\nCHANGED\nline3\n"

	spans := ChangedSpans(oldContent, newContent)
	if len(spans) != 1 {
		t.Fatalf("Expected 1 span, got %d: %v", len(spans), spans)
	}
	if spans[0].Start != 2 || spans[0].End != 2 {
		t.Errorf("Expected span 2-2, got %v", spans[0])
	}
}

func TestChangedSpans_Insertion(t *testing.T) {
	oldContent := "  await page.goto('https://app.example.com');\n  await submit.click();\n"
	newContent := "  await page.goto('https://app.example.com');\n  await name.fill('Acme');\n  await submit.click();\n"

	spans := ChangedSpans(oldContent, newContent)
	if len(spans) != 1 {
		t.Fatalf("Expected 1 span, got %d: %v", len(spans), spans)
	}
	if spans[0].Start != 2 || spans[0].End != 2 {
		t.Errorf("Expected inserted line reported as span 2-2, got %v", spans[0])
	}
}

func TestChangedSpans_Removal(t *testing.T) {
	oldContent := "line1\nline2\nline3\nline4\n"
	newContent := "line1\nline4\n"

	spans := ChangedSpans(oldContent, newContent)
	if len(spans) != 1 {
		t.Fatalf("Expected 1 span, got %d: %v", len(spans), spans)
	}
	span := spans[0]
	if !span.Empty() {
		t.Errorf("Pure removal should yield an empty span, got %v", span)
	}
	if span.Start != 2 {
		t.Errorf("Removal point should be line 2 of the updated text, got %v", span)
	}
}

func TestChangedSpans_AdjacentChangesMerge(t *testing.T) {
	oldContent := "line1\nline2\nline3\nline4\nline5\n"
	newContent := "line1\nCHANGED2\nCHANGED3\nline4\nline5\n"

	spans := ChangedSpans(oldContent, newContent)
	if len(spans) != 1 {
		t.Fatalf("Adjacent changes should merge into 1 span, got %d: %v", len(spans), spans)
	}
	if spans[0].Start != 2 || spans[0].End != 3 {
		t.Errorf("Expected span 2-3, got %v", spans[0])
	}
}

func TestChangedSpans_SeparatedChanges(t *testing.T) {
	var oldLines, newLines []string
	for i := 1; i <= 20; i++ {
		line := fmt.Sprintf("line-%02d", i)
		oldLines = append(oldLines, line)
		newLines = append(newLines, line)
	}
	newLines[2] = "CHANGED-A"
	newLines[15] = "CHANGED-B"

	spans := ChangedSpans(strings.Join(oldLines, "\n")+"\n", strings.Join(newLines, "\n")+"\n")
	if len(spans) != 2 {
		t.Fatalf("Expected 2 separate spans, got %d: %v", len(spans), spans)
	}
	if spans[0].Start != 3 || spans[0].End != 3 {
		t.Errorf("Expected first span at line 3, got %v", spans[0])
	}
	if spans[1].Start != 16 || spans[1].End != 16 {
		t.Errorf("Expected second span at line 16, got %v", spans[1])
	}
}

func TestSpanString(t *testing.T) {
	cases := []struct {
		span Span
		want string
	}{
		{Span{Start: 3, End: 3}, "3"},
		{Span{Start: 3, End: 7}, "3-7"},
		{Span{Start: 5, End: 4}, "@5"},
	}
	for _, tc := range cases {
		if got := tc.span.String(); got != tc.want {
			t.Errorf("Span%+v.String() = %q, want %q", tc.span, got, tc.want)
		}
	}
}

func TestComputeDiff_SimpleAddition(t *testing.T) {
	oldContent := "line1\nline2\nline3"
	newContent := "line1\nline2\nline2.5\nline3"

	engine := NewEngine()
	d := engine.ComputeDiff("old.spec.ts", "new.spec.ts", oldContent, newContent)

	if d == nil {
		t.Fatal("Expected diff, got nil")
	}
	if len(d.Hunks) != 1 {
		t.Errorf("Expected 1 hunk, got %d", len(d.Hunks))
	}
	if d.IsNew || d.IsDelete {
		t.Error("Should not be marked as new or delete")
	}

	hasAddition := false
	for _, hunk := range d.Hunks {
		for _, line := range hunk.Lines {
			if line.Type == LineAdded && line.Content == "line2.5" {
				hasAddition = true
			}
		}
	}
	if !hasAddition {
		t.Error("Expected to find added line 'line2.5'")
	}
}

func TestComputeDiff_SimpleDeletion(t *testing.T) {
	oldContent := "line1\nline2\nline3\nline4"
	newContent := "line1\nline2\nline4"

	engine := NewEngine()
	d := engine.ComputeDiff("old.spec.ts", "new.spec.ts", oldContent, newContent)

	hasRemoval := false
	for _, hunk := range d.Hunks {
		for _, line := range hunk.Lines {
			if line.Type == LineRemoved && line.Content == "line3" {
				hasRemoval = true
			}
		}
	}
	if !hasRemoval {
		t.Error("Expected to find removed line 'line3'")
	}
}

func TestComputeDiff_NoChanges(t *testing.T) {
	content := "line1\nline2\nline3"

	engine := NewEngine()
	d := engine.ComputeDiff("a.spec.ts", "a.spec.ts", content, content)

	if len(d.Hunks) != 0 {
		t.Errorf("Expected 0 hunks for identical content, got %d", len(d.Hunks))
	}
}

func TestComputeDiff_Caching(t *testing.T) {
	oldContent := "line1\nline2\nline3"
	newContent := "line1\nline2\nline3\nline4"

	engine := NewEngine()

	diff1 := engine.ComputeDiff("old.spec.ts", "new.spec.ts", oldContent, newContent)
	diff2 := engine.ComputeDiff("old2.spec.ts", "new2.spec.ts", oldContent, newContent)

	if len(diff1.Hunks) != len(diff2.Hunks) {
		t.Errorf("Cache should preserve hunk count: %d vs %d", len(diff1.Hunks), len(diff2.Hunks))
	}
	if diff2.OldPath != "old2.spec.ts" || diff2.NewPath != "new2.spec.ts" {
		t.Error("Cached diff should have updated paths")
	}

	engine.ClearCache()
	diff3 := engine.ComputeDiff("old.spec.ts", "new.spec.ts", oldContent, newContent)
	if len(diff3.Hunks) != len(diff1.Hunks) {
		t.Error("Cache clearing should not affect diff computation")
	}
}

func TestUnifiedRendering(t *testing.T) {
	oldContent := "line1\nline2\nline3"
	newContent := "line1\nNEW\nline3"

	d := ComputeDiff("old.spec.ts", "new.spec.ts", oldContent, newContent)
	out := d.Unified()

	if !strings.Contains(out, "@@") {
		t.Error("Expected hunk header in unified output")
	}
	if !strings.Contains(out, "-line2") {
		t.Errorf("Expected removed line in unified output, got:\n%s", out)
	}
	if !strings.Contains(out, "+NEW") {
		t.Errorf("Expected added line in unified output, got:\n%s", out)
	}
}

func TestComputeDiff_HunkCounts(t *testing.T) {
	oldContent := "line1\nline2\nline3"
	newContent := "line1\nNEW\nline3"

	engine := NewEngine()
	d := engine.ComputeDiff("old.spec.ts", "new.spec.ts", oldContent, newContent)

	if len(d.Hunks) != 1 {
		t.Fatalf("Expected 1 hunk, got %d", len(d.Hunks))
	}

	hunk := d.Hunks[0]

	oldCount := 0
	newCount := 0
	for _, line := range hunk.Lines {
		if line.Type == LineRemoved || line.Type == LineContext {
			oldCount++
		}
		if line.Type == LineAdded || line.Type == LineContext {
			newCount++
		}
	}

	if hunk.OldCount != oldCount {
		t.Errorf("OldCount mismatch: expected %d, got %d", oldCount, hunk.OldCount)
	}
	if hunk.NewCount != newCount {
		t.Errorf("NewCount mismatch: expected %d, got %d", newCount, hunk.NewCount)
	}
}

func BenchmarkChangedSpans_Small(b *testing.B) {
	oldContent := "line1\nline2\nline3"
	newContent := "line1\nCHANGED\nline3"
	engine := NewEngine()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		engine.ChangedSpans(oldContent, newContent)
	}
}

func BenchmarkComputeDiff_WithCache(b *testing.B) {
	oldContent := "line1\nline2\nline3"
	newContent := "line1\nCHANGED\nline3"
	engine := NewEngine()

	engine.ComputeDiff("old.spec.ts", "new.spec.ts", oldContent, newContent)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		engine.ComputeDiff("old.spec.ts", "new.spec.ts", oldContent, newContent)
	}
}
