package transform

import (
	"context"
	"errors"
	"strings"
	"testing"

	"testloom/internal/diff"
)

// appendPass is a stub pass that appends one line to the source.
type appendPass struct {
	line string
}

func (p *appendPass) Name() string { return "append-" + p.line }

func (p *appendPass) Apply(_ context.Context, source string) (string, []diff.Span, error) {
	out := source + p.line + "\n"
	return out, diff.ChangedSpans(source, out), nil
}

// failPass always errors.
type failPass struct{}

func (p *failPass) Name() string { return "fail" }

func (p *failPass) Apply(context.Context, string) (string, []diff.Span, error) {
	return "", nil, errors.New("boom")
}

func TestChainAppliesInOrder(t *testing.T) {
	chain := NewChain(&appendPass{line: "first"}, &appendPass{line: "second"})

	out, spans, err := chain.Apply(context.Background(), "base\n")
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if out != "base\nfirst\nsecond\n" {
		t.Errorf("got %q", out)
	}
	if len(spans) != 1 || spans[0].Start != 2 || spans[0].End != 3 {
		t.Errorf("cumulative spans = %v, want [2-3]", spans)
	}
}

func TestChainStopsOnError(t *testing.T) {
	chain := NewChain(&failPass{}, &appendPass{line: "never"})

	_, _, err := chain.Apply(context.Background(), "base\n")
	if err == nil {
		t.Fatal("expected error from failing pass")
	}
	if !strings.Contains(err.Error(), "fail") {
		t.Errorf("error does not name the pass: %v", err)
	}
}

func TestChainNoChangeNoSpans(t *testing.T) {
	p := NewCleanupPass(DefaultCleanupConfig())
	t.Cleanup(p.Close)
	chain := NewChain(p)

	source := "await page.goto('https://app.example.com/home');\n"
	out, spans, err := chain.Apply(context.Background(), source)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if out != source || len(spans) != 0 {
		t.Errorf("no-op chain changed source or spans: %q %v", out, spans)
	}
}
