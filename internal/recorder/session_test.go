package recorder

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"testloom/internal/locator"
)

func TestSessionLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewSession("https://app.example.com/orders")
	if s.ID == "" {
		t.Fatal("session has no ID")
	}
	if s.State() != StateCreated {
		t.Fatalf("state = %v, want created", s.State())
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}

	events := []CaptureEvent{
		{ActionKind: ActionNavigate, Value: "https://app.example.com/orders"},
		{ActionKind: ActionFill, Value: "Acme Corp", Candidates: []locator.Locator{
			{Strategy: locator.StrategyLabel, Selector: "Customer Name"},
		}},
		{ActionKind: ActionClick, Candidates: []locator.Locator{
			{Strategy: locator.StrategyRole, Selector: `button[name="Save"]`},
		}},
	}
	for _, ev := range events {
		if err := s.Feed(ev); err != nil {
			t.Fatalf("Feed failed: %v", err)
		}
	}

	steps := s.Stop()
	if len(steps) != 3 {
		t.Fatalf("got %d steps, want 3", len(steps))
	}
	for i, step := range steps {
		if step.Order != i {
			t.Errorf("step %d has order %d", i, step.Order)
		}
		if step.Timestamp.IsZero() {
			t.Errorf("step %d has zero timestamp", i)
		}
		if step.FrameContext != "main" {
			t.Errorf("step %d frame = %q, want main", i, step.FrameContext)
		}
	}
	if steps[0].ActionKind != ActionNavigate || steps[2].ActionKind != ActionClick {
		t.Errorf("step kinds out of order: %v, %v", steps[0].ActionKind, steps[2].ActionKind)
	}

	if err := s.Feed(CaptureEvent{ActionKind: ActionClick}); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Feed after stop = %v, want ErrNotRecording", err)
	}

	again := s.Stop()
	if len(again) != 3 {
		t.Errorf("second Stop returned %d steps, want 3", len(again))
	}
}

func TestSessionSerializesConcurrentEvents(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewSession("https://app.example.com")
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.Feed(CaptureEvent{
				ActionKind: ActionClick,
				Value:      fmt.Sprintf("event-%d", i),
			}); err != nil {
				t.Errorf("Feed %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	steps := s.Stop()
	if len(steps) != n {
		t.Fatalf("got %d steps, want %d", len(steps), n)
	}
	seen := make(map[string]bool)
	for i, step := range steps {
		if step.Order != i {
			t.Errorf("step %d has order %d, appends interleaved", i, step.Order)
		}
		if seen[step.Value] {
			t.Errorf("duplicate event %q", step.Value)
		}
		seen[step.Value] = true
	}
}

func TestSessionDrainsBufferedEventsOnStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewSession("https://app.example.com")
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		if err := s.Feed(CaptureEvent{ActionKind: ActionClick}); err != nil {
			t.Fatalf("Feed failed: %v", err)
		}
	}
	if got := len(s.Stop()); got != 10 {
		t.Errorf("got %d steps after stop, want 10", got)
	}
}

func TestSessionSetDescription(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewSession("https://app.example.com")
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Feed(CaptureEvent{ActionKind: ActionClick}); err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	s.Stop()

	if err := s.SetDescription(0, "open the first order"); err != nil {
		t.Fatalf("SetDescription failed: %v", err)
	}
	if got := s.Steps()[0].Description; got != "open the first order" {
		t.Errorf("description = %q", got)
	}
	if err := s.SetDescription(5, "x"); err == nil {
		t.Error("SetDescription accepted an out-of-range order")
	}
}

func TestSessionDiscard(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewSession("https://app.example.com")
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Feed(CaptureEvent{ActionKind: ActionClick}); err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	s.Discard()
	if got := len(s.Steps()); got != 0 {
		t.Errorf("discarded session still has %d steps", got)
	}
}

func TestSessionLastHover(t *testing.T) {
	s := NewSession("https://app.example.com")
	if _, ok := s.LastHover(); ok {
		t.Error("fresh session reports a hover")
	}
	loc := locator.Locator{Strategy: locator.StrategyTestID, Selector: "save-btn"}
	s.SetLastHover(loc)
	got, ok := s.LastHover()
	if !ok || got != loc {
		t.Errorf("LastHover = %+v, %v", got, ok)
	}
}

func TestEmitSource(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewSession("https://app.example.com/orders")
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	events := []CaptureEvent{
		{ActionKind: ActionNavigate, Value: "https://app.example.com/orders"},
		{ActionKind: ActionFill, Value: "Acme Corp", Candidates: []locator.Locator{
			{Strategy: locator.StrategyLabel, Selector: "Customer Name"},
		}},
		{ActionKind: ActionClick, Candidates: []locator.Locator{
			{Strategy: locator.StrategyRole, Selector: `button[name="Save"]`},
		}},
	}
	for _, ev := range events {
		if err := s.Feed(ev); err != nil {
			t.Fatalf("Feed failed: %v", err)
		}
	}
	s.Stop()

	want := strings.Join([]string{
		"await page.goto('https://app.example.com/orders');",
		"await page.getByLabel('Customer Name').fill('Acme Corp');",
		"await page.getByRole('button', { name: 'Save' }).click();",
		"",
	}, "\n")
	if got := s.EmitSource(); got != want {
		t.Errorf("EmitSource:\n%s\nwant:\n%s", got, want)
	}
}

func TestStatementForms(t *testing.T) {
	loc := locator.Locator{Strategy: locator.StrategyTestID, Selector: "qty"}
	tests := []struct {
		step RecordedStep
		want string
	}{
		{RecordedStep{ActionKind: ActionSelect, Value: "High"}, "await page.getByTestId('qty').selectOption('High');"},
		{RecordedStep{ActionKind: ActionPress, Value: "Enter"}, "await page.getByTestId('qty').press('Enter');"},
		{RecordedStep{ActionKind: ActionCheck}, "await page.getByTestId('qty').check();"},
		{RecordedStep{ActionKind: ActionHover}, "await page.getByTestId('qty').hover();"},
	}
	for _, tt := range tests {
		if got := Statement(tt.step, loc); got != tt.want {
			t.Errorf("Statement(%s) = %q, want %q", tt.step.ActionKind, got, tt.want)
		}
	}
}
