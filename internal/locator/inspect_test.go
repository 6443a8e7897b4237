package locator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/goleak"
)

// gateQuerier blocks its first call until that call's context is canceled
// and answers later calls immediately.
type gateQuerier struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
}

func (q *gateQuerier) CountMatches(ctx context.Context, _ Locator) (int, error) {
	q.mu.Lock()
	q.calls++
	first := q.calls == 1
	q.mu.Unlock()

	if first {
		close(q.started)
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return 1, nil
}

func TestInspectSequential(t *testing.T) {
	defer goleak.VerifyNone(t)

	ins := NewInspector(NewEvaluator(0), &fixedQuerier{count: 1})
	loc := Locator{Strategy: StrategyLabel, Selector: "Customer Name"}

	for i := 0; i < 3; i++ {
		ev, err := ins.Inspect(context.Background(), loc)
		if err != nil {
			t.Fatalf("Inspect %d failed: %v", i, err)
		}
		if !ev.Uniqueness.IsUnique {
			t.Errorf("Inspect %d: not unique", i)
		}
	}
}

func TestInspectLastInvocationWins(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := &gateQuerier{started: make(chan struct{})}
	ins := NewInspector(NewEvaluator(0), q)
	loc := Locator{Strategy: StrategyTestID, Selector: "order-submit"}

	older := make(chan error, 1)
	go func() {
		_, err := ins.Inspect(context.Background(), loc)
		older <- err
	}()
	<-q.started

	// The newer request cancels the older one's in-flight query.
	ev, err := ins.Inspect(context.Background(), loc)
	if err != nil {
		t.Fatalf("newer Inspect failed: %v", err)
	}
	if !ev.Uniqueness.IsUnique {
		t.Errorf("newer evaluation = %+v, want unique", ev.Uniqueness)
	}

	if err := <-older; !errors.Is(err, ErrSuperseded) {
		t.Errorf("older Inspect error = %v, want ErrSuperseded", err)
	}
}

func TestInspectCallerCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	ins := NewInspector(NewEvaluator(0), &stuckQuerier{})
	loc := Locator{Strategy: StrategyCSS, Selector: ".row"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A canceled caller context degrades to a flagged evaluation, not a
	// supersession error.
	ev, err := ins.Inspect(ctx, loc)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if !ev.Locator.Flagged {
		t.Error("canceled inspection should be flagged")
	}
}
