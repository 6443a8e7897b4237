package locator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"testloom/internal/logging"
)

// ErrSuperseded is returned when a newer inspection replaced this one
// while its page query was still in flight.
var ErrSuperseded = errors.New("superseded by a newer inspection")

// Inspector serializes hover-driven evaluations with last-invocation-wins
// semantics: a newer request cancels the query of an older one, and an
// older result arriving late is discarded instead of delivered.
type Inspector struct {
	eval    *Evaluator
	querier PageQuerier

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

// NewInspector builds an inspector over one live page session.
func NewInspector(eval *Evaluator, q PageQuerier) *Inspector {
	return &Inspector{eval: eval, querier: q}
}

// Inspect evaluates the locator. Callers run Inspect from their own
// goroutine per hover event; the inspector spawns none of its own.
func (ins *Inspector) Inspect(ctx context.Context, loc Locator) (Evaluation, error) {
	rid := uuid.NewString()[:8]
	start := time.Now()

	ins.mu.Lock()
	ins.gen++
	myGen := ins.gen
	if ins.cancel != nil {
		ins.cancel()
	}
	ictx, cancel := context.WithCancel(ctx)
	ins.cancel = cancel
	ins.mu.Unlock()

	result := ins.eval.Evaluate(ictx, ins.querier, loc)

	ins.mu.Lock()
	current := ins.gen == myGen
	if current {
		ins.cancel = nil
	}
	ins.mu.Unlock()
	cancel()

	if !current {
		logging.Audit().LocatorSuperseded(rid, loc.Selector)
		logging.LocatorDebug("[%s] inspection superseded for %q", rid, loc.Selector)
		return Evaluation{}, ErrSuperseded
	}

	logging.Audit().LocatorEvaluate(rid, loc.Selector, result.Uniqueness.MatchCount, time.Since(start).Milliseconds())
	return result, nil
}
