// Package recorder owns the in-flight state of a recording: the ordered
// step list and the last hovered element. All mutation goes through
// Session methods so teardown is explicit; there is no ambient state.
package recorder

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"testloom/internal/locator"
	"testloom/internal/logging"
)

// SessionState tracks the session lifecycle.
type SessionState int

const (
	StateCreated SessionState = iota
	StateRecording
	StateStopped
)

var (
	// ErrNotRecording is returned by Feed when the session is not active.
	ErrNotRecording = errors.New("session is not recording")

	// ErrAlreadyStarted is returned by Start on a started session.
	ErrAlreadyStarted = errors.New("session already started")
)

// Session collects captured interaction events into a strictly ordered
// step list. Events may arrive from any goroutine; a single consumer
// serializes them, so no two steps ever interleave out of order.
type Session struct {
	ID        string
	StartURL  string
	StartedAt time.Time

	mu        sync.RWMutex
	state     SessionState
	steps     []RecordedStep
	lastHover locator.Locator
	hoverSet  bool

	events chan CaptureEvent
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSession creates a session that will open at startURL.
func NewSession(startURL string) *Session {
	return &Session{
		ID:       uuid.NewString(),
		StartURL: startURL,
		events:   make(chan CaptureEvent, 64),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins consuming capture events.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.state != StateCreated {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateRecording
	s.StartedAt = time.Now()
	s.mu.Unlock()

	logging.Recorder("session %s started at %s", s.ID, s.StartURL)
	logging.Audit().SessionStart(s.ID, s.StartURL)

	go s.consume()
	return nil
}

// Feed hands a capture event to the session. It blocks only while the
// event buffer is full and fails once the session stops.
func (s *Session) Feed(ev CaptureEvent) error {
	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()
	if state != StateRecording {
		return ErrNotRecording
	}

	select {
	case s.events <- ev:
		return nil
	case <-s.stopCh:
		return ErrNotRecording
	}
}

// Stop ends the session and returns the final step list. Events already
// buffered are appended before Stop returns; calling Stop again is a
// no-op returning the same steps.
func (s *Session) Stop() []RecordedStep {
	s.mu.Lock()
	if s.state != StateRecording {
		s.mu.Unlock()
		return s.Steps()
	}
	s.state = StateStopped
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh

	steps := s.Steps()
	logging.Recorder("session %s stopped with %d step(s)", s.ID, len(steps))
	logging.Audit().SessionEnd(s.ID, len(steps), time.Since(s.StartedAt).Milliseconds())
	return steps
}

// Discard stops the session and drops its steps.
func (s *Session) Discard() {
	s.Stop()
	s.mu.Lock()
	s.steps = nil
	s.mu.Unlock()
	logging.Recorder("session %s discarded", s.ID)
}

// consume is the single writer of the step list.
func (s *Session) consume() {
	defer close(s.doneCh)
	for {
		select {
		case ev := <-s.events:
			s.append(ev)
		case <-s.stopCh:
			for {
				select {
				case ev := <-s.events:
					s.append(ev)
				default:
					return
				}
			}
		}
	}
}

func (s *Session) append(ev CaptureEvent) {
	s.mu.Lock()
	step := RecordedStep{
		Order:             len(s.steps),
		ActionKind:        ev.ActionKind,
		LocatorCandidates: ev.Candidates,
		Value:             ev.Value,
		FrameContext:      ev.FrameContext,
		Timestamp:         ev.Timestamp,
		ScreenshotRef:     ev.ScreenshotRef,
	}
	if step.Timestamp.IsZero() {
		step.Timestamp = time.Now()
	}
	if step.FrameContext == "" {
		step.FrameContext = "main"
	}
	s.steps = append(s.steps, step)
	order := step.Order
	s.mu.Unlock()

	logging.RecorderDebug("session %s step %d: %s", s.ID, order, ev.ActionKind)
	logging.Audit().StepAppend(s.ID, string(ev.ActionKind), order)
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Steps returns a snapshot of the step list.
func (s *Session) Steps() []RecordedStep {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RecordedStep, len(s.steps))
	copy(out, s.steps)
	return out
}

// SetDescription updates the one mutable field of an appended step.
func (s *Session) SetDescription(order int, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order < 0 || order >= len(s.steps) {
		return fmt.Errorf("no step with order %d", order)
	}
	s.steps[order].Description = description
	return nil
}

// SetLastHover records the element currently under the pointer.
func (s *Session) SetLastHover(loc locator.Locator) {
	s.mu.Lock()
	s.lastHover = loc
	s.hoverSet = true
	s.mu.Unlock()
}

// LastHover returns the most recently hovered element, if any.
func (s *Session) LastHover() (locator.Locator, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastHover, s.hoverSet
}

// EmitSource renders the captured steps as raw source for the transform
// passes, one statement per line, using each step's best candidate.
func (s *Session) EmitSource() string {
	var b strings.Builder
	for _, step := range s.Steps() {
		loc, _ := step.BestCandidate()
		b.WriteString(Statement(step, loc))
		b.WriteByte('\n')
	}
	return b.String()
}
