package browser

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testloom/internal/locator"
	"testloom/internal/recorder"
)

type collectSink struct {
	mu     sync.Mutex
	events []recorder.CaptureEvent
}

func (s *collectSink) Feed(ev recorder.CaptureEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *collectSink) all() []recorder.CaptureEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]recorder.CaptureEvent, len(s.events))
	copy(out, s.events)
	return out
}

func TestEventThrottler(t *testing.T) {
	throttle := newEventThrottler(50 * time.Millisecond)

	assert.True(t, throttle.Allow("hover:#a"))
	assert.False(t, throttle.Allow("hover:#a"))
	// Different key is independent
	assert.True(t, throttle.Allow("hover:#b"))

	time.Sleep(60 * time.Millisecond)
	assert.True(t, throttle.Allow("hover:#a"))
}

func TestActionKindMapping(t *testing.T) {
	cases := map[string]recorder.ActionKind{
		"click":    recorder.ActionClick,
		"dblclick": recorder.ActionDblClick,
		"input":    recorder.ActionFill,
		"select":   recorder.ActionSelect,
		"check":    recorder.ActionCheck,
		"uncheck":  recorder.ActionUncheck,
		"press":    recorder.ActionPress,
	}
	for eventType, want := range cases {
		kind, ok := actionKindFor(eventType)
		require.True(t, ok, "event type %q", eventType)
		assert.Equal(t, want, kind)
	}

	_, ok := actionKindFor("mousemove")
	assert.False(t, ok)
}

func TestDecodeCandidatesFiltersUnknown(t *testing.T) {
	raw := rawEvent{Type: "click"}
	raw.Candidates = []struct {
		Strategy string `json:"strategy"`
		Selector string `json:"selector"`
	}{
		{Strategy: "testid", Selector: "save-btn"},
		{Strategy: "role", Selector: `button[name="Save"]`},
		{Strategy: "telepathy", Selector: "??"},
		{Strategy: "css", Selector: ""},
		{Strategy: "css", Selector: "#save"},
	}

	got := decodeCandidates(raw)
	require.Len(t, got, 3)
	assert.Equal(t, locator.Locator{Strategy: locator.StrategyTestID, Selector: "save-btn"}, got[0])
	assert.Equal(t, locator.StrategyRole, got[1].Strategy)
	assert.Equal(t, "#save", got[2].Selector)
}

func TestRouteEventToSink(t *testing.T) {
	m := NewManager(DefaultConfig())
	sink := &collectSink{}
	throttle := newEventThrottler(time.Hour)

	raw := rawEvent{Type: "input", Frame: "main", Value: "Acme Corp", TS: 1700000000000}
	raw.Candidates = []struct {
		Strategy string `json:"strategy"`
		Selector string `json:"selector"`
	}{
		{Strategy: "label", Selector: "Customer Name"},
	}
	m.routeEvent(raw, sink, nil, throttle)

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, recorder.ActionFill, events[0].ActionKind)
	assert.Equal(t, "Acme Corp", events[0].Value)
	assert.Equal(t, "main", events[0].FrameContext)
	assert.Equal(t, time.UnixMilli(1700000000000), events[0].Timestamp)
	require.Len(t, events[0].Candidates, 1)
	assert.Equal(t, locator.StrategyLabel, events[0].Candidates[0].Strategy)
}

func TestRouteEventHover(t *testing.T) {
	m := NewManager(DefaultConfig())
	sink := &collectSink{}
	throttle := newEventThrottler(time.Hour)

	var hovered [][]locator.Locator
	onHover := func(c []locator.Locator) { hovered = append(hovered, c) }

	raw := rawEvent{Type: "hover", Frame: "main"}
	raw.Candidates = []struct {
		Strategy string `json:"strategy"`
		Selector string `json:"selector"`
	}{
		{Strategy: "css", Selector: "#save"},
	}

	m.routeEvent(raw, sink, onHover, throttle)
	m.routeEvent(raw, sink, onHover, throttle) // throttled, same selector

	assert.Len(t, hovered, 1, "second hover on same element should be throttled")
	assert.Empty(t, sink.all(), "hover never becomes a recorded event")
}

func TestRouteEventUnknownTypeDropped(t *testing.T) {
	m := NewManager(DefaultConfig())
	sink := &collectSink{}

	m.routeEvent(rawEvent{Type: "mousemove"}, sink, nil, newEventThrottler(time.Hour))
	assert.Empty(t, sink.all())
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	assert.Equal(t, 1280, cfg.GetViewportWidth())
	assert.Equal(t, 800, cfg.GetViewportHeight())
	assert.Equal(t, 30*time.Second, cfg.NavigationTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.EventPollInterval())

	cfg = Config{ViewportWidth: 1920, ViewportHeight: 1080, NavigationTimeoutMs: 5000, EventPollMs: 100}
	assert.Equal(t, 1920, cfg.GetViewportWidth())
	assert.Equal(t, 1080, cfg.GetViewportHeight())
	assert.Equal(t, 5*time.Second, cfg.NavigationTimeout())
	assert.Equal(t, 100*time.Millisecond, cfg.EventPollInterval())
}

func TestPagePersistenceRoundTrip(t *testing.T) {
	store := filepath.Join(t.TempDir(), "pages.json")
	cfg := DefaultConfig()
	cfg.SessionStore = store

	m := NewManager(cfg)
	m.pages["p1"] = &pageRecord{meta: PageSession{
		ID:        "p1",
		TargetID:  "t1",
		URL:       "https://app.example.com",
		Status:    "active",
		CreatedAt: time.Now(),
	}}
	require.NoError(t, m.persistPages())

	reloaded := NewManager(cfg)
	reloaded.mu.Lock()
	err := reloaded.loadPagesLocked()
	reloaded.mu.Unlock()
	require.NoError(t, err)

	meta, ok := reloaded.GetPage("p1")
	require.True(t, ok)
	assert.Equal(t, "https://app.example.com", meta.URL)
	// A reloaded page has no live connection until re-attached
	assert.Equal(t, "detached", meta.Status)
}

func TestLoadPagesMissingStoreIsFine(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SessionStore = filepath.Join(t.TempDir(), "nope", "pages.json")

	m := NewManager(cfg)
	m.mu.Lock()
	err := m.loadPagesLocked()
	m.mu.Unlock()
	assert.NoError(t, err)
	assert.Empty(t, m.List())
}
