package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"testloom/internal/locator"
	"testloom/internal/logging"
	"testloom/internal/recorder"
)

// CaptureSink receives interaction events in the order they happened.
// recorder.Session satisfies this.
type CaptureSink interface {
	Feed(ev recorder.CaptureEvent) error
}

// HoverFunc is called with the locator candidates of the element the user
// is hovering. Calls are throttled.
type HoverFunc func(candidates []locator.Locator)

// eventThrottler rate-limits events by key.
type eventThrottler struct {
	interval time.Duration
	mu       sync.Mutex
	last     map[string]time.Time
}

func newEventThrottler(interval time.Duration) *eventThrottler {
	return &eventThrottler{
		interval: interval,
		last:     make(map[string]time.Time),
	}
}

// Allow returns true if the event should pass, false if throttled.
func (t *eventThrottler) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if prev, ok := t.last[key]; ok && now.Sub(prev) < t.interval {
		return false
	}
	t.last[key] = now
	return true
}

// rawEvent is the wire shape pushed by the injected hook.
type rawEvent struct {
	Type       string `json:"type"`
	Frame      string `json:"frame"`
	Value      string `json:"value"`
	TS         int64  `json:"ts"`
	Candidates []struct {
		Strategy string `json:"strategy"`
		Selector string `json:"selector"`
	} `json:"candidates"`
}

// StartCapture injects the interaction hook into a tracked page and streams
// decoded events to sink until ctx is canceled. Top-frame navigations are
// observed over CDP so redirects and script-driven navigations are caught
// even though they destroy the in-page hook.
func (m *Manager) StartCapture(ctx context.Context, pageID string, sink CaptureSink, onHover HoverFunc) error {
	if err := m.ensureStarted(ctx); err != nil {
		return err
	}
	page, ok := m.Page(pageID)
	if !ok {
		return fmt.Errorf("unknown page: %s", pageID)
	}

	capturePage := page.Context(ctx)
	if err := m.injectCaptureHook(capturePage); err != nil {
		return fmt.Errorf("inject capture hook: %w", err)
	}

	throttle := newEventThrottler(m.hoverThrottle())

	// Top-frame navigation stream. The hook dies with the old document, so
	// each navigation re-injects it.
	go func() {
		capturePage.EachEvent(func(e *proto.PageFrameNavigated) {
			if e.Frame.ParentID != "" {
				return
			}
			m.UpdateMetadata(pageID, func(meta PageSession) PageSession {
				meta.URL = e.Frame.URL
				meta.LastActive = time.Now()
				return meta
			})
			if err := m.injectCaptureHook(capturePage); err != nil {
				logging.BrowserWarn("re-inject capture hook after navigation: %v", err)
			}
			ev := recorder.CaptureEvent{
				ActionKind:   recorder.ActionNavigate,
				Value:        e.Frame.URL,
				FrameContext: "main",
				Timestamp:    time.Now(),
			}
			if err := sink.Feed(ev); err != nil {
				logging.BrowserDebug("navigate event dropped: %v", err)
			}
		})()
	}()

	// Poll loop draining the in-page buffer.
	go func() {
		ticker := time.NewTicker(m.cfg.EventPollInterval())
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				events, err := drainHookBuffer(capturePage)
				if err != nil {
					logging.BrowserDebug("drain capture buffer: %v", err)
					continue
				}
				for _, raw := range events {
					m.routeEvent(raw, sink, onHover, throttle)
				}
			}
		}
	}()

	logging.Browser("capture started on page %s", pageID)
	return nil
}

func (m *Manager) hoverThrottle() time.Duration {
	if m.cfg.HoverThrottleMs == 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(m.cfg.HoverThrottleMs) * time.Millisecond
}

// routeEvent converts a raw hook event into a recorder event or a hover
// callback.
func (m *Manager) routeEvent(raw rawEvent, sink CaptureSink, onHover HoverFunc, throttle *eventThrottler) {
	candidates := decodeCandidates(raw)

	if raw.Type == "hover" {
		if onHover == nil || len(candidates) == 0 {
			return
		}
		if !throttle.Allow("hover:" + candidates[0].Selector) {
			return
		}
		onHover(candidates)
		return
	}

	kind, ok := actionKindFor(raw.Type)
	if !ok {
		logging.BrowserDebug("unrecognized capture event type %q", raw.Type)
		return
	}

	ev := recorder.CaptureEvent{
		ActionKind:   kind,
		Candidates:   candidates,
		Value:        raw.Value,
		FrameContext: raw.Frame,
		Timestamp:    time.UnixMilli(raw.TS),
	}
	if raw.TS == 0 {
		ev.Timestamp = time.Now()
	}
	if err := sink.Feed(ev); err != nil {
		logging.BrowserDebug("capture event dropped: %v", err)
	}
}

func actionKindFor(eventType string) (recorder.ActionKind, bool) {
	switch eventType {
	case "click":
		return recorder.ActionClick, true
	case "dblclick":
		return recorder.ActionDblClick, true
	case "input":
		return recorder.ActionFill, true
	case "select":
		return recorder.ActionSelect, true
	case "check":
		return recorder.ActionCheck, true
	case "uncheck":
		return recorder.ActionUncheck, true
	case "press":
		return recorder.ActionPress, true
	default:
		return "", false
	}
}

func decodeCandidates(raw rawEvent) []locator.Locator {
	out := make([]locator.Locator, 0, len(raw.Candidates))
	for _, c := range raw.Candidates {
		strategy := locator.Strategy(c.Strategy)
		switch strategy {
		case locator.StrategyTestID, locator.StrategyRole, locator.StrategyLabel,
			locator.StrategyPlaceholder, locator.StrategyText, locator.StrategyCSS,
			locator.StrategyXPath:
		default:
			continue
		}
		if c.Selector == "" {
			continue
		}
		out = append(out, locator.Locator{Strategy: strategy, Selector: c.Selector})
	}
	return out
}

// injectCaptureHook installs the event listeners into the page. Safe to call
// repeatedly; the hook guards against double installation.
func (m *Manager) injectCaptureHook(page *rod.Page) error {
	_, err := page.Evaluate(&rod.EvalOptions{
		JS:      captureHookJS,
		ByValue: true,
	})
	return err
}

// drainHookBuffer swaps out the in-page event buffer and decodes it.
func drainHookBuffer(page *rod.Page) ([]rawEvent, error) {
	res, err := page.Evaluate(&rod.EvalOptions{
		JS: `() => {
			const events = window.__loomEvents || [];
			window.__loomEvents = [];
			return events;
		}`,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return nil, err
	}

	data, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, err
	}

	var events []rawEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// captureHookJS is the in-page recorder. It listens for user interactions in
// the capture phase, computes ranked locator candidates for the event target
// and pushes wire events into window.__loomEvents for the poll loop.
//
// Candidate order encodes preference: test id, then role, then label, then
// placeholder, then visible text, then a structural CSS path as last resort.
const captureHookJS = `() => {
	const w = window;
	if (w.__loomHooked) return true;
	w.__loomHooked = true;
	w.__loomEvents = [];

	const push = (ev) => {
		try { w.__loomEvents.push(ev); } catch (e) {}
	};

	const esc = (s) => (w.CSS && CSS.escape) ? CSS.escape(s) : String(s).replace(/([^a-zA-Z0-9_-])/g, '\\$1');

	const frameName = () => {
		try { return w === w.top ? 'main' : (w.name || 'frame'); } catch (e) { return 'main'; }
	};

	const implicitRole = (el) => {
		const tag = el.tagName.toLowerCase();
		const type = (el.getAttribute('type') || '').toLowerCase();
		if (tag === 'button') return 'button';
		if (tag === 'a' && el.hasAttribute('href')) return 'link';
		if (tag === 'select') return 'combobox';
		if (tag === 'textarea') return 'textbox';
		if (tag === 'input') {
			if (type === 'button' || type === 'submit' || type === 'reset') return 'button';
			if (type === 'checkbox') return 'checkbox';
			if (type === 'radio') return 'radio';
			if (type === 'range') return 'slider';
			if (type === 'hidden') return '';
			return 'textbox';
		}
		if (/^h[1-6]$/.test(tag)) return 'heading';
		if (tag === 'img') return 'img';
		return '';
	};

	const labelText = (el) => {
		const aria = el.getAttribute('aria-label');
		if (aria) return aria.trim();
		if (el.id) {
			const lab = document.querySelector('label[for="' + esc(el.id) + '"]');
			if (lab) return lab.textContent.trim();
		}
		const wrap = el.closest('label');
		if (wrap) return wrap.textContent.trim();
		return '';
	};

	const accessibleName = (el) => {
		const lab = labelText(el);
		if (lab) return lab;
		const text = (el.innerText || el.value || '').trim().replace(/\s+/g, ' ');
		return text.length > 0 && text.length <= 80 ? text : '';
	};

	const cssPath = (el) => {
		if (el.id) return '#' + esc(el.id);
		const parts = [];
		let cur = el;
		for (let depth = 0; cur && cur.nodeType === 1 && depth < 5; depth++) {
			if (cur.id) {
				parts.unshift('#' + esc(cur.id));
				break;
			}
			let part = cur.tagName.toLowerCase();
			if (cur.classList.length > 0) {
				part += '.' + Array.from(cur.classList).slice(0, 2).map(esc).join('.');
			} else if (cur.parentElement) {
				const idx = Array.prototype.indexOf.call(cur.parentElement.children, cur) + 1;
				part += ':nth-child(' + idx + ')';
			}
			parts.unshift(part);
			cur = cur.parentElement;
		}
		return parts.join(' > ');
	};

	const candidatesFor = (el) => {
		const out = [];
		const testId = el.getAttribute('data-testid') || el.getAttribute('data-test-id') || el.getAttribute('data-qa');
		if (testId) out.push({ strategy: 'testid', selector: testId });
		const role = el.getAttribute('role') || implicitRole(el);
		if (role) {
			const name = accessibleName(el);
			const sel = name ? role + '[name="' + name.replace(/"/g, '\\"') + '"]' : role;
			out.push({ strategy: 'role', selector: sel });
		}
		const lab = labelText(el);
		if (lab) out.push({ strategy: 'label', selector: lab });
		if (el.placeholder) out.push({ strategy: 'placeholder', selector: el.placeholder });
		const text = (el.innerText || '').trim().replace(/\s+/g, ' ');
		if (text && text.length <= 40) out.push({ strategy: 'text', selector: text });
		out.push({ strategy: 'css', selector: cssPath(el) });
		return out;
	};

	const record = (type, el, value) => {
		if (!el || el.nodeType !== 1) return;
		push({
			type: type,
			frame: frameName(),
			value: value || '',
			ts: Date.now(),
			candidates: candidatesFor(el)
		});
	};

	document.addEventListener('click', (ev) => {
		try {
			const el = ev.target;
			if (!el || el.nodeType !== 1) return;
			const type = (el.getAttribute && el.getAttribute('type') || '').toLowerCase();
			if (el.tagName === 'INPUT' && type === 'checkbox') {
				record(el.checked ? 'check' : 'uncheck', el, '');
				return;
			}
			record('click', el, '');
		} catch (e) {}
	}, true);

	document.addEventListener('change', (ev) => {
		try {
			const el = ev.target;
			if (!el || el.nodeType !== 1) return;
			if (el.tagName === 'SELECT') {
				record('select', el, el.value);
				return;
			}
			if (el.tagName === 'INPUT' || el.tagName === 'TEXTAREA') {
				const type = (el.getAttribute('type') || '').toLowerCase();
				if (type === 'checkbox' || type === 'radio') return;
				record('input', el, el.value);
			}
		} catch (e) {}
	}, true);

	document.addEventListener('keydown', (ev) => {
		try {
			if (ev.key === 'Enter' || ev.key === 'Escape' || ev.key === 'Tab') {
				record('press', ev.target, ev.key);
			}
		} catch (e) {}
	}, true);

	let lastHover = null;
	document.addEventListener('mouseover', (ev) => {
		try {
			if (ev.target === lastHover) return;
			lastHover = ev.target;
			record('hover', ev.target, '');
		} catch (e) {}
	}, true);

	return true;
}`
