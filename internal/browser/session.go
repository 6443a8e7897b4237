// Package browser drives the live Chrome the recorder works against. It
// owns the detached browser process, the tracked pages, the capture hook
// that turns user interactions into recorder events, and the uniqueness
// queries the locator evaluator needs.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"

	"testloom/internal/logging"
)

// PageSession describes the public metadata for a tracked page.
type PageSession struct {
	ID         string    `json:"id"`
	TargetID   string    `json:"target_id,omitempty"`
	URL        string    `json:"url,omitempty"`
	Title      string    `json:"title,omitempty"`
	Status     string    `json:"status,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

type pageRecord struct {
	meta PageSession
	page *rod.Page
}

// Config holds browser configuration.
type Config struct {
	DebuggerURL         string   `json:"debugger_url"`
	Launch              []string `json:"launch"`
	Headless            bool     `json:"headless"`
	ViewportWidth       int      `json:"viewport_width"`
	ViewportHeight      int      `json:"viewport_height"`
	NavigationTimeoutMs int      `json:"navigation_timeout_ms"`
	EventPollMs         int      `json:"event_poll_ms"`
	HoverThrottleMs     int      `json:"hover_throttle_ms"`
	SessionStore        string   `json:"session_store"`
	AuthStatePath       string   `json:"auth_state_path"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:            false,
		ViewportWidth:       1280,
		ViewportHeight:      800,
		NavigationTimeoutMs: 30000,
		EventPollMs:         500,
		HoverThrottleMs:     100,
	}
}

// GetViewportWidth returns viewport width.
func (c Config) GetViewportWidth() int {
	if c.ViewportWidth == 0 {
		return 1280
	}
	return c.ViewportWidth
}

// GetViewportHeight returns viewport height.
func (c Config) GetViewportHeight() int {
	if c.ViewportHeight == 0 {
		return 800
	}
	return c.ViewportHeight
}

// NavigationTimeout returns the navigation timeout.
func (c Config) NavigationTimeout() time.Duration {
	if c.NavigationTimeoutMs == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

// EventPollInterval returns how often the capture buffer is drained.
func (c Config) EventPollInterval() time.Duration {
	if c.EventPollMs == 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.EventPollMs) * time.Millisecond
}

// Manager owns the detached Chrome instance and tracks open pages.
type Manager struct {
	cfg        Config
	mu         sync.RWMutex
	browser    *rod.Browser
	pages      map[string]*pageRecord
	controlURL string // WebSocket URL for DevTools
}

// NewManager creates a page manager.
func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:   cfg,
		pages: make(map[string]*pageRecord),
	}
}

// Start connects to an existing Chrome or launches a new one.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// If we already have a browser, verify it's still alive
	if m.browser != nil {
		_, err := m.browser.Version()
		if err == nil {
			return nil
		}
		logging.BrowserWarn("stale browser connection detected, reconnecting")
		_ = m.browser.Close()
		m.browser = nil
		m.controlURL = ""
		m.pages = make(map[string]*pageRecord)
	}

	if err := m.loadPagesLocked(); err != nil {
		return fmt.Errorf("load page sessions: %w", err)
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" && len(m.cfg.Launch) > 0 {
		bin := m.cfg.Launch[0]
		launch := launcher.New().Bin(bin).Headless(m.cfg.Headless)
		if len(m.cfg.Launch) > 1 {
			for _, rawFlag := range m.cfg.Launch[1:] {
				flagStr := strings.TrimLeft(rawFlag, "-")
				name, val, hasVal := strings.Cut(flagStr, "=")
				if hasVal {
					launch = launch.Set(flags.Flag(name), val)
				} else {
					launch = launch.Set(flags.Flag(name))
				}
			}
		}
		url, err := launch.Launch()
		if err != nil {
			// Retry without the custom flags
			fallback := launcher.New().Bin(bin).Headless(m.cfg.Headless)
			if alt, altErr := fallback.Launch(); altErr == nil {
				controlURL = alt
			} else {
				return fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
			}
		} else {
			controlURL = url
		}
	}

	if controlURL == "" {
		url, err := launcher.New().Headless(m.cfg.Headless).Launch()
		if err != nil {
			return fmt.Errorf("no debugger_url and failed to launch: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.browser = browser
	m.controlURL = controlURL
	logging.Browser("connected to chrome at %s", controlURL)
	return nil
}

func (m *Manager) ensureStarted(ctx context.Context) error {
	m.mu.RLock()
	if m.browser != nil {
		m.mu.RUnlock()
		return nil
	}
	m.mu.RUnlock()
	return m.Start(ctx)
}

// currentBrowser snapshots the connection under the lock; a nil result
// means a concurrent Shutdown won the race.
func (m *Manager) currentBrowser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// ControlURL returns the WebSocket debugger URL.
func (m *Manager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

// IsConnected returns whether the browser is connected.
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

// Shutdown closes tracked pages and the browser.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, record := range m.pages {
		if record.page != nil {
			_ = record.page.Close()
		}
		delete(m.pages, id)
	}

	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	m.controlURL = ""
	logging.Browser("browser shutdown complete")
	return err
}

// List returns metadata for all known pages.
func (m *Manager) List() []PageSession {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]PageSession, 0, len(m.pages))
	for _, record := range m.pages {
		results = append(results, record.meta)
	}
	return results
}

// OpenPage opens a new incognito page at url and tracks it.
func (m *Manager) OpenPage(ctx context.Context, url string) (*PageSession, error) {
	if err := m.ensureStarted(ctx); err != nil {
		return nil, err
	}
	browser := m.currentBrowser()
	if browser == nil {
		return nil, errors.New("browser not connected")
	}

	incognito, err := browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}

	page, err := incognito.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.GetViewportWidth(),
		Height:            m.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		logging.BrowserWarn("failed to set viewport: %v", err)
	}

	_ = page.Timeout(m.cfg.NavigationTimeout()).Navigate(url)

	meta := PageSession{
		ID:         uuid.NewString(),
		TargetID:   string(page.TargetID),
		URL:        url,
		Status:     "active",
		CreatedAt:  time.Now(),
		LastActive: time.Now(),
	}

	m.mu.Lock()
	m.pages[meta.ID] = &pageRecord{meta: meta, page: page}
	m.mu.Unlock()

	_ = m.persistPages()
	logging.Browser("opened page %s at %s", meta.ID, url)
	return &meta, nil
}

// Attach binds to an existing target by TargetID.
func (m *Manager) Attach(ctx context.Context, targetID string) (*PageSession, error) {
	if err := m.ensureStarted(ctx); err != nil {
		return nil, err
	}
	browser := m.currentBrowser()
	if browser == nil {
		return nil, errors.New("browser not connected")
	}

	page, err := browser.PageFromTarget(proto.TargetTargetID(targetID))
	if err != nil {
		return nil, fmt.Errorf("attach to target %s: %w", targetID, err)
	}

	meta := PageSession{
		ID:         uuid.NewString(),
		TargetID:   targetID,
		Status:     "attached",
		CreatedAt:  time.Now(),
		LastActive: time.Now(),
	}

	m.mu.Lock()
	m.pages[meta.ID] = &pageRecord{meta: meta, page: page}
	m.mu.Unlock()

	_ = m.persistPages()
	return &meta, nil
}

// Page returns the underlying Rod page for a tracked page. Pages restored
// from the session store carry metadata only and report false until
// reattached.
func (m *Manager) Page(pageID string) (*rod.Page, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.pages[pageID]
	if !ok || rec.page == nil {
		return nil, false
	}
	return rec.page, true
}

// UpdateMetadata updates page metadata.
func (m *Manager) UpdateMetadata(pageID string, updater func(PageSession) PageSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.pages[pageID]
	if !ok {
		return
	}
	rec.meta = updater(rec.meta)
}

// GetPage returns page metadata.
func (m *Manager) GetPage(pageID string) (PageSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.pages[pageID]
	if !ok {
		return PageSession{}, false
	}
	return rec.meta, true
}

// Navigate navigates a tracked page to a URL.
func (m *Manager) Navigate(ctx context.Context, pageID, url string) error {
	if err := m.ensureStarted(ctx); err != nil {
		return err
	}
	page, ok := m.Page(pageID)
	if !ok {
		return fmt.Errorf("unknown page: %s", pageID)
	}
	return page.Context(ctx).Timeout(m.cfg.NavigationTimeout()).Navigate(url)
}

// Screenshot captures a screenshot of a tracked page.
func (m *Manager) Screenshot(ctx context.Context, pageID string, fullPage bool) ([]byte, error) {
	if err := m.ensureStarted(ctx); err != nil {
		return nil, err
	}
	page, ok := m.Page(pageID)
	if !ok {
		return nil, fmt.Errorf("unknown page: %s", pageID)
	}
	return page.Context(ctx).Screenshot(fullPage, nil)
}

// persistPages writes page metadata to disk.
func (m *Manager) persistPages() error {
	if m.cfg.SessionStore == "" {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	pages := make([]PageSession, 0, len(m.pages))
	for _, rec := range m.pages {
		pages = append(pages, rec.meta)
	}

	data, err := json.MarshalIndent(pages, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(m.cfg.SessionStore), 0o755); err != nil {
		return err
	}
	return os.WriteFile(m.cfg.SessionStore, data, 0o644)
}

// loadPagesLocked loads persisted metadata. Caller must hold lock.
func (m *Manager) loadPagesLocked() error {
	if m.cfg.SessionStore == "" {
		return nil
	}

	data, err := os.ReadFile(m.cfg.SessionStore)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var pages []PageSession
	if err := json.Unmarshal(data, &pages); err != nil {
		return err
	}

	for _, p := range pages {
		p.Status = "detached"
		m.pages[p.ID] = &pageRecord{meta: p, page: nil}
	}
	return nil
}
