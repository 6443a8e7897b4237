package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Workspace.BundleRoot != "tests" {
		t.Errorf("Expected default bundle root 'tests', got %q", cfg.Workspace.BundleRoot)
	}
	if cfg.Generator.SpecExtension != "ts" {
		t.Errorf("Expected default spec extension 'ts', got %q", cfg.Generator.SpecExtension)
	}
	if cfg.Cleanup.RoutingParam != "view" {
		t.Errorf("Expected default routing param 'view', got %q", cfg.Cleanup.RoutingParam)
	}
	if len(cfg.Cleanup.AuthDomains) == 0 {
		t.Error("Expected default auth domains to be populated")
	}
	if cfg.Detector.MaxLabelDepth != 10 {
		t.Errorf("Expected default label depth 10, got %d", cfg.Detector.MaxLabelDepth)
	}
	if cfg.Detector.MaxNameLength != 50 {
		t.Errorf("Expected default name length 50, got %d", cfg.Detector.MaxNameLength)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate, got %v", err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "no-such-config.yaml"))
	if err != nil {
		t.Fatalf("Load of missing file should not error, got %v", err)
	}
	if cfg.Workspace.BundleRoot != "tests" {
		t.Errorf("Expected defaults for missing file, got bundle root %q", cfg.Workspace.BundleRoot)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
workspace:
  bundle_root: e2e/specs
browser:
  headless: true
  viewport_width: 1920
  viewport_height: 1080
cleanup:
  routing_param: screen
evaluator:
  query_timeout: 5s
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Workspace.BundleRoot != "e2e/specs" {
		t.Errorf("Expected bundle root override, got %q", cfg.Workspace.BundleRoot)
	}
	if !cfg.Browser.Headless {
		t.Error("Expected headless override")
	}
	if cfg.Browser.ViewportWidth != 1920 {
		t.Errorf("Expected viewport width 1920, got %d", cfg.Browser.ViewportWidth)
	}
	if cfg.Cleanup.RoutingParam != "screen" {
		t.Errorf("Expected routing param 'screen', got %q", cfg.Cleanup.RoutingParam)
	}
	if got := cfg.GetEvaluatorTimeout(); got != 5*time.Second {
		t.Errorf("Expected evaluator timeout 5s, got %v", got)
	}

	// Untouched sections keep defaults
	if cfg.Generator.SpecExtension != "ts" {
		t.Errorf("Expected untouched generator defaults, got %q", cfg.Generator.SpecExtension)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".loom", "config.yaml")

	cfg := DefaultConfig()
	cfg.Workspace.BundleRoot = "specs"
	cfg.Watcher.MarkStale = true

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Workspace.BundleRoot != "specs" {
		t.Errorf("Round trip lost bundle root, got %q", loaded.Workspace.BundleRoot)
	}
	if !loaded.Watcher.MarkStale {
		t.Error("Round trip lost watcher.mark_stale")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOOM_BUNDLE_ROOT", "/tmp/bundles")
	t.Setenv("LOOM_DEBUGGER_URL", "ws://127.0.0.1:9222")
	t.Setenv("LOOM_HEADLESS", "true")
	t.Setenv("LOOM_ROUTING_PARAM", "tab")
	t.Setenv("LOOM_INDEX_DB", "/tmp/locators.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Workspace.BundleRoot != "/tmp/bundles" {
		t.Errorf("LOOM_BUNDLE_ROOT not applied, got %q", cfg.Workspace.BundleRoot)
	}
	if cfg.Browser.DebuggerURL != "ws://127.0.0.1:9222" {
		t.Errorf("LOOM_DEBUGGER_URL not applied, got %q", cfg.Browser.DebuggerURL)
	}
	if !cfg.Browser.Headless {
		t.Error("LOOM_HEADLESS not applied")
	}
	if cfg.Cleanup.RoutingParam != "tab" {
		t.Errorf("LOOM_ROUTING_PARAM not applied, got %q", cfg.Cleanup.RoutingParam)
	}
	if cfg.Index.DatabasePath != "/tmp/locators.db" {
		t.Errorf("LOOM_INDEX_DB not applied, got %q", cfg.Index.DatabasePath)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty bundle root", func(c *Config) { c.Workspace.BundleRoot = "" }},
		{"zero viewport", func(c *Config) { c.Browser.ViewportWidth = 0 }},
		{"dotted extension", func(c *Config) { c.Generator.SpecExtension = ".ts" }},
		{"zero label depth", func(c *Config) { c.Detector.MaxLabelDepth = 0 }},
		{"bad evaluator timeout", func(c *Config) { c.Evaluator.QueryTimeout = "fast" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Expected validation error for %s", tc.name)
			}
		})
	}
}

func TestDurationFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Browser.NavigationTimeout = "garbage"
	cfg.Evaluator.QueryTimeout = ""
	cfg.Watcher.Debounce = "nope"

	if got := cfg.GetNavigationTimeout(); got != 30*time.Second {
		t.Errorf("Expected navigation fallback 30s, got %v", got)
	}
	if got := cfg.GetEvaluatorTimeout(); got != 3*time.Second {
		t.Errorf("Expected evaluator fallback 3s, got %v", got)
	}
	if got := cfg.GetWatcherDebounce(); got != 500*time.Millisecond {
		t.Errorf("Expected debounce fallback 500ms, got %v", got)
	}
}
