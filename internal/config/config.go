package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all testloom configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Workspace layout
	Workspace WorkspaceConfig `yaml:"workspace"`

	// Browser session configuration
	Browser BrowserConfig `yaml:"browser"`

	// Pipeline pass configuration
	Cleanup   CleanupConfig   `yaml:"cleanup"`
	Detector  DetectorConfig  `yaml:"detector"`
	Evaluator EvaluatorConfig `yaml:"evaluator"`
	Generator GeneratorConfig `yaml:"generator"`

	// Bundle watching
	Watcher WatcherConfig `yaml:"watcher"`

	// Locator inventory
	Index IndexConfig `yaml:"index"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// WorkspaceConfig describes where bundles live.
type WorkspaceConfig struct {
	// BundleRoot is the directory under which bundle directories are created.
	BundleRoot string `yaml:"bundle_root"`
}

// LoggingConfig configures the categorized file logger. The same keys are
// read directly by the logging package at startup.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	JSONFormat bool            `yaml:"json_format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "testloom",
		Version: "0.4.0",

		Workspace: WorkspaceConfig{
			BundleRoot: "tests",
		},

		Browser: DefaultBrowserConfig(),

		Cleanup:   DefaultCleanupConfig(),
		Detector:  DefaultDetectorConfig(),
		Evaluator: DefaultEvaluatorConfig(),
		Generator: DefaultGeneratorConfig(),

		Watcher: DefaultWatcherConfig(),
		Index:   DefaultIndexConfig(),

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultConfigPath returns the default path to .loom/config.yaml.
func DefaultConfigPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		return filepath.Join(".loom", "config.yaml")
	}
	return filepath.Join(cwd, ".loom", "config.yaml")
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if root := os.Getenv("LOOM_BUNDLE_ROOT"); root != "" {
		c.Workspace.BundleRoot = root
	}
	if url := os.Getenv("LOOM_DEBUGGER_URL"); url != "" {
		c.Browser.DebuggerURL = url
	}
	if headless := os.Getenv("LOOM_HEADLESS"); headless != "" {
		c.Browser.Headless = headless == "1" || headless == "true"
	}
	if db := os.Getenv("LOOM_INDEX_DB"); db != "" {
		c.Index.DatabasePath = db
	}
	if param := os.Getenv("LOOM_ROUTING_PARAM"); param != "" {
		c.Cleanup.RoutingParam = param
	}
}

var extensionPattern = regexp.MustCompile(`^[a-z]+$`)

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Workspace.BundleRoot == "" {
		return fmt.Errorf("workspace.bundle_root is required")
	}
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("browser viewport must be positive, got %dx%d",
			c.Browser.ViewportWidth, c.Browser.ViewportHeight)
	}
	if !extensionPattern.MatchString(c.Generator.SpecExtension) {
		return fmt.Errorf("generator.spec_extension must be a bare lowercase extension, got %q",
			c.Generator.SpecExtension)
	}
	if c.Detector.MaxLabelDepth <= 0 {
		return fmt.Errorf("detector.max_label_depth must be positive, got %d", c.Detector.MaxLabelDepth)
	}
	if _, err := time.ParseDuration(c.Evaluator.QueryTimeout); err != nil {
		return fmt.Errorf("evaluator.query_timeout: %w", err)
	}
	return nil
}

// GetNavigationTimeout returns the browser navigation timeout as a duration.
func (c *Config) GetNavigationTimeout() time.Duration {
	d, err := time.ParseDuration(c.Browser.NavigationTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetEvaluatorTimeout returns the locator query timeout as a duration.
func (c *Config) GetEvaluatorTimeout() time.Duration {
	d, err := time.ParseDuration(c.Evaluator.QueryTimeout)
	if err != nil {
		return 3 * time.Second
	}
	return d
}

// GetWatcherDebounce returns the bundle watcher debounce window as a duration.
func (c *Config) GetWatcherDebounce() time.Duration {
	d, err := time.ParseDuration(c.Watcher.Debounce)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}
