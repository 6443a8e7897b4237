package config

// BrowserConfig configures the controlled browser session.
type BrowserConfig struct {
	// DebuggerURL attaches to an already-running browser when set.
	// Empty means launch a managed instance.
	DebuggerURL string `yaml:"debugger_url"`

	// Headless runs the managed browser without a window. Recording is
	// normally headed so the user can interact with the page.
	Headless bool `yaml:"headless"`

	ViewportWidth  int `yaml:"viewport_width"`
	ViewportHeight int `yaml:"viewport_height"`

	// NavigationTimeout bounds page.goto during capture.
	NavigationTimeout string `yaml:"navigation_timeout"`

	// EventPollInterval is how often the injected capture hook buffer is drained.
	EventPollInterval string `yaml:"event_poll_interval"`

	// AuthStatePath stores saved cookies and origin storage between sessions.
	AuthStatePath string `yaml:"auth_state_path"`
}

// DefaultBrowserConfig returns browser defaults suitable for interactive recording.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		Headless:          false,
		ViewportWidth:     1280,
		ViewportHeight:    800,
		NavigationTimeout: "30s",
		EventPollInterval: "500ms",
		AuthStatePath:     ".loom/auth-state.json",
	}
}
