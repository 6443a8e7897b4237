package config

// WatcherConfig configures the bundle directory watcher.
type WatcherConfig struct {
	// Debounce coalesces bursts of file events before revalidation.
	Debounce string `yaml:"debounce"`

	// MarkStale flags locators of externally edited bundles in the
	// maintenance-status store.
	MarkStale bool `yaml:"mark_stale"`
}

// DefaultWatcherConfig returns watcher defaults.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		Debounce:  "500ms",
		MarkStale: false,
	}
}

// IndexConfig configures the locator inventory store.
type IndexConfig struct {
	// DatabasePath locates the SQLite database holding generation-time
	// locator usage and per-locator maintenance status.
	DatabasePath string `yaml:"database_path"`
}

// DefaultIndexConfig returns index defaults.
func DefaultIndexConfig() IndexConfig {
	return IndexConfig{
		DatabasePath: ".loom/locators.db",
	}
}
