package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"testloom/internal/bundle"
	"testloom/internal/config"
	"testloom/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose    bool
	workspace  string
	configPath string
	timeout    time.Duration

	// Loaded configuration, available to every command after the root
	// PersistentPreRunE has run.
	cfg *config.Config

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "testloom - compile recorded browser walkthroughs into test bundles",
	Long: `testloom records real browser walkthroughs and compiles them into
data-driven test bundles: spec source, a machine-readable meta record,
a human-readable summary and a seeded data file per test.

Captured interactions pass through a navigation cleanup pass and a
parameter candidate detector before generation, so login redirects
disappear and typed literals become named data-file columns. Generated
specs stay editable afterwards: step-level edits preserve hand-written
content byte for byte.

Typical flow:
  loom init                          Set up .loom/ and the bundle root
  loom record https://app.example    Record a walkthrough
  loom generate --steps <file> --name "Create Sales Order"
  loom bundles                       See what exists and what is broken
  loom watch                         Revalidate bundles edited by hand`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ws := resolveWorkspace()

		path := configPath
		if path == "" {
			path = filepath.Join(ws, ".loom", "config.yaml")
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		// Category file logging and the audit trail are no-ops unless
		// debug_mode is set in config.
		if err := logging.Initialize(ws); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: logging init failed: %v\n", err)
		}
		if err := logging.InitAudit(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: audit init failed: %v\n", err)
		}

		// Initialize logger
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAudit()
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// initCmd initializes testloom in the current workspace
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize testloom in the current workspace",
	Long: `Creates the .loom/ directory with a default config.yaml and the bundle
root directory. Run this once when starting to use testloom with a new
project; an existing config is left untouched.`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	ws := resolveWorkspace()
	path := filepath.Join(ws, ".loom", "config.yaml")

	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists: %s\n", path)
	} else {
		if err := config.DefaultConfig().Save(path); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
		fmt.Printf("✅ Wrote %s\n", path)
	}

	store := bundleStore()
	if err := os.MkdirAll(filepath.Join(store.Root(), "data"), 0o755); err != nil {
		return fmt.Errorf("failed to create bundle root: %w", err)
	}
	fmt.Printf("✅ Bundle root ready: %s\n", store.Root())
	fmt.Println("\nNext: loom record https://your-app.example.com")
	return nil
}

// resolveWorkspace returns the directory all relative paths are rooted at.
func resolveWorkspace() string {
	if workspace != "" {
		return workspace
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}

// bundleStore opens the bundle store under the configured bundle root.
func bundleStore() *bundle.Store {
	root := cfg.Workspace.BundleRoot
	if !filepath.IsAbs(root) {
		root = filepath.Join(resolveWorkspace(), root)
	}
	return bundle.NewStore(root)
}

// indexDBPath returns the locator inventory database path.
func indexDBPath() string {
	path := cfg.Index.DatabasePath
	if !filepath.IsAbs(path) {
		path = filepath.Join(resolveWorkspace(), path)
	}
	return path
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: <workspace>/.loom/config.yaml)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")

	rootCmd.AddCommand(initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
