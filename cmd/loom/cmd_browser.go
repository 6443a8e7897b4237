// Package main implements the testloom CLI commands.
// This file contains browser lifecycle commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"testloom/internal/browser"
	"testloom/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// =============================================================================
// BROWSER COMMANDS - the live Chrome that recording and inspection run against
// =============================================================================

// browserCmd manages the recording browser
var browserCmd = &cobra.Command{
	Use:   "browser",
	Short: "Manage the recording browser",
	Long: `Launches and inspects the Chrome instance that 'loom record' and
'loom inspect' work against. A launched browser keeps running across
commands; its DevTools URL is shared through .loom/browser/control.txt.`,
}

var browserLaunchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Launch the recording browser and keep it running",
	RunE:  runBrowserLaunch,
}

var browserOpenCmd = &cobra.Command{
	Use:   "open [url]",
	Short: "Open a tracked page in the running browser",
	Args:  cobra.ExactArgs(1),
	RunE:  runBrowserOpen,
}

var browserPagesCmd = &cobra.Command{
	Use:   "pages",
	Short: "List tracked pages",
	RunE:  runBrowserPages,
}

// getBrowserConfig maps the loaded config onto a browser session config
// with a persistent page store under the workspace.
func getBrowserConfig() browser.Config {
	ws := resolveWorkspace()
	bcfg := browser.DefaultConfig()
	bcfg.DebuggerURL = cfg.Browser.DebuggerURL
	bcfg.Headless = cfg.Browser.Headless
	bcfg.ViewportWidth = cfg.Browser.ViewportWidth
	bcfg.ViewportHeight = cfg.Browser.ViewportHeight
	bcfg.NavigationTimeoutMs = int(cfg.GetNavigationTimeout().Milliseconds())
	if d, err := time.ParseDuration(cfg.Browser.EventPollInterval); err == nil && d > 0 {
		bcfg.EventPollMs = int(d.Milliseconds())
	}
	bcfg.SessionStore = filepath.Join(ws, ".loom", "browser", "sessions.json")
	if cfg.Browser.AuthStatePath != "" {
		p := cfg.Browser.AuthStatePath
		if !filepath.IsAbs(p) {
			p = filepath.Join(ws, p)
		}
		bcfg.AuthStatePath = p
	}
	return bcfg
}

// controlFilePath is where a launched browser publishes its DevTools URL
// so later commands can attach instead of launching a second Chrome.
func controlFilePath() string {
	return filepath.Join(resolveWorkspace(), ".loom", "browser", "control.txt")
}

func readControlFile() string {
	data, err := os.ReadFile(controlFilePath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func writeControlFile(controlURL string) {
	controlFile := controlFilePath()
	if err := os.MkdirAll(filepath.Dir(controlFile), 0o755); err != nil {
		logging.BootWarn("failed to create browser control dir: %v", err)
		return
	}
	if err := os.WriteFile(controlFile, []byte(controlURL), 0o644); err != nil {
		logging.BootWarn("failed to write browser control file: %v", err)
	}
}

func removeControlFile() {
	if err := os.Remove(controlFilePath()); err != nil && !os.IsNotExist(err) {
		logging.BootWarn("failed to remove browser control file: %v", err)
	}
}

// attachedManager connects to the browser published in the control file.
func attachedManager(ctx context.Context) (*browser.Manager, error) {
	controlURL := readControlFile()
	if controlURL == "" {
		return nil, fmt.Errorf("no browser running - use 'loom browser launch' first")
	}

	bcfg := getBrowserConfig()
	bcfg.DebuggerURL = controlURL

	mgr := browser.NewManager(bcfg)
	if err := mgr.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	return mgr, nil
}

// runBrowserLaunch launches the browser and blocks until Ctrl+C
func runBrowserLaunch(cmd *cobra.Command, args []string) error {
	logger.Info("Launching browser")

	bcfg := getBrowserConfig()
	mgr := browser.NewManager(bcfg)

	if err := mgr.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}

	// Write control URL to file for other commands to use
	writeControlFile(mgr.ControlURL())

	fmt.Printf("Browser launched. Control URL: %s\n", mgr.ControlURL())
	fmt.Printf("Session store: %s\n", bcfg.SessionStore)
	fmt.Println("Press Ctrl+C to shutdown")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	removeControlFile()
	if err := mgr.Shutdown(context.Background()); err != nil {
		logging.BootWarn("failed to shutdown browser: %v", err)
	}
	return nil
}

// runBrowserOpen opens a page in the running browser
func runBrowserOpen(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	url := args[0]
	logger.Info("Opening page", zap.String("url", url))

	mgr, err := attachedManager(ctx)
	if err != nil {
		return err
	}

	page, err := mgr.OpenPage(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to open page: %w", err)
	}

	fmt.Printf("Page opened: %s\n", page.ID)
	fmt.Printf("Target ID: %s\n", page.TargetID)
	fmt.Printf("URL: %s\n", page.URL)
	fmt.Printf("\nUse 'loom inspect --page %s <strategy> <selector>' to score locators\n", page.ID)

	// Leave the browser running for later commands.
	return nil
}

// runBrowserPages lists tracked pages
func runBrowserPages(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	mgr, err := attachedManager(ctx)
	if err != nil {
		return err
	}

	pages := mgr.List()
	if len(pages) == 0 {
		fmt.Println("No tracked pages. Use 'loom browser open <url>' first.")
		return nil
	}

	fmt.Println("📁 Tracked Pages")
	fmt.Println(strings.Repeat("─", 50))
	for _, p := range pages {
		fmt.Printf("  %s  [%s] %s\n", p.ID, p.Status, p.URL)
	}
	fmt.Println(strings.Repeat("─", 50))
	fmt.Printf("Total: %d page(s)\n", len(pages))
	return nil
}

func init() {
	browserCmd.AddCommand(browserLaunchCmd, browserOpenCmd, browserPagesCmd)
	rootCmd.AddCommand(browserCmd)
}
