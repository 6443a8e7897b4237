// Package main implements the testloom CLI commands.
// This file contains the recording command.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"testloom/internal/browser"
	"testloom/internal/locator"
	"testloom/internal/logging"
	"testloom/internal/recorder"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// =============================================================================
// RECORD COMMAND - capture a browser walkthrough into a step file
// =============================================================================

var (
	recordOut         string
	recordRestoreAuth bool
	recordSaveAuth    bool
	recordShots       bool
)

var recordCmd = &cobra.Command{
	Use:   "record [url]",
	Short: "Record a browser walkthrough into a step file",
	Long: `Opens a controlled browser at the given URL and records every
interaction: clicks, typed values, selects, checkbox toggles and key
presses, plus the navigations they trigger.

Recording runs until Ctrl+C. The captured steps land in a step file
under .loom/recordings/, ready for 'loom generate'.

While recording, hovering an element scores its best locator against
the live page; weak locators are called out immediately so they can be
avoided before they ever reach a generated spec.

A browser left running by 'loom browser launch' is reused; otherwise a
fresh one is launched and shut down when recording ends.`,
	Args: cobra.ExactArgs(1),
	RunE: runRecord,
}

func runRecord(cmd *cobra.Command, args []string) error {
	// The browser must outlive capture: auth state save and shutdown run
	// after the capture context is canceled.
	browserCtx := context.Background()
	captureCtx, stopCapture := context.WithCancel(context.Background())
	defer stopCapture()

	startURL := args[0]
	logger.Info("Starting recording", zap.String("url", startURL))

	bcfg := getBrowserConfig()

	// Reuse a browser left running by 'loom browser launch'.
	launched := true
	if controlURL := readControlFile(); controlURL != "" {
		bcfg.DebuggerURL = controlURL
		launched = false
		logger.Info("Connecting to existing browser", zap.String("url", controlURL))
	}

	mgr := browser.NewManager(bcfg)
	if err := mgr.Start(browserCtx); err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	if launched {
		writeControlFile(mgr.ControlURL())
	}

	page, err := mgr.OpenPage(browserCtx, startURL)
	if err != nil {
		return fmt.Errorf("failed to open page: %w", err)
	}

	if recordRestoreAuth {
		if err := mgr.RestoreAuthState(browserCtx, page.ID); err != nil {
			logging.BrowserWarn("auth state restore failed: %v", err)
			fmt.Println("Warning: could not restore saved auth state; log in manually.")
		}
	}

	sess := recorder.NewSession(startURL)
	if err := sess.Start(); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	// The capture hook only observes navigations after it is installed, so
	// the entry navigation is fed directly. If the hook reports it again,
	// the cleanup pass collapses the duplicate at generation time.
	_ = sess.Feed(recorder.CaptureEvent{
		ActionKind:   recorder.ActionNavigate,
		Value:        startURL,
		FrameContext: "main",
		Timestamp:    time.Now(),
	})

	querier, err := mgr.Querier(page.ID)
	if err != nil {
		return fmt.Errorf("failed to build page querier: %w", err)
	}
	evaluator := locator.NewEvaluator(cfg.GetEvaluatorTimeout())
	inspector := locator.NewInspector(evaluator, querier)

	onHover := func(candidates []locator.Locator) {
		best := candidates[0]
		sess.SetLastHover(best)
		go func() {
			ev, err := inspector.Inspect(captureCtx, best)
			if err != nil {
				// Superseded by a newer hover; nothing to report.
				return
			}
			if ev.Usability.Level == locator.LevelLow {
				fmt.Printf("⚠️  weak locator under cursor: %s %q - %s\n",
					best.Strategy, best.Selector, ev.Usability.Recommendation)
			}
		}()
	}

	var sink browser.CaptureSink = sess
	if recordShots {
		shotsDir := filepath.Join(resolveWorkspace(), ".loom", "recordings", sess.ID+"-shots")
		if err := os.MkdirAll(shotsDir, 0o755); err != nil {
			return fmt.Errorf("failed to create screenshot dir: %w", err)
		}
		sink = &shotSink{mgr: mgr, pageID: page.ID, dir: shotsDir, next: sess}
	}

	if err := mgr.StartCapture(captureCtx, page.ID, sink, onHover); err != nil {
		return fmt.Errorf("failed to start capture: %w", err)
	}

	fmt.Printf("🔴 Recording session %s\n", sess.ID)
	fmt.Printf("   URL: %s\n", startURL)
	fmt.Println("   Interact with the page. Press Ctrl+C to finish.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	// Stop the poll loop first so no new events arrive mid-drain, then
	// collect what is already buffered.
	stopCapture()
	steps := sess.Stop()

	if recordSaveAuth {
		if err := mgr.SaveAuthState(browserCtx, page.ID); err != nil {
			logging.BrowserWarn("auth state save failed: %v", err)
		} else {
			fmt.Printf("Auth state saved to %s\n", bcfg.AuthStatePath)
		}
	}

	if launched {
		removeControlFile()
		if err := mgr.Shutdown(browserCtx); err != nil {
			logging.BootWarn("failed to shutdown browser: %v", err)
		}
	}

	if len(steps) == 0 {
		fmt.Println("\nNo steps recorded.")
		return nil
	}

	outPath := recordOut
	if outPath == "" {
		outPath = filepath.Join(resolveWorkspace(), ".loom", "recordings", sess.ID+".json")
	}
	if err := writeRecording(outPath, steps); err != nil {
		return fmt.Errorf("failed to write recording: %w", err)
	}

	fmt.Printf("\n✅ Recorded %d step(s)\n", len(steps))
	fmt.Printf("   Saved to: %s\n", outPath)
	fmt.Printf("\nNext: loom generate --steps %s --name \"My Test\"\n", outPath)
	return nil
}

// writeRecording persists the captured steps as a JSON step file.
func writeRecording(path string, steps []recorder.RecordedStep) error {
	data, err := json.MarshalIndent(steps, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// shotSink decorates the session sink with a page screenshot per event.
// The screenshot path travels on the event, so it stays attached to the
// right step no matter how events from the two capture producers
// interleave.
type shotSink struct {
	mgr    *browser.Manager
	pageID string
	dir    string
	next   browser.CaptureSink

	mu  sync.Mutex
	seq int
}

func (s *shotSink) Feed(ev recorder.CaptureEvent) error {
	s.mu.Lock()
	seq := s.seq
	s.seq++
	s.mu.Unlock()

	shot, err := s.mgr.Screenshot(context.Background(), s.pageID, false)
	if err != nil {
		logging.BrowserDebug("step screenshot failed: %v", err)
	} else {
		path := filepath.Join(s.dir, fmt.Sprintf("step-%03d.png", seq))
		if err := os.WriteFile(path, shot, 0o644); err != nil {
			logging.BrowserDebug("step screenshot write failed: %v", err)
		} else {
			ev.ScreenshotRef = path
		}
	}
	return s.next.Feed(ev)
}

func init() {
	recordCmd.Flags().StringVarP(&recordOut, "out", "o", "", "Step file path (default: .loom/recordings/<session-id>.json)")
	recordCmd.Flags().BoolVar(&recordRestoreAuth, "restore-auth", false, "Restore saved cookies and storage before recording")
	recordCmd.Flags().BoolVar(&recordSaveAuth, "save-auth", false, "Save cookies and storage when recording ends")
	recordCmd.Flags().BoolVar(&recordShots, "shots", false, "Capture a page screenshot per step")
	rootCmd.AddCommand(recordCmd)
}
