// Package logging provides audit logging for pipeline operations.
// Audit logs are structured JSONL events covering recording sessions,
// source transforms, bundle writes, and locator maintenance.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// =============================================================================
// AUDIT EVENT TYPES
// =============================================================================

// AuditEventType defines the type of audit event
type AuditEventType string

const (
	// Recording session lifecycle
	AuditSessionStart AuditEventType = "session_start"
	AuditSessionEnd   AuditEventType = "session_end"
	AuditStepAppend   AuditEventType = "step_append"

	// Source transform passes
	AuditPassApplied AuditEventType = "pass_applied"
	AuditPassSkipped AuditEventType = "pass_skipped"

	// Bundle operations
	AuditBundleGenerate AuditEventType = "bundle_generate"
	AuditBundleUpdate   AuditEventType = "bundle_update"
	AuditBundleValidate AuditEventType = "bundle_validate"

	// File operations
	AuditFileRead   AuditEventType = "file_read"
	AuditFileWrite  AuditEventType = "file_write"
	AuditFileRename AuditEventType = "file_rename"
	AuditFileError  AuditEventType = "file_error"

	// Locator evaluation
	AuditLocatorEvaluate   AuditEventType = "locator_evaluate"
	AuditLocatorSuperseded AuditEventType = "locator_superseded"

	// Locator inventory maintenance
	AuditIndexRebuild AuditEventType = "index_rebuild"
	AuditStatusSet    AuditEventType = "status_set"
	AuditStatusRekey  AuditEventType = "status_rekey"

	// Performance
	AuditPerfMetric AuditEventType = "perf_metric"
	AuditPerfSlow   AuditEventType = "perf_slow"

	// Error events
	AuditErrorGeneric  AuditEventType = "error_generic"
	AuditErrorCritical AuditEventType = "error_critical"
)

// =============================================================================
// AUDIT EVENT STRUCTURE
// =============================================================================

// AuditEvent represents a structured audit log entry
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"`      // Unix milliseconds
	EventType  AuditEventType         `json:"event"`   // Event kind
	Category   string                 `json:"cat"`     // Log category
	SessionID  string                 `json:"session"` // Recording session correlation
	RequestID  string                 `json:"req"`     // Request correlation
	Target     string                 `json:"target"`  // Target of operation (slug, path, selector)
	Action     string                 `json:"action"`  // Action being performed
	Success    bool                   `json:"success"` // Operation succeeded
	DurationMs int64                  `json:"dur_ms"`  // Duration in milliseconds
	Error      string                 `json:"error"`   // Error message if failed
	Message    string                 `json:"msg"`     // Human-readable message
	Fields     map[string]interface{} `json:"fields"`  // Additional structured fields
}

// =============================================================================
// AUDIT LOGGER
// =============================================================================

var (
	auditFile   *os.File
	auditMu     sync.Mutex
	auditLogger *AuditLogger
)

// AuditLogger handles structured audit logging
type AuditLogger struct {
	sessionID string
	category  Category
}

// InitAudit initializes the audit logging system
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil // Already initialized
	}

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(logsDir, fmt.Sprintf("%s_audit.log", date))

	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file

	header := fmt.Sprintf("# Audit log started at %s\n", time.Now().Format(time.RFC3339))
	auditFile.WriteString(header)

	return nil
}

// CloseAudit closes the audit log file
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the global audit logger
func Audit() *AuditLogger {
	if auditLogger == nil {
		auditLogger = &AuditLogger{}
	}
	return auditLogger
}

// AuditWithSession creates an audit logger scoped to a recording session
func AuditWithSession(sessionID string) *AuditLogger {
	return &AuditLogger{sessionID: sessionID}
}

// AuditWithContext creates a fully-scoped audit logger
func AuditWithContext(sessionID string, category Category) *AuditLogger {
	return &AuditLogger{
		sessionID: sessionID,
		category:  category,
	}
}

// =============================================================================
// AUDIT LOGGING METHODS
// =============================================================================

// Log writes an audit event
func (a *AuditLogger) Log(event AuditEvent) {
	if !IsDebugMode() || auditFile == nil {
		return
	}

	// Fill in defaults
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.SessionID == "" && a.sessionID != "" {
		event.SessionID = a.sessionID
	}
	if event.Category == "" && a.category != "" {
		event.Category = string(a.category)
	}
	if event.Fields == nil {
		event.Fields = make(map[string]interface{})
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	data, err := json.Marshal(event)
	if err == nil {
		auditFile.WriteString(string(data) + "\n")
	}
}

// =============================================================================
// CONVENIENCE METHODS FOR COMMON EVENTS
// =============================================================================

// SessionStart logs a recording session start
func (a *AuditLogger) SessionStart(sessionID, startURL string) {
	a.Log(AuditEvent{
		EventType: AuditSessionStart,
		SessionID: sessionID,
		Target:    startURL,
		Success:   true,
		Message:   fmt.Sprintf("Recording session started: %s", sessionID),
	})
}

// SessionEnd logs a recording session end
func (a *AuditLogger) SessionEnd(sessionID string, stepCount int, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditSessionEnd,
		SessionID:  sessionID,
		Success:    true,
		DurationMs: durationMs,
		Fields:     map[string]interface{}{"step_count": stepCount},
		Message:    fmt.Sprintf("Recording session ended: %s (%d steps, %dms)", sessionID, stepCount, durationMs),
	})
}

// StepAppend logs a step appended to a recording session
func (a *AuditLogger) StepAppend(sessionID, actionKind string, order int) {
	a.Log(AuditEvent{
		EventType: AuditStepAppend,
		SessionID: sessionID,
		Action:    actionKind,
		Success:   true,
		Fields:    map[string]interface{}{"order": order},
		Message:   fmt.Sprintf("Step appended: #%d %s", order, actionKind),
	})
}

// PassApplied logs a source transform pass
func (a *AuditLogger) PassApplied(passName string, changed bool, durationMs int64) {
	eventType := AuditPassApplied
	if !changed {
		eventType = AuditPassSkipped
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		Action:     passName,
		Success:    true,
		DurationMs: durationMs,
		Message:    fmt.Sprintf("Transform pass %s: changed=%v (%dms)", passName, changed, durationMs),
	})
}

// BundleGenerate logs a bundle generation
func (a *AuditLogger) BundleGenerate(slug string, stepCount int, durationMs int64, success bool, errMsg string) {
	a.Log(AuditEvent{
		EventType:  AuditBundleGenerate,
		Target:     slug,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
		Fields:     map[string]interface{}{"step_count": stepCount},
		Message:    fmt.Sprintf("Bundle generated: %s (%d steps, success=%v)", slug, stepCount, success),
	})
}

// BundleUpdate logs a structural bundle edit
func (a *AuditLogger) BundleUpdate(slug, op string, durationMs int64, success bool, errMsg string) {
	a.Log(AuditEvent{
		EventType:  AuditBundleUpdate,
		Target:     slug,
		Action:     op,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
		Message:    fmt.Sprintf("Bundle update %s: %s (success=%v, %dms)", slug, op, success, durationMs),
	})
}

// FileOp logs a file operation
func (a *AuditLogger) FileOp(op AuditEventType, path string, size int64, success bool, errMsg string) {
	a.Log(AuditEvent{
		EventType: op,
		Target:    path,
		Success:   success,
		Error:     errMsg,
		Fields:    map[string]interface{}{"size": size},
		Message:   fmt.Sprintf("File %s: %s (%d bytes, success=%v)", op, path, size, success),
	})
}

// LocatorEvaluate logs a locator evaluation
func (a *AuditLogger) LocatorEvaluate(requestID, selector string, matchCount int, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditLocatorEvaluate,
		RequestID:  requestID,
		Target:     selector,
		Success:    matchCount >= 0,
		DurationMs: durationMs,
		Fields:     map[string]interface{}{"match_count": matchCount},
		Message:    fmt.Sprintf("Locator evaluated: %s -> %d matches (%dms)", selector, matchCount, durationMs),
	})
}

// LocatorSuperseded logs a discarded stale evaluation
func (a *AuditLogger) LocatorSuperseded(requestID, selector string) {
	a.Log(AuditEvent{
		EventType: AuditLocatorSuperseded,
		RequestID: requestID,
		Target:    selector,
		Success:   true,
		Message:   fmt.Sprintf("Locator evaluation superseded: %s", selector),
	})
}

// IndexRebuild logs a locator inventory rebuild
func (a *AuditLogger) IndexRebuild(bundleCount, entryCount int, durationMs int64, success bool, errMsg string) {
	a.Log(AuditEvent{
		EventType:  AuditIndexRebuild,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
		Fields:     map[string]interface{}{"bundles": bundleCount, "entries": entryCount},
		Message:    fmt.Sprintf("Locator index rebuilt: %d bundles -> %d entries", bundleCount, entryCount),
	})
}

// StatusRekey logs a maintenance-status rekey
func (a *AuditLogger) StatusRekey(oldKey, newKey string, success bool) {
	a.Log(AuditEvent{
		EventType: AuditStatusRekey,
		Target:    newKey,
		Success:   success,
		Fields:    map[string]interface{}{"old_key": oldKey},
		Message:   fmt.Sprintf("Maintenance status rekeyed: %s -> %s", oldKey, newKey),
	})
}

// PerfMetric logs a performance metric
func (a *AuditLogger) PerfMetric(operation string, durationMs int64, threshold int64) {
	eventType := AuditPerfMetric
	success := true
	if threshold > 0 && durationMs > threshold {
		eventType = AuditPerfSlow
		success = false
	}
	fields := map[string]interface{}{}
	if threshold > 0 {
		fields["threshold_ms"] = threshold
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		Action:     operation,
		DurationMs: durationMs,
		Success:    success,
		Fields:     fields,
		Message:    fmt.Sprintf("Perf: %s took %dms (threshold=%dms)", operation, durationMs, threshold),
	})
}

// Error logs an error event
func (a *AuditLogger) Error(category string, err error, critical bool) {
	eventType := AuditErrorGeneric
	if critical {
		eventType = AuditErrorCritical
	}
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	a.Log(AuditEvent{
		EventType: eventType,
		Category:  category,
		Success:   false,
		Error:     errMsg,
		Message:   fmt.Sprintf("Error in %s: %s (critical=%v)", category, errMsg, critical),
	})
}
