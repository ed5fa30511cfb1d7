// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package audit provides the append-only audit trail of lock engine events.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// DefaultMaxFileSize is the default max file size before rotation (10MB).
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

// Event types emitted by the engine.
const (
	EventLockEngage     = "LOCK_ENGAGE"
	EventLockRelease    = "LOCK_RELEASE"
	EventUnlockAttempt  = "UNLOCK_ATTEMPT"
	EventRecordDelete   = "RECORD_DELETE"
	EventRecordsClear   = "RECORDS_CLEAR"
	EventQuitAuthBegin  = "QUIT_AUTH_BEGIN"
	EventQuitAuthVerify = "QUIT_AUTH_VERIFY"
	EventQuitAuthCancel = "QUIT_AUTH_CANCEL"
	EventConfigReload   = "CONFIG_RELOAD"
	EventStartup        = "STARTUP"
	EventShutdown       = "SHUTDOWN"
)

// =============================================================================
// EVENT
// =============================================================================

// Event is a single audit log entry, serialized as one JSON line.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// =============================================================================
// REDACTION
// =============================================================================

// Redactor replaces sensitive data before an event reaches disk.
type Redactor interface {
	Redact(input string) string
	Name() string
}

// PatternRedactor redacts text matching a regex pattern.
type PatternRedactor struct {
	name    string
	pattern *regexp.Regexp
	replace string
}

// NewPatternRedactor creates a redactor for the given pattern.
func NewPatternRedactor(name string, pattern *regexp.Regexp, replace string) *PatternRedactor {
	return &PatternRedactor{name: name, pattern: pattern, replace: replace}
}

// Redact replaces all pattern matches in the input.
func (r *PatternRedactor) Redact(input string) string {
	return r.pattern.ReplaceAllString(input, r.replace)
}

// Name returns the redactor's name.
func (r *PatternRedactor) Name() string {
	return r.name
}

// secretPatterns covers the secrets this engine handles: provisioning URIs
// (which embed the TOTP secret), inline password assignments, and standalone
// base32 secrets.
var secretPatterns = []struct {
	name    string
	pattern *regexp.Regexp
	replace string
}{
	{"OtpauthURL", regexp.MustCompile(`otpauth://totp/\S+`), "[OTPAUTH_URL_REDACTED]"},
	{"Password", regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[=:]\s*\S+`), "[PASSWORD_REDACTED]"},
	{"PBKDF2", regexp.MustCompile(`pbkdf2-sha256\$\d+\$[0-9a-f]+\$[0-9a-f]+`), "[PASSWORD_HASH_REDACTED]"},
	{"Base32Secret", regexp.MustCompile(`\b[A-Z2-7]{32}\b`), "[TOTP_SECRET_REDACTED]"},
}

func defaultRedactors() []Redactor {
	redactors := make([]Redactor, 0, len(secretPatterns))
	for _, sp := range secretPatterns {
		redactors = append(redactors, NewPatternRedactor(sp.name, sp.pattern, sp.replace))
	}
	return redactors
}

// =============================================================================
// LOGGER
// =============================================================================

// Logger provides thread-safe JSONL audit logging with secret redaction and
// size-based rotation. A nil *Logger is safe to use and drops all events,
// so callers can treat the audit trail as optional.
type Logger struct {
	path      string
	file      *os.File
	mu        sync.Mutex
	enabled   bool
	maxSize   int64
	redactors []Redactor
}

// New creates an audit logger appending to the given path.
func New(path string) (*Logger, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	return &Logger{
		path:      path,
		file:      file,
		enabled:   true,
		maxSize:   DefaultMaxFileSize,
		redactors: defaultRedactors(),
	}, nil
}

// Log writes an event to the audit trail. The error string and all metadata
// values pass through the redactor chain first.
func (l *Logger) Log(event Event) error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled || l.file == nil {
		return nil
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Error != "" {
		event.Error = l.redactLocked(event.Error)
	}
	if event.Metadata != nil {
		redacted := make(map[string]string, len(event.Metadata))
		for k, v := range event.Metadata {
			redacted[k] = l.redactLocked(v)
		}
		event.Metadata = redacted
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}

	return l.checkRotationLocked()
}

// LogEvent records a simple event with metadata.
func (l *Logger) LogEvent(eventType string, success bool, metadata map[string]string) error {
	return l.Log(Event{
		EventType: eventType,
		Success:   success,
		Metadata:  metadata,
	})
}

// Redact applies the redactor chain to an arbitrary string.
func (l *Logger) Redact(input string) string {
	if l == nil {
		return input
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.redactLocked(input)
}

func (l *Logger) redactLocked(input string) string {
	for _, r := range l.redactors {
		input = r.Redact(input)
	}
	return input
}

// AddRedactor appends a custom redactor to the chain.
func (l *Logger) AddRedactor(r Redactor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.redactors = append(l.redactors, r)
}

// =============================================================================
// ROTATION
// =============================================================================

// Rotate renames the current file with a timestamp suffix and starts a new one.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rotateLocked()
}

func (l *Logger) rotateLocked() error {
	if l.file == nil {
		return nil
	}

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close audit log for rotation: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	ext := filepath.Ext(l.path)
	base := strings.TrimSuffix(l.path, ext)
	rotatedPath := fmt.Sprintf("%s_%s%s", base, timestamp, ext)

	if err := os.Rename(l.path, rotatedPath); err != nil {
		// Try to reopen the original file if rename fails.
		l.file, _ = os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		return fmt.Errorf("failed to rotate audit log: %w", err)
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create new audit log after rotation: %w", err)
	}
	l.file = file
	return nil
}

func (l *Logger) checkRotationLocked() error {
	if l.maxSize <= 0 {
		return nil
	}
	info, err := l.file.Stat()
	if err != nil {
		return nil // Ignore stat errors
	}
	if info.Size() >= l.maxSize {
		return l.rotateLocked()
	}
	return nil
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// SetMaxSize sets the maximum file size before rotation.
func (l *Logger) SetMaxSize(size int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maxSize = size
}

// SetEnabled enables or disables logging.
func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

// IsEnabled returns whether logging is enabled.
func (l *Logger) IsEnabled() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Path returns the audit log file path.
func (l *Logger) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
