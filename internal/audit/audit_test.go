// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := New(path)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l, path
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestLog_WritesJSONLines(t *testing.T) {
	l, path := newTestLogger(t)

	require.NoError(t, l.LogEvent(EventLockEngage, true, map[string]string{"reason": "schedule"}))
	require.NoError(t, l.LogEvent(EventUnlockAttempt, false, map[string]string{"method": "fixed"}))

	lines := readLines(t, path)
	require.Len(t, lines, 2)

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ev))
	assert.Equal(t, EventLockEngage, ev.EventType)
	assert.True(t, ev.Success)
	assert.Equal(t, "schedule", ev.Metadata["reason"])
	assert.False(t, ev.Timestamp.IsZero())
}

func TestLog_RedactsSecrets(t *testing.T) {
	l, path := newTestLogger(t)

	require.NoError(t, l.LogEvent(EventQuitAuthVerify, false, map[string]string{
		"url":    "otpauth://totp/LockIt:dev?secret=JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP&issuer=LockIt",
		"detail": "password=super-secret",
		"hash":   "pbkdf2-sha256$120000$00ff$aabb",
	}))

	raw := strings.Join(readLines(t, path), "\n")
	assert.NotContains(t, raw, "super-secret")
	assert.NotContains(t, raw, "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP")
	assert.NotContains(t, raw, "pbkdf2-sha256$120000")
	assert.Contains(t, raw, "[PASSWORD_REDACTED]")
	assert.Contains(t, raw, "[OTPAUTH_URL_REDACTED]")
}

func TestRedact_Base32Secret(t *testing.T) {
	l, _ := newTestLogger(t)

	out := l.Redact("secret is JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP ok")
	assert.Equal(t, "secret is [TOTP_SECRET_REDACTED] ok", out)
}

func TestLog_DisabledDropsEvents(t *testing.T) {
	l, path := newTestLogger(t)
	l.SetEnabled(false)

	require.NoError(t, l.LogEvent(EventStartup, true, nil))
	assert.Empty(t, readLines(t, path))

	l.SetEnabled(true)
	require.NoError(t, l.LogEvent(EventStartup, true, nil))
	assert.Len(t, readLines(t, path), 1)
}

func TestLog_NilLoggerIsNoop(t *testing.T) {
	var l *Logger
	assert.NoError(t, l.LogEvent(EventStartup, true, nil))
	assert.False(t, l.IsEnabled())
	assert.NoError(t, l.Close())
}

func TestRotate(t *testing.T) {
	l, path := newTestLogger(t)
	l.SetMaxSize(1) // Force rotation after every event.

	require.NoError(t, l.LogEvent(EventStartup, true, nil))
	require.NoError(t, l.LogEvent(EventShutdown, true, nil))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	// Current file plus at least one rotated file.
	assert.GreaterOrEqual(t, len(entries), 2)
}

func TestAddRedactor(t *testing.T) {
	l, path := newTestLogger(t)
	l.AddRedactor(NewPatternRedactor("Custom",
		regexp.MustCompile(`cam-[0-9]+`), "[CAMERA_ID_REDACTED]"))

	require.NoError(t, l.LogEvent(EventUnlockAttempt, false, map[string]string{
		"camera": "cam-42",
	}))

	raw := strings.Join(readLines(t, path), "\n")
	assert.Contains(t, raw, "[CAMERA_ID_REDACTED]")
	assert.NotContains(t, raw, "cam-42")
}
