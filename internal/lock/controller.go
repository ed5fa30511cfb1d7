// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package lock orchestrates the focus-lock engine.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/YanDao0313/lockit/internal/audit"
	"github.com/YanDao0313/lockit/internal/auth"
	"github.com/YanDao0313/lockit/internal/ledger"
	"github.com/YanDao0313/lockit/internal/quitauth"
	"github.com/YanDao0313/lockit/internal/schedule"
)

// =============================================================================
// TYPES
// =============================================================================

// State is the current lock state.
type State int

const (
	// StateUnlocked means the lock screen is not demanded.
	StateUnlocked State = iota

	// StateLocked means the lock screen must be shown.
	StateLocked
)

// String returns the state name.
func (s State) String() string {
	if s == StateLocked {
		return "locked"
	}
	return "unlocked"
}

// StateEvent notifies observers of a lock state transition.
type StateEvent struct {
	Locked bool      `json:"locked"`
	At     time.Time `json:"at"`
}

// ConfigProvider supplies the current credentials and schedule. The config
// store satisfies it; tests substitute a static provider.
type ConfigProvider interface {
	PasswordConfig() auth.PasswordConfig
	Schedule() *schedule.WeeklySchedule
}

// RecordSink receives unlock attempt records. *ledger.Store satisfies it.
type RecordSink interface {
	Append(ctx context.Context, rec *ledger.Record) error
}

// PhotoStore turns a captured photo blob into a path reference.
type PhotoStore interface {
	SavePhoto(data []byte) (string, error)
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller drives the lock state from the schedule, funnels unlock
// attempts through the credential verifier into the ledger, and routes
// privileged actions through the quit-auth coordinator.
//
// All mutating operations run to completion under one mutex: a tick, an
// unlock attempt, and a settings-dirty update never interleave.
type Controller struct {
	mu       sync.Mutex
	cfg      ConfigProvider
	verifier *auth.Verifier
	records  RecordSink
	coord    *quitauth.Coordinator
	photos   PhotoStore
	logger   *audit.Logger

	state         State
	attemptCount  int
	settingsDirty bool
	stateSubs     []chan StateEvent
}

// Option configures a Controller.
type Option func(*Controller)

// WithPhotoStore attaches a photo store for failed-attempt snapshots.
func WithPhotoStore(photos PhotoStore) Option {
	return func(c *Controller) {
		c.photos = photos
	}
}

// WithAuditLogger attaches an audit trail.
func WithAuditLogger(logger *audit.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// New creates a Controller. The coordinator handles re-authentication for
// privileged actions and must verify against the same config source.
func New(cfg ConfigProvider, verifier *auth.Verifier, records RecordSink,
	coord *quitauth.Coordinator, opts ...Option) *Controller {

	c := &Controller{
		cfg:      cfg,
		verifier: verifier,
		records:  records,
		coord:    coord,
		state:    StateUnlocked,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// =============================================================================
// TICKING
// =============================================================================

// Tick re-evaluates the schedule at the given instant and applies any state
// transition. Entering the locked state starts a new lock episode with a
// fresh attempt count. Leaving it because the window ended is a passive
// transition: no credentials, no unlock record.
func (c *Controller) Tick(now time.Time) {
	shouldLock := schedule.IsLockedAt(c.cfg.Schedule(), now)

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case shouldLock && c.state == StateUnlocked:
		c.state = StateLocked
		c.attemptCount = 0
		c.notifyStateLocked(StateEvent{Locked: true, At: now})
		_ = c.logger.LogEvent(audit.EventLockEngage, true, map[string]string{
			"reason": "schedule",
		})

	case !shouldLock && c.state == StateLocked:
		c.state = StateUnlocked
		c.notifyStateLocked(StateEvent{Locked: false, At: now})
		_ = c.logger.LogEvent(audit.EventLockRelease, true, map[string]string{
			"reason": "schedule_window_ended",
		})
	}
}

// Run ticks the controller until the context is cancelled. The interval
// should be at least one second; schedule boundaries have minute
// resolution, so finer polling buys nothing.
func (c *Controller) Run(ctx context.Context, interval time.Duration) {
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.Tick(time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.Tick(now)
		}
	}
}

// =============================================================================
// UNLOCKING
// =============================================================================

// Unlock verifies a submitted secret and records the outcome. On success
// the lock episode ends and the state returns to unlocked; on failure the
// lock holds and the supplied photo, if any, is stored and referenced from
// the record. A configuration error (missing secret for the configured
// method) is returned to the caller and recorded with its error text rather
// than masquerading as a wrong password.
func (c *Controller) Unlock(ctx context.Context, submitted string, photo []byte) (auth.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.attemptCount++

	rec := ledger.Record{
		Timestamp:    time.Now(),
		AttemptCount: c.attemptCount,
	}

	res, verifyErr := c.verifier.Verify(submitted, c.cfg.PasswordConfig(), time.Now())
	rec.Success = res.Success
	rec.Method = string(res.Method)
	if verifyErr != nil {
		rec.Error = verifyErr.Error()
	}

	if !res.Success && len(photo) > 0 && c.photos != nil {
		path, err := c.photos.SavePhoto(photo)
		if err != nil {
			_ = c.logger.LogEvent(audit.EventUnlockAttempt, false, map[string]string{
				"error": fmt.Sprintf("photo save failed: %v", err),
			})
		} else {
			rec.PhotoPath = path
		}
	}

	if err := c.records.Append(ctx, &rec); err != nil {
		// The attempt outcome still stands; losing the record is an audit
		// problem, not an authentication one.
		_ = c.logger.LogEvent(audit.EventUnlockAttempt, res.Success, map[string]string{
			"error": fmt.Sprintf("record append failed: %v", err),
		})
	} else {
		_ = c.logger.LogEvent(audit.EventUnlockAttempt, res.Success, map[string]string{
			"record_id": rec.ID,
			"method":    rec.Method,
			"attempt":   fmt.Sprintf("%d", rec.AttemptCount),
		})
	}

	if verifyErr != nil {
		return auth.Result{}, verifyErr
	}

	if res.Success && c.state == StateLocked {
		c.state = StateUnlocked
		c.notifyStateLocked(StateEvent{Locked: false, At: time.Now()})
		_ = c.logger.LogEvent(audit.EventLockRelease, true, map[string]string{
			"reason": "unlock",
			"method": rec.Method,
		})
	}

	return res, nil
}

// State returns the current lock state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// AttemptCount returns the number of unlock attempts in the current episode.
func (c *Controller) AttemptCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attemptCount
}

// =============================================================================
// SETTINGS / PRIVILEGED ACTIONS
// =============================================================================

// SetSettingsDirty records whether the settings view holds unsaved changes.
// Setting the same value twice is harmless.
func (c *Controller) SetSettingsDirty(dirty bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settingsDirty = dirty
}

// SettingsDirty reports whether the settings view holds unsaved changes.
func (c *Controller) SettingsDirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settingsDirty
}

// RequestSettingsClose routes a settings-close attempt. With no unsaved
// changes the decision channel resolves to proceed immediately and the
// request id is empty; otherwise a re-authentication request opens and the
// returned id names it for Verify and Cancel calls.
func (c *Controller) RequestSettingsClose() (string, <-chan quitauth.Decision) {
	c.mu.Lock()
	dirty := c.settingsDirty
	c.mu.Unlock()

	if !dirty {
		return "", immediateDecision(quitauth.DecisionProceed)
	}
	return c.coord.Begin(quitauth.ActionSettingsClose)
}

// RequestQuit routes an app-quit attempt. Quitting is privileged only while
// the schedule demands the lock; outside lock windows it proceeds at once
// with an empty request id.
func (c *Controller) RequestQuit(now time.Time) (string, <-chan quitauth.Decision) {
	if !schedule.IsLockedAt(c.cfg.Schedule(), now) {
		return "", immediateDecision(quitauth.DecisionProceed)
	}
	return c.coord.Begin(quitauth.ActionAppQuit)
}

func immediateDecision(d quitauth.Decision) <-chan quitauth.Decision {
	ch := make(chan quitauth.Decision, 1)
	ch <- d
	return ch
}

// =============================================================================
// STATE OBSERVERS
// =============================================================================

// SubscribeState registers an observer for lock state transitions. The
// channel is buffered; slow observers drop events rather than stalling the
// tick loop.
func (c *Controller) SubscribeState() <-chan StateEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan StateEvent, 8)
	c.stateSubs = append(c.stateSubs, ch)
	return ch
}

// UnsubscribeState removes a channel returned by SubscribeState.
func (c *Controller) UnsubscribeState(ch <-chan StateEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, sub := range c.stateSubs {
		if sub == ch {
			c.stateSubs = append(c.stateSubs[:i], c.stateSubs[i+1:]...)
			return
		}
	}
}

func (c *Controller) notifyStateLocked(ev StateEvent) {
	for _, ch := range c.stateSubs {
		select {
		case ch <- ev:
		default:
		}
	}
}
