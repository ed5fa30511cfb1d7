// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package quitauth coordinates re-authentication of privileged actions.
package quitauth

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/YanDao0313/lockit/internal/audit"
	"github.com/YanDao0313/lockit/internal/auth"
)

// =============================================================================
// TYPES
// =============================================================================

// Action identifies the privileged action awaiting re-authentication.
type Action string

const (
	// ActionSettingsClose is closing the settings view with unsaved changes.
	ActionSettingsClose Action = "settings_close"

	// ActionAppQuit is quitting the application while the lock schedule
	// is active.
	ActionAppQuit Action = "app_quit"
)

// Decision is the outcome delivered to whoever suspended the privileged
// action.
type Decision int

const (
	// DecisionCancel aborts the privileged action; the application state is
	// unchanged.
	DecisionCancel Decision = iota

	// DecisionProceed lets the privileged action go ahead.
	DecisionProceed
)

// String returns the decision name.
func (d Decision) String() string {
	if d == DecisionProceed {
		return "proceed"
	}
	return "cancel"
}

// Request notifies the authentication UI that a privileged action is
// pending. It carries only the correlation id and the action kind; the
// secret flows back through Verify.
type Request struct {
	ID     string `json:"request_id"`
	Action Action `json:"action"`
}

// VerifyFunc checks a submitted secret against the current credentials.
// Any configured method (fixed or TOTP) may satisfy it.
type VerifyFunc func(password string) (auth.Result, error)

// =============================================================================
// ERRORS
// =============================================================================

// ErrStaleRequest is returned when a verify or cancel call names a request
// id that is not the current pending one. Stale calls never affect state.
var ErrStaleRequest = errors.New("no such pending quit-auth request")

// =============================================================================
// COORDINATOR
// =============================================================================

// Coordinator serializes privileged-action re-authentication. At most one
// request is pending at a time; a new Begin supersedes the previous request,
// resolving its waiter with DecisionCancel.
type Coordinator struct {
	mu      sync.Mutex
	verify  VerifyFunc
	pending *pendingRequest
	subs    []chan Request
	logger  *audit.Logger
}

type pendingRequest struct {
	id     string
	action Action
	result chan Decision
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithAuditLogger attaches an audit trail for quit-auth events.
func WithAuditLogger(logger *audit.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// New creates a Coordinator using verify for re-authentication.
func New(verify VerifyFunc, opts ...Option) *Coordinator {
	c := &Coordinator{verify: verify}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// =============================================================================
// REQUEST LIFECYCLE
// =============================================================================

// Begin opens a re-authentication request for a privileged action and
// notifies subscribers. The returned channel delivers exactly one Decision:
// DecisionProceed after successful verification, DecisionCancel after an
// explicit cancel or when a newer request supersedes this one.
func (c *Coordinator) Begin(action Action) (string, <-chan Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Supersede any outstanding request; its waiter resolves to cancel.
	if c.pending != nil {
		c.pending.result <- DecisionCancel
		c.logEvent(audit.EventQuitAuthCancel, true, map[string]string{
			"request_id": c.pending.id,
			"reason":     "superseded",
		})
	}

	req := &pendingRequest{
		id:     uuid.NewString(),
		action: action,
		result: make(chan Decision, 1),
	}
	c.pending = req

	c.logEvent(audit.EventQuitAuthBegin, true, map[string]string{
		"request_id": req.id,
		"action":     string(action),
	})

	c.notifyLocked(Request{ID: req.id, Action: action})
	return req.id, req.result
}

// Verify checks a submitted secret against the pending request. A stale or
// unknown request id is rejected with ErrStaleRequest and changes nothing.
// On verification failure the request stays pending so the UI can re-prompt;
// on success the waiter receives DecisionProceed and the request resolves.
func (c *Coordinator) Verify(requestID, password string) (auth.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == nil || c.pending.id != requestID {
		c.logEvent(audit.EventQuitAuthVerify, false, map[string]string{
			"request_id": requestID,
			"error":      "stale_request",
		})
		return auth.Result{}, ErrStaleRequest
	}

	res, err := c.verify(password)
	if err != nil {
		c.logEvent(audit.EventQuitAuthVerify, false, map[string]string{
			"request_id": requestID,
			"error":      err.Error(),
		})
		return auth.Result{}, err
	}
	if !res.Success {
		c.logEvent(audit.EventQuitAuthVerify, false, map[string]string{
			"request_id": requestID,
		})
		return res, nil
	}

	c.pending.result <- DecisionProceed
	c.pending = nil
	c.logEvent(audit.EventQuitAuthVerify, true, map[string]string{
		"request_id": requestID,
		"method":     string(res.Method),
	})
	return res, nil
}

// Cancel aborts the pending request if requestID matches. Cancelling an
// already-resolved, already-cancelled, or unknown request is an idempotent
// no-op returning false.
func (c *Coordinator) Cancel(requestID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == nil || c.pending.id != requestID {
		return false
	}

	c.pending.result <- DecisionCancel
	c.pending = nil
	c.logEvent(audit.EventQuitAuthCancel, true, map[string]string{
		"request_id": requestID,
		"reason":     "cancelled",
	})
	return true
}

// PendingID returns the id of the current pending request, if any.
func (c *Coordinator) PendingID() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return "", false
	}
	return c.pending.id, true
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

// Subscribe registers an observer for new re-authentication requests. The
// channel is buffered; a slow subscriber drops notifications rather than
// blocking the engine. A request already pending at subscribe time is
// replayed into the new channel, so an observer arriving between Begin and
// resolution still receives the prompt it must answer.
func (c *Coordinator) Subscribe() <-chan Request {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan Request, 8)
	if c.pending != nil {
		ch <- Request{ID: c.pending.id, Action: c.pending.action}
	}
	c.subs = append(c.subs, ch)
	return ch
}

// Unsubscribe removes a channel returned by Subscribe. Long-poll handlers
// subscribe per request; without this the subscriber list grows without
// bound.
func (c *Coordinator) Unsubscribe(ch <-chan Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, sub := range c.subs {
		if sub == ch {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			return
		}
	}
}

func (c *Coordinator) notifyLocked(req Request) {
	for _, ch := range c.subs {
		select {
		case ch <- req:
		default:
		}
	}
}

func (c *Coordinator) logEvent(eventType string, success bool, metadata map[string]string) {
	_ = c.logger.LogEvent(eventType, success, metadata)
}
