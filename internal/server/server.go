// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/YanDao0313/lockit/internal/auth"
	"github.com/YanDao0313/lockit/internal/config"
	"github.com/YanDao0313/lockit/internal/ledger"
	"github.com/YanDao0313/lockit/internal/lock"
	"github.com/YanDao0313/lockit/internal/quitauth"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// Version is the server version.
	Version = "1.0.0"

	// DefaultEventTimeout is the long-poll wait when the client does not
	// specify one.
	DefaultEventTimeout = 30 * time.Second

	// MaxEventTimeout bounds client-requested long-poll waits.
	MaxEventTimeout = 120 * time.Second
)

// ============================================================================
// SERVER STATS
// ============================================================================

// Stats tracks server usage counters.
type Stats struct {
	TotalRequests  int64
	UnlockAttempts int64
	UnlockFailures int64
	StartTime      time.Time
}

// NewStats creates a Stats anchored at now.
func NewStats() *Stats {
	return &Stats{StartTime: time.Now()}
}

// Uptime returns the time since the server started.
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.StartTime)
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the local HTTP boundary between the lock engine and the UI
// process. Every engine operation is exposed as a JSON endpoint; quit-auth
// decisions and lock-state transitions additionally stream out through the
// long-poll events endpoint.
type Server struct {
	cfg      *config.Store
	ctrl     *lock.Controller
	records  *ledger.Store
	coord    *quitauth.Coordinator
	verifier *auth.Verifier

	stats  *Stats
	mux    *http.ServeMux
	server *http.Server
}

// New creates a Server wired to the engine components.
func New(cfg *config.Store, ctrl *lock.Controller, records *ledger.Store,
	coord *quitauth.Coordinator, verifier *auth.Verifier) *Server {

	s := &Server{
		cfg:      cfg,
		ctrl:     ctrl,
		records:  records,
		coord:    coord,
		verifier: verifier,
		stats:    NewStats(),
		mux:      http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("POST /v1/unlock", s.handleUnlock)
	s.mux.HandleFunc("GET /v1/state", s.handleState)

	s.mux.HandleFunc("POST /v1/auth/verify", s.handleAuthVerify)
	s.mux.HandleFunc("POST /v1/auth/totp/setup", s.handleTOTPSetup)

	s.mux.HandleFunc("GET /v1/records", s.handleRecordsList)
	s.mux.HandleFunc("DELETE /v1/records/{id}", s.handleRecordDelete)
	s.mux.HandleFunc("POST /v1/records/clear", s.handleRecordsClear)

	s.mux.HandleFunc("POST /v1/settings/dirty", s.handleSettingsDirty)
	s.mux.HandleFunc("POST /v1/settings/close", s.handleSettingsClose)
	s.mux.HandleFunc("POST /v1/quit", s.handleQuit)
	s.mux.HandleFunc("POST /v1/quitauth/verify", s.handleQuitAuthVerify)
	s.mux.HandleFunc("POST /v1/quitauth/cancel", s.handleQuitAuthCancel)

	s.mux.HandleFunc("GET /v1/events", s.handleEvents)

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /stats", s.handleStats)
}

// Handler returns the fully wired handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	snapshot := s.cfg.Snapshot()

	middlewares := []func(http.Handler) http.Handler{
		RecoveryMiddleware(),
		LoopbackOnlyMiddleware(),
		SecurityHeadersMiddleware(),
		BodyLimitMiddleware(),
		LoggingMiddleware(log.Default()),
	}
	if n := snapshot.Server.RateLimitPerMinute; n > 0 {
		middlewares = append(middlewares, RateLimitMiddleware(
			NewRateLimiter(n),
			"/v1/unlock",
			"/v1/auth/verify",
			"/v1/quitauth/verify",
			"/v1/records/clear",
		))
	}
	return Chain(middlewares...)(s.mux)
}

// ============================================================================
// UNLOCK / STATE
// ============================================================================

type unlockRequest struct {
	Password string `json:"password"`
	// Photo is a base64-encoded snapshot captured by the UI at submit
	// time. Stored only when the attempt fails.
	Photo string `json:"photo,omitempty"`
}

type unlockResponse struct {
	Success bool   `json:"success"`
	Method  string `json:"method,omitempty"`
}

// handleUnlock handles POST /v1/unlock.
func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.stats.TotalRequests, 1)
	atomic.AddInt64(&s.stats.UnlockAttempts, 1)

	var req unlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var photo []byte
	if req.Photo != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.Photo)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "photo must be base64 encoded")
			return
		}
		photo = decoded
	}

	res, err := s.ctrl.Unlock(r.Context(), req.Password, photo)
	if err != nil {
		atomic.AddInt64(&s.stats.UnlockFailures, 1)
		if errors.Is(err, auth.ErrVerifyUnavailable) {
			s.writeError(w, http.StatusConflict, "credential not configured for the active method")
			return
		}
		log.Printf("UNLOCK_ERROR | %v", err)
		s.writeError(w, http.StatusInternalServerError, "unlock failed")
		return
	}
	if !res.Success {
		atomic.AddInt64(&s.stats.UnlockFailures, 1)
	}

	s.writeJSON(w, http.StatusOK, unlockResponse{
		Success: res.Success,
		Method:  string(res.Method),
	})
}

type stateResponse struct {
	Locked        bool `json:"locked"`
	AttemptCount  int  `json:"attempt_count"`
	SettingsDirty bool `json:"settings_dirty"`
}

// handleState handles GET /v1/state.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.stats.TotalRequests, 1)

	s.writeJSON(w, http.StatusOK, stateResponse{
		Locked:        s.ctrl.State() == lock.StateLocked,
		AttemptCount:  s.ctrl.AttemptCount(),
		SettingsDirty: s.ctrl.SettingsDirty(),
	})
}

// ============================================================================
// CREDENTIAL ENDPOINTS
// ============================================================================

type verifyRequest struct {
	Password string `json:"password"`
}

// handleAuthVerify handles POST /v1/auth/verify. Unlike /v1/unlock this
// checks a credential without touching lock state or the ledger; the UI
// uses it for settings access.
func (s *Server) handleAuthVerify(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.stats.TotalRequests, 1)

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.verifier.Verify(req.Password, s.cfg.PasswordConfig(), time.Now())
	if err != nil {
		if errors.Is(err, auth.ErrVerifyUnavailable) {
			s.writeError(w, http.StatusConflict, "credential not configured for the active method")
			return
		}
		log.Printf("VERIFY_ERROR | %v", err)
		s.writeError(w, http.StatusInternalServerError, "verification failed")
		return
	}

	s.writeJSON(w, http.StatusOK, unlockResponse{
		Success: res.Success,
		Method:  string(res.Method),
	})
}

type totpSetupRequest struct {
	DeviceName string `json:"device_name"`
}

type totpSetupResponse struct {
	Secret     string `json:"secret"`
	OtpauthURL string `json:"otpauth_url"`
	DeviceName string `json:"device_name"`
}

// handleTOTPSetup handles POST /v1/auth/totp/setup. Generates a fresh
// secret and persists it; the response carries the otpauth URL exactly
// once for enrollment.
func (s *Server) handleTOTPSetup(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.stats.TotalRequests, 1)

	var req totpSetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DeviceName == "" {
		req.DeviceName = "lockit"
	}

	provisioned, err := auth.GenerateSecret(req.DeviceName)
	if err != nil {
		log.Printf("TOTP_SETUP_ERROR | %v", err)
		s.writeError(w, http.StatusInternalServerError, "secret generation failed")
		return
	}

	err = s.cfg.Update(func(c *config.Config) error {
		c.Password.TOTPSecret = provisioned.Secret
		if c.Password.Type == auth.TypeFixed {
			c.Password.Type = auth.TypeBoth
		}
		return nil
	})
	if err != nil {
		log.Printf("TOTP_SETUP_ERROR | %v", err)
		s.writeError(w, http.StatusInternalServerError, "failed to persist secret")
		return
	}

	s.writeJSON(w, http.StatusOK, totpSetupResponse{
		Secret:     provisioned.Secret,
		OtpauthURL: provisioned.URL,
		DeviceName: provisioned.DeviceName,
	})
}

// ============================================================================
// RECORD ENDPOINTS
// ============================================================================

type recordsResponse struct {
	Records []ledger.Record `json:"records"`
	Count   int             `json:"count"`
}

// handleRecordsList handles GET /v1/records.
func (s *Server) handleRecordsList(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.stats.TotalRequests, 1)

	records, err := s.records.List(r.Context())
	if err != nil {
		log.Printf("RECORDS_LIST_ERROR | %v", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	if records == nil {
		records = []ledger.Record{}
	}

	s.writeJSON(w, http.StatusOK, recordsResponse{
		Records: records,
		Count:   len(records),
	})
}

// handleRecordDelete handles DELETE /v1/records/{id}.
func (s *Server) handleRecordDelete(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.stats.TotalRequests, 1)

	id := r.PathValue("id")
	if err := s.records.Delete(r.Context(), id); err != nil {
		if errors.Is(err, ledger.ErrRecordNotFound) {
			s.writeError(w, http.StatusNotFound, "record not found")
			return
		}
		log.Printf("RECORD_DELETE_ERROR | %v", err)
		s.writeError(w, http.StatusInternalServerError, "failed to delete record")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleRecordsClear handles POST /v1/records/clear. Destroying the whole
// attempt history requires the fixed password; a TOTP code is not
// accepted here.
func (s *Server) handleRecordsClear(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.stats.TotalRequests, 1)

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.records.ClearAll(r.Context(), req.Password); err != nil {
		switch {
		case errors.Is(err, ledger.ErrClearDenied):
			s.writeError(w, http.StatusUnauthorized, "password verification failed")
		case errors.Is(err, auth.ErrVerifyUnavailable):
			s.writeError(w, http.StatusConflict, "no fixed password configured")
		default:
			log.Printf("RECORDS_CLEAR_ERROR | %v", err)
			s.writeError(w, http.StatusInternalServerError, "failed to clear records")
		}
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ============================================================================
// SETTINGS / QUIT ENDPOINTS
// ============================================================================

type dirtyRequest struct {
	Dirty bool `json:"dirty"`
}

// handleSettingsDirty handles POST /v1/settings/dirty.
func (s *Server) handleSettingsDirty(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.stats.TotalRequests, 1)

	var req dirtyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.ctrl.SetSettingsDirty(req.Dirty)
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type decisionResponse struct {
	Proceed   bool   `json:"proceed"`
	RequestID string `json:"request_id,omitempty"`
}

// handleSettingsClose handles POST /v1/settings/close. Blocks until the
// close attempt resolves: immediately when there are no unsaved changes,
// otherwise when the re-auth request is verified, cancelled, or
// superseded.
func (s *Server) handleSettingsClose(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.stats.TotalRequests, 1)
	reqID, ch := s.ctrl.RequestSettingsClose()
	s.awaitDecision(w, r, reqID, ch)
}

// handleQuit handles POST /v1/quit with the same blocking shape.
func (s *Server) handleQuit(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.stats.TotalRequests, 1)
	reqID, ch := s.ctrl.RequestQuit(time.Now())
	s.awaitDecision(w, r, reqID, ch)
}

// awaitDecision blocks on the decision channel for the request identified by
// reqID. An empty reqID means the action resolved without re-authentication.
func (s *Server) awaitDecision(w http.ResponseWriter, r *http.Request, reqID string, ch <-chan quitauth.Decision) {
	select {
	case d := <-ch:
		s.writeJSON(w, http.StatusOK, decisionResponse{
			Proceed:   d == quitauth.DecisionProceed,
			RequestID: reqID,
		})
	case <-r.Context().Done():
		// Client gave up; treat the pending request as cancelled so it
		// does not linger as an unlockable prompt.
		if reqID != "" {
			s.coord.Cancel(reqID)
		}
	}
}

type quitAuthVerifyRequest struct {
	RequestID string `json:"request_id"`
	Password  string `json:"password"`
}

// handleQuitAuthVerify handles POST /v1/quitauth/verify.
func (s *Server) handleQuitAuthVerify(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.stats.TotalRequests, 1)

	var req quitAuthVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.coord.Verify(req.RequestID, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, quitauth.ErrStaleRequest):
			s.writeError(w, http.StatusNotFound, "no pending request with that id")
		case errors.Is(err, auth.ErrVerifyUnavailable):
			s.writeError(w, http.StatusConflict, "credential not configured for the active method")
		default:
			log.Printf("QUITAUTH_VERIFY_ERROR | %v", err)
			s.writeError(w, http.StatusInternalServerError, "verification failed")
		}
		return
	}

	if !res.Success {
		s.writeError(w, http.StatusUnauthorized, "password verification failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type quitAuthCancelRequest struct {
	RequestID string `json:"request_id"`
}

// handleQuitAuthCancel handles POST /v1/quitauth/cancel. Cancelling a
// request that already resolved is a no-op success.
func (s *Server) handleQuitAuthCancel(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.stats.TotalRequests, 1)

	var req quitAuthCancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.coord.Cancel(req.RequestID)
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ============================================================================
// EVENTS (LONG-POLL)
// ============================================================================

// Event is a single entry in the long-poll event stream.
type Event struct {
	Type string `json:"type"`

	// Lock-state fields (type "lock_state").
	Locked bool      `json:"locked,omitempty"`
	At     time.Time `json:"at,omitempty"`

	// Quit-auth fields (type "quitauth_request").
	RequestID string `json:"request_id,omitempty"`
	Action    string `json:"action,omitempty"`
}

type eventsResponse struct {
	Events []Event `json:"events"`
}

// handleEvents handles GET /v1/events. Blocks until an event arrives or
// the timeout elapses, then returns whatever accumulated. An empty list
// means the poll timed out; the client re-polls.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.stats.TotalRequests, 1)

	timeout := DefaultEventTimeout
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs < 1 {
			s.writeError(w, http.StatusBadRequest, "timeout must be a positive integer (seconds)")
			return
		}
		timeout = time.Duration(secs) * time.Second
		if timeout > MaxEventTimeout {
			timeout = MaxEventTimeout
		}
	}

	stateCh := s.ctrl.SubscribeState()
	defer s.ctrl.UnsubscribeState(stateCh)
	reqCh := s.coord.Subscribe()
	defer s.coord.Unsubscribe(reqCh)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var events []Event
	// Block for the first event, then drain whatever else is ready.
	select {
	case ev := <-stateCh:
		events = append(events, Event{Type: "lock_state", Locked: ev.Locked, At: ev.At})
	case req := <-reqCh:
		events = append(events, Event{Type: "quitauth_request", RequestID: req.ID, Action: string(req.Action)})
	case <-timer.C:
	case <-r.Context().Done():
		return
	}

	for {
		select {
		case ev := <-stateCh:
			events = append(events, Event{Type: "lock_state", Locked: ev.Locked, At: ev.At})
			continue
		case req := <-reqCh:
			events = append(events, Event{Type: "quitauth_request", RequestID: req.ID, Action: string(req.Action)})
			continue
		default:
		}
		break
	}

	if events == nil {
		events = []Event{}
	}
	s.writeJSON(w, http.StatusOK, eventsResponse{Events: events})
}

// ============================================================================
// HEALTH / STATS
// ============================================================================

type healthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Locked      bool   `json:"locked"`
	RecordCount int    `json:"record_count"`
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := healthResponse{
		Status:  "ok",
		Version: Version,
		Locked:  s.ctrl.State() == lock.StateLocked,
	}

	count, err := s.records.Count(r.Context())
	if err != nil {
		health.Status = "degraded"
	} else {
		health.RecordCount = count
	}

	s.writeJSON(w, http.StatusOK, health)
}

type statsResponse struct {
	TotalRequests  int64 `json:"total_requests"`
	UnlockAttempts int64 `json:"unlock_attempts"`
	UnlockFailures int64 `json:"unlock_failures"`
	UptimeSeconds  int64 `json:"uptime_seconds"`
}

// handleStats handles GET /stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, statsResponse{
		TotalRequests:  atomic.LoadInt64(&s.stats.TotalRequests),
		UnlockAttempts: atomic.LoadInt64(&s.stats.UnlockAttempts),
		UnlockFailures: atomic.LoadInt64(&s.stats.UnlockFailures),
		UptimeSeconds:  int64(s.stats.Uptime().Seconds()),
	})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	snapshot := s.cfg.Snapshot()
	addr := fmt.Sprintf("%s:%d", snapshot.Server.BindAddr, snapshot.Server.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		// Long-poll responses can sit open for MaxEventTimeout.
		WriteTimeout: MaxEventTimeout + 30*time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	log.Printf("SERVER_START | addr=%s version=%s", addr, Version)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	log.Printf("SERVER_SHUTDOWN | starting graceful shutdown")
	return s.server.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"code":    status,
		},
	})
}
