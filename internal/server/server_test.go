// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YanDao0313/lockit/internal/auth"
	"github.com/YanDao0313/lockit/internal/config"
	"github.com/YanDao0313/lockit/internal/ledger"
	"github.com/YanDao0313/lockit/internal/lock"
	"github.com/YanDao0313/lockit/internal/quitauth"
	"github.com/YanDao0313/lockit/internal/schedule"
)

// testEngine bundles a fully wired engine over temp storage.
type testEngine struct {
	srv     *Server
	cfg     *config.Store
	ctrl    *lock.Controller
	coord   *quitauth.Coordinator
	records *ledger.Store
	handler http.Handler
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Password.FixedPassword = "pw"
	cfg.Schedule.SetDay(time.Monday, schedule.DaySchedule{
		Enabled: true,
		Slots:   []schedule.TimeSlot{{Start: 0, End: schedule.MaxSlotMinute}},
	})
	store := config.NewStore(cfg, filepath.Join(dir, "config.toml"))

	verifier := auth.NewVerifier()
	records, err := ledger.Open(filepath.Join(dir, "records.db"), credentialCheck{verifier, store})
	require.NoError(t, err)
	t.Cleanup(func() { records.Close() })

	coord := quitauth.New(func(p string) (auth.Result, error) {
		return verifier.Verify(p, store.PasswordConfig(), time.Now())
	})
	ctrl := lock.New(store, verifier, records, coord)

	srv := New(store, ctrl, records, coord, verifier)
	return &testEngine{
		srv:     srv,
		cfg:     store,
		ctrl:    ctrl,
		coord:   coord,
		records: records,
		handler: srv.Handler(),
	}
}

type credentialCheck struct {
	verifier *auth.Verifier
	cfg      *config.Store
}

func (c credentialCheck) VerifyFixed(password string) (bool, error) {
	return c.verifier.VerifyFixed(password, c.cfg.PasswordConfig())
}

// monday noon, inside the test schedule's Monday slot.
var lockedAt = time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC)

func (e *testEngine) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "127.0.0.1:54321"

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestLoopbackGuard(t *testing.T) {
	e := newTestEngine(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "192.168.1.50:44444"
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHealth(t *testing.T) {
	e := newTestEngine(t)

	rec := e.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]interface{}](t, rec)
	assert.Equal(t, "ok", body["status"])
}

func TestUnlock(t *testing.T) {
	e := newTestEngine(t)
	e.ctrl.Tick(lockedAt)
	require.Equal(t, lock.StateLocked, e.ctrl.State())

	rec := e.do(t, http.MethodPost, "/v1/unlock", unlockRequest{Password: "wrong"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[unlockResponse](t, rec).Success)
	assert.Equal(t, lock.StateLocked, e.ctrl.State())

	rec = e.do(t, http.MethodPost, "/v1/unlock", unlockRequest{Password: "pw"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[unlockResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "fixed", resp.Method)
	assert.Equal(t, lock.StateUnlocked, e.ctrl.State())
}

func TestUnlock_MissingCredentialIsConflict(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.cfg.Update(func(c *config.Config) error {
		c.Password.FixedPassword = ""
		return nil
	}))

	rec := e.do(t, http.MethodPost, "/v1/unlock", unlockRequest{Password: "anything"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUnlock_BadPhotoEncoding(t *testing.T) {
	e := newTestEngine(t)

	rec := e.do(t, http.MethodPost, "/v1/unlock", unlockRequest{Password: "pw", Photo: "not base64!!"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestState(t *testing.T) {
	e := newTestEngine(t)
	e.ctrl.Tick(lockedAt)
	e.ctrl.SetSettingsDirty(true)

	rec := e.do(t, http.MethodGet, "/v1/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	state := decode[stateResponse](t, rec)
	assert.True(t, state.Locked)
	assert.True(t, state.SettingsDirty)
	assert.Equal(t, 0, state.AttemptCount)
}

func TestAuthVerify_NoSideEffects(t *testing.T) {
	e := newTestEngine(t)
	e.ctrl.Tick(lockedAt)

	rec := e.do(t, http.MethodPost, "/v1/auth/verify", verifyRequest{Password: "pw"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[unlockResponse](t, rec).Success)

	// Verification must not unlock or count as an attempt.
	assert.Equal(t, lock.StateLocked, e.ctrl.State())
	assert.Equal(t, 0, e.ctrl.AttemptCount())
}

func TestTOTPSetup(t *testing.T) {
	e := newTestEngine(t)

	rec := e.do(t, http.MethodPost, "/v1/auth/totp/setup", totpSetupRequest{DeviceName: "laptop"})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[totpSetupResponse](t, rec)
	assert.Len(t, resp.Secret, 32)
	assert.Contains(t, resp.OtpauthURL, "otpauth://totp/")
	assert.Equal(t, "laptop", resp.DeviceName)

	// Secret persisted and method widened to accept both.
	pc := e.cfg.PasswordConfig()
	assert.Equal(t, resp.Secret, pc.TOTPSecret)
	assert.Equal(t, auth.TypeBoth, pc.Type)
}

func TestRecords(t *testing.T) {
	e := newTestEngine(t)
	e.ctrl.Tick(lockedAt)

	// Two failed attempts create two records.
	e.do(t, http.MethodPost, "/v1/unlock", unlockRequest{Password: "a"})
	e.do(t, http.MethodPost, "/v1/unlock", unlockRequest{Password: "b"})

	rec := e.do(t, http.MethodGet, "/v1/records", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[recordsResponse](t, rec)
	require.Equal(t, 2, list.Count)
	// Most recent first.
	assert.Equal(t, 2, list.Records[0].AttemptCount)

	// Delete one.
	rec = e.do(t, http.MethodDelete, "/v1/records/"+list.Records[0].ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodDelete, "/v1/records/"+list.Records[0].ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordsClear(t *testing.T) {
	e := newTestEngine(t)
	e.ctrl.Tick(lockedAt)
	e.do(t, http.MethodPost, "/v1/unlock", unlockRequest{Password: "nope"})

	// Wrong password is denied.
	rec := e.do(t, http.MethodPost, "/v1/records/clear", verifyRequest{Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodPost, "/v1/records/clear", verifyRequest{Password: "pw"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/v1/records", nil)
	assert.Equal(t, 0, decode[recordsResponse](t, rec).Count)
}

func TestSettingsClose_CleanProceeds(t *testing.T) {
	e := newTestEngine(t)

	rec := e.do(t, http.MethodPost, "/v1/settings/close", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[decisionResponse](t, rec).Proceed)
}

func TestSettingsClose_DirtyBlocksUntilVerified(t *testing.T) {
	e := newTestEngine(t)
	e.do(t, http.MethodPost, "/v1/settings/dirty", dirtyRequest{Dirty: true})

	type result struct {
		code int
		resp decisionResponse
	}
	done := make(chan result, 1)
	go func() {
		rec := e.do(t, http.MethodPost, "/v1/settings/close", nil)
		done <- result{rec.Code, decode[decisionResponse](t, rec)}
	}()

	// Wait for the pending request to appear, then verify it.
	var reqID string
	require.Eventually(t, func() bool {
		id, ok := e.coord.PendingID()
		reqID = id
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	rec := e.do(t, http.MethodPost, "/v1/quitauth/verify", quitAuthVerifyRequest{
		RequestID: reqID,
		Password:  "pw",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case res := <-done:
		assert.Equal(t, http.StatusOK, res.code)
		assert.True(t, res.resp.Proceed)
		assert.Equal(t, reqID, res.resp.RequestID)
	case <-time.After(2 * time.Second):
		t.Fatal("close request did not resolve after verification")
	}
}

func TestSettingsClose_CleanLeavesUnrelatedRequestPending(t *testing.T) {
	e := newTestEngine(t)

	// An app-quit re-auth is already in flight.
	quitID, quitCh := e.coord.Begin(quitauth.ActionAppQuit)

	rec := e.do(t, http.MethodPost, "/v1/settings/close", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[decisionResponse](t, rec)
	assert.True(t, resp.Proceed)
	assert.Empty(t, resp.RequestID, "a clean close has no re-auth request")

	// The quit request is untouched: still pending, not cancelled.
	id, pending := e.coord.PendingID()
	assert.True(t, pending)
	assert.Equal(t, quitID, id)
	select {
	case d := <-quitCh:
		t.Fatalf("unexpected decision %v on unrelated request", d)
	default:
	}
}

func TestQuitAuthVerify_WrongPasswordKeepsPending(t *testing.T) {
	e := newTestEngine(t)
	reqID, _ := e.coord.Begin(quitauth.ActionAppQuit)

	rec := e.do(t, http.MethodPost, "/v1/quitauth/verify", quitAuthVerifyRequest{
		RequestID: reqID,
		Password:  "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	_, pending := e.coord.PendingID()
	assert.True(t, pending, "failed verification keeps the request pending")
}

func TestQuitAuthVerify_StaleRequest(t *testing.T) {
	e := newTestEngine(t)

	rec := e.do(t, http.MethodPost, "/v1/quitauth/verify", quitAuthVerifyRequest{
		RequestID: "no-such-request",
		Password:  "pw",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQuitAuthCancel_Idempotent(t *testing.T) {
	e := newTestEngine(t)
	reqID, ch := e.coord.Begin(quitauth.ActionAppQuit)

	rec := e.do(t, http.MethodPost, "/v1/quitauth/cancel", quitAuthCancelRequest{RequestID: reqID})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, quitauth.DecisionCancel, <-ch)

	// Cancelling again is still ok.
	rec = e.do(t, http.MethodPost, "/v1/quitauth/cancel", quitAuthCancelRequest{RequestID: reqID})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEvents_DeliversLockTransition(t *testing.T) {
	e := newTestEngine(t)

	done := make(chan eventsResponse, 1)
	go func() {
		rec := e.do(t, http.MethodGet, "/v1/events?timeout=5", nil)
		done <- decode[eventsResponse](t, rec)
	}()

	// Let the poll subscribe before firing the transition.
	time.Sleep(100 * time.Millisecond)
	e.ctrl.Tick(lockedAt)

	select {
	case resp := <-done:
		require.NotEmpty(t, resp.Events)
		assert.Equal(t, "lock_state", resp.Events[0].Type)
		assert.True(t, resp.Events[0].Locked)
	case <-time.After(5 * time.Second):
		t.Fatal("long poll did not deliver the lock event")
	}
}

func TestEvents_ReplaysPendingRequestToLatePoll(t *testing.T) {
	e := newTestEngine(t)

	// The request begins with no poll in flight.
	reqID, _ := e.coord.Begin(quitauth.ActionSettingsClose)

	// A poll arriving afterwards still sees the pending prompt.
	rec := e.do(t, http.MethodGet, "/v1/events?timeout=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[eventsResponse](t, rec)
	require.NotEmpty(t, resp.Events)
	assert.Equal(t, "quitauth_request", resp.Events[0].Type)
	assert.Equal(t, reqID, resp.Events[0].RequestID)
	assert.Equal(t, string(quitauth.ActionSettingsClose), resp.Events[0].Action)
}

func TestEvents_BadTimeout(t *testing.T) {
	e := newTestEngine(t)

	rec := e.do(t, http.MethodGet, "/v1/events?timeout=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimit(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.cfg.Update(func(c *config.Config) error {
		c.Server.RateLimitPerMinute = 3
		return nil
	}))
	// Rebuild the handler so the new limit applies.
	e.handler = e.srv.Handler()

	var limited bool
	for i := 0; i < 5; i++ {
		rec := e.do(t, http.MethodPost, "/v1/auth/verify", verifyRequest{Password: fmt.Sprintf("guess-%d", i)})
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited, "burst past the limit should be throttled")

	// Unlimited endpoints stay reachable.
	rec := e.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStats(t *testing.T) {
	e := newTestEngine(t)
	e.ctrl.Tick(lockedAt)
	e.do(t, http.MethodPost, "/v1/unlock", unlockRequest{Password: "wrong"})

	rec := e.do(t, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	stats := decode[statsResponse](t, rec)
	assert.Equal(t, int64(1), stats.UnlockAttempts)
	assert.Equal(t, int64(1), stats.UnlockFailures)
}
