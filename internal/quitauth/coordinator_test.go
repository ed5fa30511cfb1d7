// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package quitauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YanDao0313/lockit/internal/auth"
)

func passwordVerify(correct string) VerifyFunc {
	return func(password string) (auth.Result, error) {
		if password == correct {
			return auth.Result{Success: true, Method: auth.MethodFixed}, nil
		}
		return auth.Result{}, nil
	}
}

func decisionOf(t *testing.T, ch <-chan Decision) Decision {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(time.Second):
		t.Fatal("no decision delivered")
		return DecisionCancel
	}
}

func assertNoDecision(t *testing.T, ch <-chan Decision) {
	t.Helper()
	select {
	case d := <-ch:
		t.Fatalf("unexpected decision %v", d)
	default:
	}
}

func TestVerify_ResolvesProceed(t *testing.T) {
	c := New(passwordVerify("pw"))

	id, ch := c.Begin(ActionSettingsClose)
	require.NotEmpty(t, id)

	res, err := c.Verify(id, "pw")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, DecisionProceed, decisionOf(t, ch))

	_, pending := c.PendingID()
	assert.False(t, pending)
}

func TestVerify_FailureKeepsRequestPending(t *testing.T) {
	c := New(passwordVerify("pw"))

	id, ch := c.Begin(ActionAppQuit)

	res, err := c.Verify(id, "wrong")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assertNoDecision(t, ch)

	// Re-prompt succeeds against the same request.
	res, err = c.Verify(id, "pw")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, DecisionProceed, decisionOf(t, ch))
}

func TestVerify_StaleRequestRejected(t *testing.T) {
	c := New(passwordVerify("pw"))

	id, ch := c.Begin(ActionSettingsClose)

	_, err := c.Verify("bogus-id", "pw")
	assert.ErrorIs(t, err, ErrStaleRequest)
	assertNoDecision(t, ch)

	// The real request is still resolvable.
	_, err = c.Verify(id, "pw")
	require.NoError(t, err)
	assert.Equal(t, DecisionProceed, decisionOf(t, ch))

	// And once resolved, its id is stale too.
	_, err = c.Verify(id, "pw")
	assert.ErrorIs(t, err, ErrStaleRequest)
}

func TestVerify_PropagatesConfigurationError(t *testing.T) {
	c := New(func(string) (auth.Result, error) {
		return auth.Result{}, auth.ErrVerifyUnavailable
	})

	id, ch := c.Begin(ActionAppQuit)

	_, err := c.Verify(id, "anything")
	assert.ErrorIs(t, err, auth.ErrVerifyUnavailable)

	// A configuration error does not resolve the request.
	assertNoDecision(t, ch)
	_, pending := c.PendingID()
	assert.True(t, pending)
}

func TestBegin_SupersedesPendingRequest(t *testing.T) {
	c := New(passwordVerify("pw"))

	firstID, firstCh := c.Begin(ActionSettingsClose)
	secondID, secondCh := c.Begin(ActionSettingsClose)
	assert.NotEqual(t, firstID, secondID)

	// The superseded waiter resolves to cancel.
	assert.Equal(t, DecisionCancel, decisionOf(t, firstCh))

	// The old id is now stale; the new one works.
	_, err := c.Verify(firstID, "pw")
	assert.ErrorIs(t, err, ErrStaleRequest)

	_, err = c.Verify(secondID, "pw")
	require.NoError(t, err)
	assert.Equal(t, DecisionProceed, decisionOf(t, secondCh))
}

func TestCancel(t *testing.T) {
	c := New(passwordVerify("pw"))

	id, ch := c.Begin(ActionAppQuit)

	assert.True(t, c.Cancel(id))
	assert.Equal(t, DecisionCancel, decisionOf(t, ch))

	// Cancelling again is an idempotent no-op.
	assert.False(t, c.Cancel(id))
	assert.False(t, c.Cancel("never-existed"))
}

func TestCancel_AfterResolveIsNoop(t *testing.T) {
	c := New(passwordVerify("pw"))

	id, ch := c.Begin(ActionSettingsClose)
	_, err := c.Verify(id, "pw")
	require.NoError(t, err)
	assert.Equal(t, DecisionProceed, decisionOf(t, ch))

	assert.False(t, c.Cancel(id))
}

func TestSubscribe_ReceivesRequests(t *testing.T) {
	c := New(passwordVerify("pw"))
	sub := c.Subscribe()

	id, _ := c.Begin(ActionSettingsClose)

	select {
	case req := <-sub:
		assert.Equal(t, id, req.ID)
		assert.Equal(t, ActionSettingsClose, req.Action)
	case <-time.After(time.Second):
		t.Fatal("no notification delivered")
	}
}

func TestSubscribe_ReplaysPendingRequest(t *testing.T) {
	c := New(passwordVerify("pw"))
	id, _ := c.Begin(ActionSettingsClose)

	// A subscriber arriving after Begin still gets the pending prompt.
	sub := c.Subscribe()
	select {
	case req := <-sub:
		assert.Equal(t, id, req.ID)
		assert.Equal(t, ActionSettingsClose, req.Action)
	case <-time.After(time.Second):
		t.Fatal("pending request not replayed to late subscriber")
	}

	// Once the request resolves there is nothing left to replay.
	_, err := c.Verify(id, "pw")
	require.NoError(t, err)

	select {
	case req := <-c.Subscribe():
		t.Fatalf("unexpected replay of resolved request %s", req.ID)
	default:
	}
}

func TestSubscribe_SlowSubscriberDoesNotBlock(t *testing.T) {
	c := New(passwordVerify("pw"))
	_ = c.Subscribe() // Never drained.

	// More Begins than the subscriber buffer holds must not deadlock.
	for i := 0; i < 20; i++ {
		c.Begin(ActionAppQuit)
	}
}
