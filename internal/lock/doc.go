// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package lock orchestrates the focus-lock engine.
//
// The Controller owns the lock state machine. A periodic tick feeds the
// schedule evaluator; when the schedule demands the lock, the state flips
// to locked and a new lock episode begins. Unlock attempts flow through
// the credential verifier, every outcome lands in the attempt ledger, and
// privileged actions (settings close with unsaved changes, app quit during
// a lock window) suspend on the quit-auth coordinator.
//
// # Engine wiring
//
//	verifier := auth.NewVerifier()
//	coord := quitauth.New(verifyFn)
//	ctrl := lock.New(cfgStore, verifier, ledgerStore, coord,
//		lock.WithPhotoStore(photos),
//		lock.WithAuditLogger(trail))
//	go ctrl.Run(ctx, time.Second)
//
// The controller is the single writer for engine state; external processes
// (UI, camera, config editor) talk to it through the HTTP boundary in
// internal/server.
package lock
