// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the lock engine over a loopback-only HTTP API.
//
// Endpoints:
//   - POST /v1/unlock          - Submit an unlock attempt (optional photo)
//   - GET  /v1/state           - Lock state, attempt count, dirty flag
//   - POST /v1/auth/verify     - Check a credential without side effects
//   - POST /v1/auth/totp/setup - Generate and persist a TOTP secret
//   - GET  /v1/records         - List unlock attempt records
//   - DELETE /v1/records/{id}  - Delete a single record
//   - POST /v1/records/clear   - Clear all records (fixed password gated)
//   - POST /v1/settings/dirty  - Mark the settings view dirty/clean
//   - POST /v1/settings/close  - Blocking settings-close attempt
//   - POST /v1/quit            - Blocking app-quit attempt
//   - POST /v1/quitauth/verify - Resolve a pending re-auth request
//   - POST /v1/quitauth/cancel - Cancel a pending re-auth request
//   - GET  /v1/events          - Long-poll for state and re-auth events
//   - GET  /health, GET /stats
//
// Every request passes the loopback guard: the API is a process boundary
// between the engine and its UI, not a network service. Credential-bearing
// endpoints additionally sit behind a per-client rate limiter.
//
// The events endpoint subscribes at poll start, so lock-state transitions
// fired between polls are not replayed; clients needing the full history
// read the records and audit endpoints instead. A still-pending re-auth
// request is the exception: it is replayed into every new poll until it
// resolves, since the UI cannot answer a prompt it never saw.
package server
