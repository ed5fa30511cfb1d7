// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package quitauth coordinates re-authentication of privileged actions.
//
// A privileged action, such as closing the settings view with unsaved changes
// or quitting the app while the lock schedule is active, is suspended until a
// second authentication round completes or the request is cancelled. Each
// request carries a generated correlation id; verification calls naming a
// stale id are rejected rather than silently applied to a newer request.
//
// State machine per request:
//
//	Idle -> Pending(id) -> Resolved | Cancelled | Superseded
//
// Only one request is pending per Coordinator. Beginning a new request
// supersedes the old one, whose waiter resolves to cancel.
package quitauth
