// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ledger provides the append-only store of unlock attempts.
//
// Records land in a SQLite database (~/.lockit/ledger.db by default) in
// insertion order and are listed most-recent-first. Individual records can
// be deleted; clearing the whole ledger is a destructive operation gated
// behind re-verification of the owner's fixed password; a TOTP code is not
// accepted for bulk clearing.
//
// # Usage
//
//	store, err := ledger.Open(path, check)
//	err = store.Append(ctx, &ledger.Record{Success: false, AttemptCount: 1})
//	records, err := store.List(ctx)
//	err = store.ClearAll(ctx, ownerPassword)
package ledger
