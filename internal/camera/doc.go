// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package camera persists intruder photos captured on failed unlock attempts.
//
// Capture itself happens in the presentation layer; this package only turns
// opaque photo blobs into filesystem references under ~/.lockit/photos/ for
// the unlock-attempt ledger. PhotoStore is the port the lock controller
// depends on, letting tests substitute an in-memory fake.
package camera
