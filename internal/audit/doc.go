// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package audit provides the append-only audit trail of lock engine events.
//
// Every unlock attempt, lock transition, record deletion, and quit-auth
// exchange is written as one JSON line to ~/.lockit/audit.log. Secret
// material (passwords, password hashes, TOTP secrets, otpauth URLs) is
// redacted before reaching disk. Files rotate by size with a timestamp
// suffix.
//
// A nil *Logger drops all events, so components can carry the audit trail
// as an optional dependency without nil checks at every call site.
package audit
