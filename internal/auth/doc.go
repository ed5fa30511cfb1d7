// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth implements credential verification for the focus lock.
//
// Exactly two credential kinds exist: a single shared fixed password and a
// single TOTP secret, both owned by the device owner. Verification returns
// explicit outcome values for expected end-user conditions (wrong password,
// wrong code); only configuration problems (missing or malformed secret)
// surface as errors.
//
// # Key Types
//
//   - Verifier: stateless credential checker
//   - PasswordConfig: the owner's configured credentials
//   - Result: success flag plus the method that matched
//
// # TOTP
//
// Codes follow RFC 6238: 30-second step, 6 digits, SHA-1, with one step of
// skew accepted on either side. GenerateSecret produces a 160-bit base32
// secret and an otpauth:// provisioning URI for authenticator apps.
//
// # Fixed password storage
//
// HashPassword derives a pbkdf2-sha256 storage form; the verifier also
// accepts plaintext for configs migrated from older installs. Both paths
// compare in constant time.
package auth
