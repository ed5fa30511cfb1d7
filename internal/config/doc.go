// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for
// lockit.
//
// Supports both TOML (preferred) and JSON (legacy) formats with sensible
// defaults and validation. Files live under ~/.lockit/ and are written
// atomically with 0600 permissions since they carry the password hash and
// TOTP secret.
//
// The Store type serves live snapshots to the engine and satisfies the
// lock controller's ConfigProvider port. Watch reloads external edits via
// fsnotify with debouncing; invalid edits never displace a good config.
package config
