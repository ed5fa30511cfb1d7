// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the lockit command line interface.
//
// The serve command wires and runs the full engine; setup, status, and
// records are thin operator tools. All output goes through the shared
// lipgloss styles in styles.go, which degrade to plain text for non-TTY
// output.
package cli
