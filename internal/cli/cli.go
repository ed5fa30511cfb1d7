// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"
)

// Version information (set at build time).
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command identifies a top-level CLI command.
type Command int

const (
	// CmdServe runs the lock engine and its HTTP boundary.
	CmdServe Command = iota
	// CmdSetup runs the credential setup wizard.
	CmdSetup
	// CmdStatus queries a running engine.
	CmdStatus
	// CmdRecords manages the unlock attempt ledger.
	CmdRecords
	// CmdVersion prints version information.
	CmdVersion
	// CmdHelp prints usage.
	CmdHelp
)

// Parse splits os.Args into a command and its remaining arguments. An
// unknown command falls through to help.
func Parse() (Command, []string) {
	if len(os.Args) < 2 {
		return CmdServe, nil
	}

	args := os.Args[2:]
	switch os.Args[1] {
	case "serve", "run":
		return CmdServe, args
	case "setup", "init":
		return CmdSetup, args
	case "status":
		return CmdStatus, args
	case "records", "ledger":
		return CmdRecords, args
	case "version", "--version", "-v":
		return CmdVersion, args
	case "help", "--help", "-h":
		return CmdHelp, args
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		return CmdHelp, nil
	}
}

// HandleVersion prints version information.
func HandleVersion() {
	fmt.Printf("lockit %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
}

// HandleHelp prints usage.
func HandleHelp() {
	fmt.Print(TitleStyle.Render("lockit - scheduled focus lock engine") + "\n")
	fmt.Println(ValueStyle.Render(`
Usage: lockit <command> [flags]

Commands:
  serve            Run the lock engine (default)
  setup            Configure the unlock password and TOTP
  status           Show the state of a running engine
  records          List, delete, or clear unlock attempt records
  version          Print version information
  help             Show this help
`))
	fmt.Println(DimStyle.Render("Configuration lives in ~/.lockit/config.toml"))
}
