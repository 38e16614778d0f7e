package main

// ---------------------------------------------------------------------------
// main.go — command dispatcher for the sentra CLI
//
// This file is intentionally slim. Command implementations live in their own
// files (cmd_*.go).
// ---------------------------------------------------------------------------

import (
	"fmt"
	"io"
	"os"
)

var (
	version   = "0.3.0"
	commit    = "dev"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(0)
	}

	subcmd := os.Args[1]
	args := os.Args[2:]

	switch subcmd {
	case "up":
		cmdUp(args)
	case "config":
		cmdConfig(args)
	case "version", "--version", "-V":
		printVersion(os.Stdout)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", subcmd)
		printUsage(os.Stderr)
		os.Exit(1)
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "sentra %s (commit %s, built %s)\n", version, commit, buildDate)
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `sentra — audit event pipeline and security threat detector

Usage:
  sentra <command> [flags]

Commands:
  up        Start the audit pipeline and API server
  config    Print the effective configuration
  version   Print version information
  help      Show this help

Flags for up/config:
  -c <path>   Path to a yaml config file (optional; defaults apply)
`)
}
