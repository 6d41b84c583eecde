// Package main is the entry point for the sysmst binary.
package main

import (
	"os"

	"github.com/roach88/sysmst/internal/cli"
)

// Build-time variables set via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.SetVersionInfo(version, commit, date)
	if err := cli.Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
