// Command taskpipe runs external tools as cancellable tasks with live
// progress reporting.
package main

import "github.com/anstrom/taskpipe/cmd/cli"

// Build information, set by ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
