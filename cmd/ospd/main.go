// Command ospd runs the Open Scanner Protocol daemon and its client.
package main

import (
	"github.com/anstrom/ospd/cmd/cli"
)

// Set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
