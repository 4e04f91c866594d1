// Command normalize is the entry point for the normalize stage: it builds
// the cobra command tree in internal/cli and runs it, with build-time
// version injection and top-level panic recovery (teacher's cmd/queue
// convention).
package main

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/beaver-normalize/internal/cli"
)

// Build-time version injection via ldflags, e.g.
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fatal error: %v\n", r)
			os.Exit(1)
		}
	}()

	rootCmd := cli.BuildCLI(fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date))
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
