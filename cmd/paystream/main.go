// Command paystream watches a video and pays its creator per second of
// playback over an off-chain payment channel.
//
// Usage:
//
//	paystream watch [flags]
//	paystream convert to-base VALUE [--asset usdc]
//	paystream convert from-base VALUE [--asset usdc]
//
// Configuration is read from $HOME/.config/paystream/config.yml (or --config),
// overridden by PAYSTREAM_* environment variables, overridden by flags.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
)

// Build variables, set by ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCommand(version, commit).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "paystream: %v\n", err)
		stop()
		os.Exit(1)
	}
}
