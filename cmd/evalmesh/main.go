// Command evalmesh evaluates a model on JSON Lines datasets of
// {"id", "prompt", "reference"} examples, one data source per file.
//
//	evalmesh run --config eval.yaml --data dev.jsonl --data hard.jsonl
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
