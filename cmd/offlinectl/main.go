// Package main runs the offline gateway maintenance CLI.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/llakterian/Adonai-Farm-sub002/internal/cmd/offlinectl"
	"github.com/llakterian/Adonai-Farm-sub002/internal/platform/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := offlinectl.Execute(ctx, os.Args[1:]); err != nil {
		stop()
		config.Exitf("offlinectl: %v", err)
	}
}
