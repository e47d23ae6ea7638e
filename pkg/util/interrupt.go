package util

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/small-frappuccino/kokobot/pkg/log"
)

// WaitForInterrupt blocks until SIGINT or SIGTERM arrives or ctx is done,
// then runs callback if non-nil.
func WaitForInterrupt(ctx context.Context, callback func()) {
	waitForInterruptContext(ctx, callback)
}

func waitForInterruptContext(parent context.Context, callback func()) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	log.ApplicationLogger().Info("Shutdown requested; running shutdown callback")

	if callback != nil {
		callback()
	}
}
