// Package async runs best-effort background work with panic recovery.
package async

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/AhHanie/axion-demo/pkg/observability"
)

// SafeGo runs fn in a goroutine with a timeout, panic recovery, and error
// logging. Consistency notifications ride on this: the HTTP response never
// waits for the peer, and a failed or panicking notification is logged
// rather than propagated.
func SafeGo(parent context.Context, timeout time.Duration, task string, logger *observability.Logger, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(parent, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(map[string]interface{}{
					"task":  task,
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("background task panicked")
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithFields(map[string]interface{}{
				"task":  task,
				"error": err.Error(),
			}).Error("background task failed")
		}
	}()
}
