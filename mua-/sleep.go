package mua

import (
	"context"
	"time"
)

// Sleep for d, but return as soon as ctx is done.
//
// Used when waiting before retrying to acquire a mailbox lock.
func Sleep(ctx context.Context, d time.Duration) (ctxDone bool) {
	t := time.NewTicker(d)
	defer t.Stop()
	select {
	case <-t.C:
		return false
	case <-ctx.Done():
		return true
	}
}
