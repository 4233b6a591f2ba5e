// Package infra opens the backing services used by the escrow API.
package infra

import (
	"context"
	"fmt"
	"time"
)

// verify pings a freshly opened backend and closes it when unreachable.
func verify(ctx context.Context, name string, timeout time.Duration, ping func(context.Context) error, closeFn func()) error {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := ping(pingCtx); err != nil {
		closeFn()
		return fmt.Errorf("ping %s: %w", name, err)
	}
	return nil
}
