package agent

import (
	"context"
	"log"
	"time"
)

type healthChecker interface {
	Health(ctx context.Context) error
}

// checkServerHealth asks the server's liveness endpoint once. Upstreams
// without a health endpoint count as healthy.
func checkServerHealth(ctx context.Context, upstream Upstream, timeout time.Duration) bool {
	hc, ok := upstream.(healthChecker)
	if !ok {
		return true
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := hc.Health(ctx); err != nil {
		log.Printf("[agent] health check failed: %v", err)
		return false
	}
	return true
}
