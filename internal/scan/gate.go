package scan

import (
	"context"
	"time"

	"github.com/AlexKimmel/ScanGate/internal/ratelimit"
)

// Gate admits a probe request once both the limiter for its key and the
// global limiter allow it.
type Gate struct {
	mgr       *ratelimit.Manager
	maxJitter time.Duration
}

func NewGate(mgr *ratelimit.Manager, maxJitter time.Duration) *Gate {
	return &Gate{mgr: mgr, maxJitter: maxJitter}
}

// Wait blocks until key and the global limiter have both admitted the
// request. An empty key is only limited globally.
func (g *Gate) Wait(ctx context.Context, key string) error {
	if key != "" {
		if err := g.mgr.Limiter(key).WaitWithJitter(ctx, g.maxJitter); err != nil {
			return err
		}
	}
	return g.mgr.Global().Wait(ctx)
}
