package artifact

import (
	"context"
	"time"
)

// DefaultSweepInterval is how often Run sweeps when no interval is given.
const DefaultSweepInterval = 5 * time.Minute

// Run sweeps every interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
