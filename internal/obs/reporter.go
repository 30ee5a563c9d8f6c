package obs

import (
	"context"
	"time"

	"github.com/yanun0323/logs"
)

// Report logs a snapshot every interval until ctx ends.
func Report(ctx context.Context, m *Metrics, interval time.Duration) {
	if m == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logs.Infof("stats: %s", m.Snapshot())
		}
	}
}
