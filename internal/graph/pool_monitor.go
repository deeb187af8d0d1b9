package graph

import (
	"context"
	"time"
)

// WatchHealth checks connectivity every interval until ctx is done. Long
// running servers use it to notice a lost database before a tool call does.
// onChange is called with the new state whenever health flips.
func (c *Client) WatchHealth(ctx context.Context, interval time.Duration, onChange func(healthy bool, err error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	healthy := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := c.HealthCheck(ctx)
			if ctx.Err() != nil {
				return
			}
			if now := err == nil; now != healthy {
				healthy = now
				if err != nil {
					c.logger.Warn("neo4j health check failed", "error", err)
				} else {
					c.logger.Info("neo4j reachable again")
				}
				if onChange != nil {
					onChange(healthy, err)
				}
			}
		}
	}
}
