package ws

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunSweeper pings, every interval, each connection idle for longer than
// threshold. The ping only prompts the client; dead peers are dropped by the
// transport keep-alive, not here. The returned channel is closed once the
// sweeper has stopped after ctx is done.
func RunSweeper(ctx context.Context, reg *Registry, interval, threshold time.Duration) <-chan struct{} {
	done := make(chan struct{})
	tk := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				if n := reg.PingIdle(threshold); n > 0 {
					zap.L().Debug("ws.sweep", zap.Int("pinged", n))
				}
			}
		}
	}()
	return done
}
