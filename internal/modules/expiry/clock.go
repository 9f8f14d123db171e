// README: Tick sources that drive the periodic sweep.
package expiry

import (
	"context"
	"time"
)

// Clock calls fn on every tick until ctx is done. Ticks are delivered one at
// a time; fn returning late delays the next tick instead of overlapping it.
type Clock interface {
	OnTick(ctx context.Context, fn func(ctx context.Context, now time.Time))
}

// TickerClock ticks every Interval. RunAtStart fires once immediately.
type TickerClock struct {
	Interval   time.Duration
	RunAtStart bool
}

func (c TickerClock) OnTick(ctx context.Context, fn func(ctx context.Context, now time.Time)) {
	interval := c.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if c.RunAtStart {
		fn(ctx, time.Now())
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			fn(ctx, t)
		}
	}
}
