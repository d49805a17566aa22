package stream

import (
	"context"
	"time"
)

// DefaultKeepalive is the tick period used when none is configured.
const DefaultKeepalive = 10 * time.Second

// Ticker drives Tick on a fixed period, independent of request traffic.
type Ticker struct {
	Interval time.Duration
	Streams  []*Stream
}

// Run blocks until ctx is done.
func (t *Ticker) Run(ctx context.Context) {
	interval := t.Interval
	if interval <= 0 {
		interval = DefaultKeepalive
	}
	tk := time.NewTicker(interval)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			for _, s := range t.Streams {
				s.Tick()
			}
		}
	}
}
