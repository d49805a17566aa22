package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrNotReady is returned when the encoder produced no usable output before
// the poller ran out of attempts.
var ErrNotReady = errors.New("stream output did not appear in time")

const (
	DefaultPollAttempts = 16
	DefaultPollInterval = time.Second
)

// Poller waits for encoder output. The zero value polls 16 times one second
// apart, which keeps a failed start inside typical player timeouts.
type Poller struct {
	Attempts int
	Interval time.Duration

	// NewTimer returns the timer used between checks. Tests replace it;
	// nil means a real timer.
	NewTimer func() backoff.Timer
}

// Wait waits one interval and then calls ready, up to Attempts times. It
// returns nil on the first true result, ErrNotReady when attempts run out, or
// the context error if ctx is done first.
func (p Poller) Wait(ctx context.Context, ready func() bool) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = DefaultPollAttempts
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	var timer backoff.Timer
	if p.NewTimer != nil {
		timer = p.NewTimer()
	}

	// The encoder has only just been spawned, so the first call only starts
	// the clock and every check comes one interval after the previous call.
	spawned := true
	check := func() error {
		if spawned {
			spawned = false
			return ErrNotReady
		}
		if ready() {
			return nil
		}
		return ErrNotReady
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(attempts)),
		ctx)

	err := backoff.RetryNotifyWithTimer(check, b, nil, timer)
	if err != nil && !errors.Is(err, ErrNotReady) {
		return fmt.Errorf("wait for stream output: %w", err)
	}
	return err
}
