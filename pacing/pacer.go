// Package pacing holds the human-like timing policy used while driving the
// portal: per-keystroke delays, pauses between actions, settle time after a
// submit, and per-request network jitter.
package pacing

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/use-agent/ppsr/config"
)

// Range is an inclusive [Min, Max] duration interval.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// Pick returns a uniformly random duration within the range.
func (r Range) Pick() time.Duration {
	if r.Max <= r.Min {
		return max(r.Min, 0)
	}
	return r.Min + rand.N(r.Max-r.Min+1)
}

// Pacer is the anti-detection pacing strategy. The zero value never sleeps.
// It holds no mutable state and is safe for concurrent use.
type Pacer struct {
	Keystroke     Range
	Pause         Range
	Settle        Range
	NetworkJitter Range
}

// New builds a Pacer from configuration.
func New(cfg config.PacingConfig) Pacer {
	return Pacer{
		Keystroke:     Range(cfg.Keystroke),
		Pause:         Range(cfg.Pause),
		Settle:        Range(cfg.Settle),
		NetworkJitter: Range(cfg.NetworkJitter),
	}
}

// KeystrokeDelay waits between two typed characters.
func (p Pacer) KeystrokeDelay(ctx context.Context) error { return Sleep(ctx, p.Keystroke.Pick()) }

// PauseDelay waits between two UI actions.
func (p Pacer) PauseDelay(ctx context.Context) error { return Sleep(ctx, p.Pause.Pick()) }

// SettleDelay waits for a results view to finish rendering.
func (p Pacer) SettleDelay(ctx context.Context) error { return Sleep(ctx, p.Settle.Pick()) }

// JitterDelay holds back one network request.
func (p Pacer) JitterDelay(ctx context.Context) error { return Sleep(ctx, p.NetworkJitter.Pick()) }

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
