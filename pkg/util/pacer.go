package util

import (
	"context"
	"math/rand/v2"
	"time"
)

const jitterScale = 2

// Pacer spaces successive operations by a base interval plus or minus a
// random fraction of it.
type Pacer struct {
	timer   *time.Timer
	base    time.Duration
	percent float64
}

func NewPacer(base time.Duration, percent float64) *Pacer {
	return &Pacer{base: base, percent: percent}
}

// Wait blocks for the next jittered interval. A zero base returns at once.
func (p *Pacer) Wait(ctx context.Context) error {
	if p.base <= 0 {
		return ctx.Err()
	}

	d := Jitter(p.base, p.percent)
	if p.timer == nil {
		p.timer = time.NewTimer(d)
	} else {
		p.timer.Reset(d)
	}

	select {
	case <-ctx.Done():
		p.timer.Stop()
		return ctx.Err()
	case <-p.timer.C:
		return nil
	}
}

// Jitter returns d moved by up to percent of d in either direction.
func Jitter(d time.Duration, percent float64) time.Duration {
	if percent <= 0 {
		return d
	}
	delta := time.Duration(float64(d) * percent)
	if delta <= 0 {
		return d
	}
	n := int64(delta)*jitterScale + 1
	offset := time.Duration(rand.N(n)) - delta //nolint:gosec
	return d + offset
}
