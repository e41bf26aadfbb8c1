// File: internal/human/pacing.go

// Package human paces page interactions so they resemble a person rather
// than a script. The portal's defenses score interaction timing.
package human

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Pacer produces randomized delays. Safe for concurrent use.
type Pacer struct {
	mu    sync.Mutex
	rng   *rand.Rand
	sleep func(ctx context.Context, d time.Duration) error
}

func NewPacer() *Pacer {
	return &Pacer{
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep: sleepCtx,
	}
}

// NewPacerForTest returns a Pacer with a fixed seed and a sleep stub that
// records requested durations instead of waiting.
func NewPacerForTest(record func(d time.Duration)) *Pacer {
	return &Pacer{
		rng: rand.New(rand.NewSource(1)),
		sleep: func(ctx context.Context, d time.Duration) error {
			if record != nil {
				record(d)
			}
			return nil
		},
	}
}

// Delay blocks for a uniformly random duration in [min, max].
func (p *Pacer) Delay(ctx context.Context, min, max time.Duration) error {
	return p.sleep(ctx, p.Between(min, max))
}

// Between returns a uniformly random duration in [min, max].
func (p *Pacer) Between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return min + time.Duration(p.rng.Int63n(int64(max-min)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
