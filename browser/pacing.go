package browser

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Pacer sleeps a uniformly random duration in [min, max]. It is local to one
// driver; nothing is coordinated across workflows.
type Pacer struct {
	min, max time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewPacer(min, max time.Duration) *Pacer {
	if max < min {
		max = min
	}
	return &Pacer{min: min, max: max, rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Next draws the next delay.
func (p *Pacer) Next() time.Duration {
	if p.max <= p.min {
		return p.min
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.min + time.Duration(p.rnd.Int63n(int64(p.max-p.min)+1))
}

// Wait sleeps for Next() or until ctx is done.
func (p *Pacer) Wait(ctx context.Context) {
	d := p.Next()
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
