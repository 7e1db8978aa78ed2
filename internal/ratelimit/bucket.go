package ratelimit

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Bucket is a single token bucket. It starts full and refills continuously
// at its quota's rate. All methods are safe for concurrent use.
type Bucket struct {
	quota Quota
	scope string
	now   func() time.Time
	obs   Observer

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

func newBucket(q Quota, scope string, now func() time.Time, obs Observer) *Bucket {
	if now == nil {
		now = time.Now
	}
	if obs == nil {
		obs = nopObserver{}
	}
	return &Bucket{
		quota:      q,
		scope:      scope,
		now:        now,
		obs:        obs,
		tokens:     float64(q.Capacity),
		lastRefill: now(),
	}
}

// Quota returns the quota the bucket was created with.
func (b *Bucket) Quota() Quota { return b.quota }

// refill must be called with b.mu held.
func (b *Bucket) refill(now time.Time) {
	if now.After(b.lastRefill) {
		elapsed := now.Sub(b.lastRefill).Seconds()
		b.tokens += elapsed * float64(b.quota.RefillRate)
		b.lastRefill = now
	}
	capacity := float64(b.quota.Capacity)
	if b.tokens > capacity {
		b.tokens = capacity
	}
	if b.tokens < 0 {
		b.tokens = 0
	}
}

// TryAcquire takes one token if available. It never blocks.
func (b *Bucket) TryAcquire() Decision {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(now)

	if b.tokens >= 1 {
		b.tokens--
		if b.tokens < 0 {
			b.tokens = 0
		}
		return Decision{Allowed: true, Remaining: int(b.tokens)}
	}

	need := 1 - b.tokens
	nanos := math.Ceil(need / float64(b.quota.RefillRate) * float64(time.Second))
	return Decision{
		Allowed:   false,
		Remaining: 0,
		RetryAt:   now.Add(time.Duration(nanos)),
	}
}

// Remaining reports the whole tokens currently available.
func (b *Bucket) Remaining() int {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(now)
	return int(b.tokens)
}

// Wait blocks until the bucket admits one request or ctx is done. A waiter
// that gives up never consumes a token.
func (b *Bucket) Wait(ctx context.Context) error {
	_, err := b.wait(ctx)
	return err
}

// WaitWithJitter is Wait followed, for callers that had to wait, by a random
// extra delay in [0, maxJitter]. Callers admitted straight away return
// immediately; only woken waiters need spreading out.
func (b *Bucket) WaitWithJitter(ctx context.Context, maxJitter time.Duration) error {
	delayed, err := b.wait(ctx)
	if err != nil {
		return err
	}
	if !delayed || maxJitter <= 0 {
		return nil
	}
	// the token is already spent here; cancellation only cuts the jitter short
	return sleep(ctx, jitter(maxJitter))
}

func (b *Bucket) wait(ctx context.Context) (delayed bool, err error) {
	start := b.now()
	for {
		if err := ctx.Err(); err != nil {
			return delayed, err
		}
		dec := b.TryAcquire()
		if dec.Allowed {
			b.obs.Admitted(b.scope, b.now().Sub(start))
			return delayed, nil
		}
		if !delayed {
			delayed = true
			b.obs.Denied(b.scope)
		}
		if err := sleep(ctx, dec.RetryAt.Sub(b.now())); err != nil {
			return delayed, err
		}
	}
}

// jitter returns a random duration in [0, limit].
func jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	if limit == math.MaxInt64 {
		return time.Duration(rand.Int63n(math.MaxInt64))
	}
	return time.Duration(rand.Int63n(int64(limit) + 1))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
