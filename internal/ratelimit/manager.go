package ratelimit

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/AlexKimmel/ScanGate/internal/ratelimit/memory"
)

// Manager owns one bucket per key plus a global bucket that bounds the
// aggregate rate. Callers gate each request on both Limiter(key) and Global();
// the manager does not combine them.
type Manager struct {
	buckets   *memory.Registry[*Bucket]
	global    *Bucket
	defaults  Quota
	overrides map[string]Quota

	now    func() time.Time
	obs    Observer
	logger zerolog.Logger
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithDefaultQuota sets the quota for keys with no explicit or configured one.
func WithDefaultQuota(rps float64, burst int) Option {
	return func(m *Manager) { m.defaults = QuotaFromRPSBurst(rps, burst) }
}

// WithOverrides sets per-key quotas, used when a key is first seen and the
// caller passes no rate or burst of its own.
func WithOverrides(overrides map[string]Quota) Option {
	return func(m *Manager) {
		for k, q := range overrides {
			m.overrides[k] = QuotaFromRPSBurst(float64(q.RefillRate), q.Capacity)
		}
	}
}

// WithObserver reports admissions and denials of every bucket to obs.
func WithObserver(obs Observer) Option {
	return func(m *Manager) {
		if obs != nil {
			m.obs = obs
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager builds a manager whose global bucket allows globalRPS requests
// per second with bursts of globalBurst.
func NewManager(globalRPS float64, globalBurst int, opts ...Option) *Manager {
	m := &Manager{
		buckets:   memory.New[*Bucket](),
		defaults:  QuotaFromRPSBurst(DefaultRPS, DefaultBurst),
		overrides: make(map[string]Quota),
		now:       time.Now,
		obs:       nopObserver{},
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.global = newBucket(QuotaFromRPSBurst(globalRPS, globalBurst), ScopeGlobal, m.now, m.obs)
	return m
}

type limitArgs struct {
	rps   *float64
	burst *int
}

// LimitOption overrides the quota of a key on its first use.
type LimitOption func(*limitArgs)

// RPS sets the refill rate of a new key, rounded up to whole tokens per second.
func RPS(rps float64) LimitOption {
	return func(a *limitArgs) { a.rps = &rps }
}

// Burst sets the capacity of a new key.
func Burst(burst int) LimitOption {
	return func(a *limitArgs) { a.burst = &burst }
}

// Limiter returns the bucket for key, creating it on first use. The quota is
// fixed by the first call: explicit RPS/Burst options, else the configured
// override for the key, else the manager defaults. Options passed for a key
// that already exists are ignored.
func (m *Manager) Limiter(key string, opts ...LimitOption) *Bucket {
	if b, ok := m.buckets.Get(key); ok {
		return b
	}

	b, created := m.buckets.GetOrCreate(key, func() *Bucket {
		return newBucket(m.quotaFor(key, opts), ScopeKey, m.now, m.obs)
	})
	if created {
		q := b.Quota()
		m.obs.BucketCreated(key)
		m.logger.Debug().
			Str("key", key).
			Int("rate", q.RefillRate).
			Int("burst", q.Capacity).
			Int("keys", m.buckets.Len()).
			Msg("limiter created")
	}
	return b
}

func (m *Manager) quotaFor(key string, opts []LimitOption) Quota {
	base := m.defaults
	if q, ok := m.overrides[key]; ok {
		base = q
	}

	var args limitArgs
	for _, opt := range opts {
		opt(&args)
	}

	rps, burst := float64(base.RefillRate), base.Capacity
	if args.rps != nil {
		rps = *args.rps
	}
	if args.burst != nil {
		burst = *args.burst
	}
	return QuotaFromRPSBurst(rps, burst)
}

// Global returns the bucket shared by every request regardless of key.
func (m *Manager) Global() *Bucket {
	return m.global
}

// Len returns how many per-key buckets exist.
func (m *Manager) Len() int {
	return m.buckets.Len()
}

// KeyNames returns the keys that have a bucket, sorted.
func (m *Manager) KeyNames() []string {
	return m.buckets.Keys()
}
