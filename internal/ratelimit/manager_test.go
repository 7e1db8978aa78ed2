package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu       sync.Mutex
	created  []string
	admitted map[string]int
	denied   map[string]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{admitted: map[string]int{}, denied: map[string]int{}}
}

func (o *recordingObserver) BucketCreated(key string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.created = append(o.created, key)
}

func (o *recordingObserver) Admitted(scope string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.admitted[scope]++
}

func (o *recordingObserver) Denied(scope string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.denied[scope]++
}

func TestNewManagerGlobalQuota(t *testing.T) {
	m := NewManager(2.5, 0)

	assert.Equal(t, Quota{RefillRate: 3, Capacity: 1}, m.Global().Quota())
	assert.Same(t, m.Global(), m.Global())
	assert.Equal(t, 0, m.Len())
	assert.Empty(t, m.KeyNames())
}

func TestLimiterDefaults(t *testing.T) {
	m := NewManager(100, 100)
	assert.Equal(t, Quota{RefillRate: 5, Capacity: 10}, m.Limiter("plain").Quota())

	m = NewManager(100, 100, WithDefaultQuota(1.5, 4))
	assert.Equal(t, Quota{RefillRate: 2, Capacity: 4}, m.Limiter("plain").Quota())
	assert.Equal(t, Quota{RefillRate: 1, Capacity: 4}, m.Limiter("slow", RPS(0.2)).Quota())
}

func TestLimiterQuotaPrecedence(t *testing.T) {
	m := NewManager(10, 10,
		WithDefaultQuota(5, 10),
		WithOverrides(map[string]Quota{
			"api.example.com": {RefillRate: 1, Capacity: 2},
			"broken":          {RefillRate: 0, Capacity: 0},
		}),
	)

	assert.Equal(t, Quota{RefillRate: 1, Capacity: 2}, m.Limiter("api.example.com").Quota())
	assert.Equal(t, Quota{RefillRate: 1, Capacity: 1}, m.Limiter("broken").Quota())
	assert.Equal(t, Quota{RefillRate: 5, Capacity: 10}, m.Limiter("other.example.com").Quota())

	// explicit arguments beat the configured override, one field at a time
	m = NewManager(10, 10, WithOverrides(map[string]Quota{"k": {RefillRate: 1, Capacity: 2}}))
	assert.Equal(t, Quota{RefillRate: 7, Capacity: 2}, m.Limiter("k", RPS(7)).Quota())
}

func TestLimiterFirstWriterWins(t *testing.T) {
	m := NewManager(5, 10)

	first := m.Limiter("k", RPS(1.0), Burst(1))
	second := m.Limiter("k", RPS(100.0), Burst(100))

	assert.Same(t, first, second)
	assert.Equal(t, Quota{RefillRate: 1, Capacity: 1}, second.Quota())
	assert.Equal(t, 1, m.Len())
}

func TestLimiterConcurrentFirstUse(t *testing.T) {
	clock := newFakeClock()
	obs := newRecordingObserver()
	m := NewManager(5, 10, WithClock(clock.Now), WithObserver(obs))

	const callers = 64
	handles := make([]*Bucket, callers)
	admitted := make([]bool, callers)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			handles[i] = m.Limiter("unseen.example.com", RPS(1), Burst(5))
			admitted[i] = handles[i].TryAcquire().Allowed
		}(i)
	}
	close(start)
	wg.Wait()

	allowed := 0
	for i := range handles {
		assert.Same(t, handles[0], handles[i])
		if admitted[i] {
			allowed++
		}
	}
	assert.Equal(t, 5, allowed)
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, []string{"unseen.example.com"}, obs.created)
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	m := NewManager(10, 20)
	slow := m.Limiter("a.example.com", RPS(1), Burst(1))
	fast := m.Limiter("b.example.com", RPS(5), Burst(5))
	ctx := context.Background()
	start := time.Now()

	require.NoError(t, slow.Wait(ctx))
	require.NoError(t, fast.Wait(ctx))
	fastFirst := time.Since(start)

	require.NoError(t, slow.Wait(ctx))
	slowSecond := time.Since(start)

	assert.Less(t, fastFirst, 100*time.Millisecond)
	assert.GreaterOrEqual(t, slowSecond, 900*time.Millisecond)
}

func TestGlobalLimiterBoundsAggregateRate(t *testing.T) {
	if testing.Short() {
		t.Skip("takes about ten seconds")
	}

	m := NewManager(3, 1)
	keys := []*Bucket{
		m.Limiter("host1", RPS(100), Burst(2)),
		m.Limiter("host2", RPS(100), Burst(2)),
		m.Limiter("host3", RPS(100), Burst(2)),
	}
	global := m.Global()
	ctx := context.Background()
	start := time.Now()

	for i := 0; i < 30; i++ {
		require.NoError(t, keys[i%len(keys)].Wait(ctx))
		require.NoError(t, global.Wait(ctx))
	}

	total := time.Since(start)
	assert.GreaterOrEqual(t, total, 9*time.Second)
	assert.Less(t, total, 12*time.Second)
}

func TestGlobalLimiterSharedAcrossGoroutines(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(1, 8, WithClock(clock.Now))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Limiter(fmt.Sprintf("host%d", i%4))
			if m.Global().TryAcquire().Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 8, allowed)
	assert.Equal(t, 4, m.Len())
	assert.Equal(t, []string{"host0", "host1", "host2", "host3"}, m.KeyNames())
}

func TestManagerReportsToObserver(t *testing.T) {
	obs := newRecordingObserver()
	m := NewManager(100, 1, WithObserver(obs))
	ctx := context.Background()

	key := m.Limiter("k", RPS(20), Burst(1))
	require.NoError(t, key.Wait(ctx))
	require.NoError(t, key.Wait(ctx))
	require.NoError(t, m.Global().Wait(ctx))

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, []string{"k"}, obs.created)
	assert.Equal(t, 2, obs.admitted[ScopeKey])
	assert.Equal(t, 1, obs.denied[ScopeKey])
	assert.Equal(t, 1, obs.admitted[ScopeGlobal])
	assert.Equal(t, 0, obs.denied[ScopeGlobal])
}
