package ratelimit

import (
	"math"
	"time"
)

// Quota used when neither the caller nor the config names one.
const (
	DefaultRPS   = 5.0
	DefaultBurst = 10
)

// Quota is the refill rate (tokens per second) and capacity of one bucket.
type Quota struct {
	RefillRate int // tokens per second
	Capacity   int // bucket size
}

// QuotaFromRPSBurst rounds rps up to a whole rate and clamps both values to at
// least 1. A fractional rate such as 0.5 therefore runs at 1 token per second;
// callers that need sub-1 rates get the faster rate, never an error.
func QuotaFromRPSBurst(rps float64, burst int) Quota {
	rate := 1
	if !math.IsNaN(rps) && rps > 1 {
		if rps >= math.MaxInt32 {
			rate = math.MaxInt32
		} else {
			rate = int(math.Ceil(rps))
		}
	}
	if burst < 1 {
		burst = 1
	}
	return Quota{RefillRate: rate, Capacity: burst}
}

// Decision is the outcome of a single admission check.
type Decision struct {
	Allowed   bool
	Remaining int       // whole tokens left after this check
	RetryAt   time.Time // when one token will be available; zero if Allowed
}

// Observer receives limiter activity. Scope is ScopeGlobal or ScopeKey.
type Observer interface {
	BucketCreated(key string)
	Admitted(scope string, waited time.Duration)
	Denied(scope string)
}

const (
	ScopeGlobal = "global"
	ScopeKey    = "key"
)

type nopObserver struct{}

func (nopObserver) BucketCreated(string)           {}
func (nopObserver) Admitted(string, time.Duration) {}
func (nopObserver) Denied(string)                  {}
