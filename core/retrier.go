package core

import (
	"math"
	"time"
)

// Retrier computes how long to wait before retry number retries (zero based)
type Retrier interface {
	RetryIn(retries, maxretries int) time.Duration
	Name() string
}

const (
	RetrierExponential = "exponential_backoff"
	RetrierFixed       = "fixed"
)

// DefaultBaseDelay is used by an ExponentialRetrier with no Base
const DefaultBaseDelay = 10 * time.Second

// ExponentialRetrier doubles the delay with each retry, starting at Base and never exceeding Max.
// With the default base of 10 seconds and no Max this yields:
// 0: 10
// 1: 20
// 2: 40
// 3: 80
// 4: 160
// 5: 320
// ...
// 15: 327680 ~ 91 hours
// Once retries passes maxretries the delay stops growing.
type ExponentialRetrier struct {
	Base time.Duration
	Max  time.Duration // zero means uncapped
}

func (r ExponentialRetrier) RetryIn(retries, maxretries int) time.Duration {
	base := r.Base
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if retries > maxretries {
		retries = maxretries
	}
	if retries < 0 {
		retries = 0
	}
	delay := base
	for i := 0; i < retries; i++ {
		if delay > math.MaxInt64/2 {
			delay = math.MaxInt64
			break
		}
		delay *= 2
	}
	if r.Max > 0 && delay > r.Max {
		return r.Max
	}
	return delay
}

func (r ExponentialRetrier) Name() string { return RetrierExponential }

// FixedRetrier always waits the same Duration
type FixedRetrier struct {
	Duration time.Duration
}

func (r FixedRetrier) RetryIn(retries, maxretries int) time.Duration { return r.Duration }

func (r FixedRetrier) Name() string { return RetrierFixed }
