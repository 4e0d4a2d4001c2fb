package core

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Decision is what the RetryPolicy makes of one attempt
type Decision int

const (
	DecisionSuccess Decision = iota
	DecisionRetry
	DecisionFatal
)

func (d Decision) String() string {
	switch d {
	case DecisionSuccess:
		return "success"
	case DecisionRetry:
		return "retry"
	default:
		return "fatal"
	}
}

// Sleeper blocks for d or until ctx is done, whichever comes first
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the Sleeper used outside of tests
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryPolicy decides, per attempt, between success, retry after a backoff, and fatal failure.
// A request is attempted at most 1 + MaxRetries times.
type RetryPolicy struct {
	MaxRetries int
	Retrier    Retrier

	now func() time.Time
}

// Classify maps the outcome of one attempt to a Decision.
// 2xx succeeds, 429 and 5xx are retried, network faults are retried, anything else is fatal.
func (p RetryPolicy) Classify(resp *Response, err error) Decision {
	if err != nil {
		var tf *TransportFailure
		if errors.As(err, &tf) {
			return DecisionRetry
		}
		return DecisionFatal
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return DecisionSuccess
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return DecisionRetry
	default:
		return DecisionFatal
	}
}

// Delay returns the wait before retry number retry (zero based). A Retry-After header on a 429 or
// 5xx response lengthens the wait but never shortens it.
func (p RetryPolicy) Delay(retry int, resp *Response) time.Duration {
	retrier := p.Retrier
	if retrier == nil {
		retrier = ExponentialRetrier{}
	}
	delay := retrier.RetryIn(retry, p.MaxRetries)
	if resp == nil || resp.Header == nil {
		return delay
	}
	if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
		return delay
	}
	now := time.Now
	if p.now != nil {
		now = p.now
	}
	if after := parseRetryAfter(resp.Header.Get("Retry-After"), now()); after > delay {
		return after
	}
	return delay
}

// parseRetryAfter accepts delay-seconds or an HTTP-date. Anything else yields zero.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	at, err := http.ParseTime(value)
	if err != nil {
		return 0
	}
	if d := at.Sub(now); d > 0 {
		return d
	}
	return 0
}

// RetryObserver is told about every retry before its backoff wait starts
type RetryObserver func(retry int, delay time.Duration, resp *Response, err error)

// Retry runs op until the policy reaches a terminal decision. It returns the last response, the
// number of attempts made and, on failure, the cause: the error from op, a *StatusError, or
// ErrNotDelivered when ctx ended before a retry could be made.
func (p RetryPolicy) Retry(ctx context.Context, sleep Sleeper, op func(ctx context.Context) (*Response, error), observe RetryObserver) (*Response, int, error) {
	if sleep == nil {
		sleep = SleepContext
	}
	attempts := 0
	for {
		resp, err := op(ctx)
		attempts++

		decision := p.Classify(resp, err)
		if decision == DecisionSuccess {
			return resp, attempts, nil
		}
		cause := err
		if cause == nil {
			cause = &StatusError{StatusCode: resp.StatusCode}
		}
		if decision == DecisionFatal || attempts > p.MaxRetries {
			return resp, attempts, cause
		}

		retry := attempts - 1
		delay := p.Delay(retry, resp)
		if ctx.Err() != nil {
			return resp, attempts, errors.Wrapf(ErrNotDelivered, "stopped before retry: %v", cause)
		}
		if observe != nil {
			observe(retry, delay, resp, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return resp, attempts, errors.Wrapf(ErrNotDelivered, "stopped during backoff: %v", cause)
		}
	}
}
