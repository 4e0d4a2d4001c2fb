package core

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNotDelivered marks records that were abandoned because the host asked the pipeline to stop,
// or because an earlier record on the same destination stream failed. They may be redelivered.
var ErrNotDelivered = errors.New("record not delivered")

// ConversionError is returned when a record value cannot be serialized. Never retried.
type ConversionError struct {
	Topic     string
	Partition int32
	Offset    int64
	Cause     error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert record %s-%d@%d: %v", e.Topic, e.Partition, e.Offset, e.Cause)
}

func (e *ConversionError) Unwrap() error { return e.Cause }

// AuthError is returned when the Authorization header could not be computed,
// after the token endpoint retries were exhausted.
type AuthError struct {
	Cause error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authorization failed: %v", e.Cause)
}

func (e *AuthError) Unwrap() error { return e.Cause }

// TransportFailure is a network level fault: connection refused, timeout, DNS.
type TransportFailure struct {
	Cause error
}

func (e *TransportFailure) Error() string {
	return fmt.Sprintf("transport failure: %v", e.Cause)
}

func (e *TransportFailure) Unwrap() error { return e.Cause }

// DeliveryError is the terminal failure of one request, after the retry policy gave up or the
// destination answered with a non retryable status.
type DeliveryError struct {
	Destination string
	Attempts    int
	StatusCode  int // zero when no response was received
	Body        string
	Cause       error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("delivery to %s failed after %d attempt(s), status %d: %v", e.Destination, e.Attempts, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("delivery to %s failed after %d attempt(s): %v", e.Destination, e.Attempts, e.Cause)
}

func (e *DeliveryError) Unwrap() error { return e.Cause }

// StatusError is the cause recorded when the destination answers with a non 2xx status
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}
