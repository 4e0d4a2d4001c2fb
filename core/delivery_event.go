package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DeliveryEventType is an enum for the events emitted while a request is delivered
type DeliveryEventType string

const (
	// DeliveryEventDelivered is sent when the destination answered with a 2xx status
	DeliveryEventDelivered DeliveryEventType = "delivered"
	// DeliveryEventRetry is sent before waiting to retry a failed attempt
	DeliveryEventRetry DeliveryEventType = "retry"
	// DeliveryEventFailed is sent when a request reached a terminal failure
	DeliveryEventFailed DeliveryEventType = "failed"
	// DeliveryEventNotDelivered is sent when a request was abandoned on shutdown
	DeliveryEventNotDelivered DeliveryEventType = "not_delivered"
)

// DeliveryEvent describes one step of a DeliveryAttempt
type DeliveryEvent struct {
	Type        DeliveryEventType
	DeliveryID  uuid.UUID
	Destination string
	Records     int
	Attempt     int
	StatusCode  int
	Delay       time.Duration
	Error       error
	CreatedAt   time.Time
}

func (e DeliveryEvent) String() string {
	sb := &strings.Builder{}
	sb.WriteString("DeliveryEvent{")
	sb.WriteString(fmt.Sprintf("Type: %s, ", e.Type))
	sb.WriteString(fmt.Sprintf("DeliveryID: %s, ", e.DeliveryID))
	sb.WriteString(fmt.Sprintf("Destination: %s, ", e.Destination))
	sb.WriteString(fmt.Sprintf("Records: %d, ", e.Records))
	sb.WriteString(fmt.Sprintf("Attempt: %d", e.Attempt))
	if e.StatusCode != 0 {
		sb.WriteString(fmt.Sprintf(", StatusCode: %d", e.StatusCode))
	}
	if e.Error != nil {
		sb.WriteString(fmt.Sprintf(", Error: %s", e.Error))
	}
	sb.WriteString("}")
	return sb.String()
}

// DeliveryListener is told about delivery events. Listeners may be called from several
// goroutines at once when destinations are delivered in parallel.
type DeliveryListener interface {
	DeliveryEvent(event DeliveryEvent)
}

// DeliveryListenerFunc adapts a function to a DeliveryListener
type DeliveryListenerFunc func(DeliveryEvent)

func (f DeliveryListenerFunc) DeliveryEvent(event DeliveryEvent) { f(event) }
