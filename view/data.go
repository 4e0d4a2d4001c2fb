// view package contains data structures exposed via the API
package view

import (
	"time"

	"github.com/google/uuid"
	"gopkg.in/guregu/null.v4"
)

// Sender describes the running delivery pipeline. Secrets never appear in it.
type Sender struct {
	URL            string        `json:"url"`
	Method         string        `json:"method"`
	ContentType    string        `json:"content_type"`
	Headers        []string      `json:"headers"`
	OverrideHeader string        `json:"override_header"`
	Authorization  Authorization `json:"authorization"`
	Retry          Retry         `json:"retry"`
	Batch          Batch         `json:"batch"`
	Converter      string        `json:"converter"`
	Parallelism    int           `json:"parallelism"`
	FailFast       bool          `json:"fail_fast"`
}

type Authorization struct {
	Type string `json:"type"`
}

type Retry struct {
	MaxRetries int    `json:"max_retries"`
	Algorithm  string `json:"retry_algorithm"`
	BaseDelay  string `json:"base_delay,omitempty"`
	MaxDelay   string `json:"max_delay,omitempty"`
	Interval   string `json:"fixed_interval_retry_dur,omitempty"`
}

type Batch struct {
	Mode      string   `json:"mode"`
	MaxSize   null.Int `json:"max_size"`
	MaxBytes  null.Int `json:"max_bytes"`
	Prefix    string   `json:"prefix,omitempty"`
	Suffix    string   `json:"suffix,omitempty"`
	Separator string   `json:"separator,omitempty"`
}

// Failure is a journaled record that could not be delivered
type Failure struct {
	ID          uuid.UUID `json:"id"`
	Topic       string    `json:"topic"`
	Partition   int32     `json:"partition"`
	Offset      int64     `json:"offset"`
	Destination string    `json:"destination"`
	Attempts    int       `json:"attempts"`
	StatusCode  null.Int  `json:"status_code"`
	Error       string    `json:"error"`
	CreatedAt   time.Time `json:"created_at"`
}
