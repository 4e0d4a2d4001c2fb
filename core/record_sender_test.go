package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func overrideTo(u string) Headers {
	return Headers{{Key: DefaultOverrideHeader, Value: []byte(u)}}
}

func statuses(r Report) []OutcomeStatus {
	out := []OutcomeStatus{}
	for _, o := range r.Outcomes {
		out = append(out, o.Status)
	}
	return out
}

func stringRecords(values ...any) []Record {
	records := make([]Record, len(values))
	for i, v := range values {
		records[i] = Record{Topic: "test", Offset: int64(i), Value: v}
	}
	return records
}

func TestNewRecordSender(t *testing.T) {
	s := NewHTTPSender(nil)
	cfg := DefaultConfig()
	assert.IsType(t, &SingleRecordSender{}, NewRecordSender(cfg, s, JSONConverter{}))
	cfg.Mode = ModeBatch
	assert.IsType(t, &BatchRecordSender{}, NewRecordSender(cfg, s, JSONConverter{}))
	cfg.Mode = "bogus"
	assert.IsType(t, &SingleRecordSender{}, NewRecordSender(cfg, s, JSONConverter{}))
}

func TestSingleRecordSenderPreservesOrder(t *testing.T) {
	dest := newTestDestination(t)
	s, rec := newTestSender(dest.URL("/hook"), 3)
	rs := NewRecordSender(DefaultConfig(), s, JSONConverter{})

	records := make([]Record, 1000)
	for i := range records {
		records[i] = Record{Topic: "orders", Offset: int64(i), Value: map[string]int{"id": i}}
	}
	report := rs.Send(context.Background(), records)

	require.NoError(t, report.Err())
	assert.Equal(t, 1000, report.DeliveredPrefix())
	assert.Empty(t, rec.Delays())
	bodies := dest.Bodies()
	require.Len(t, bodies, 1000)
	for i, body := range bodies {
		assert.Equal(t, fmt.Sprintf(`{"id":%d}`, i), body)
	}
	for _, o := range report.Outcomes {
		assert.Equal(t, 1, o.Attempts)
	}
}

func TestSingleRecordSenderOverride(t *testing.T) {
	dest := newTestDestination(t)
	s, _ := newTestSender(dest.URL("/default"), 0)
	rs := NewRecordSender(DefaultConfig(), s, JSONConverter{})

	records := stringRecords(`1`, `2`, `3`, `4`)
	records[1].Headers = overrideTo(dest.URL("/override").String())
	records[3].Headers = overrideTo("::not a url")

	report := rs.Send(context.Background(), records)
	require.NoError(t, report.Err())

	paths := []string{}
	for _, r := range dest.Requests() {
		paths = append(paths, r.Path)
	}
	assert.Equal(t, []string{"/default", "/override", "/default", "/default"}, paths)
	assert.Equal(t, dest.URL("/override").String(), report.Outcomes[1].Destination)
	assert.Equal(t, dest.URL("/default").String(), report.Outcomes[3].Destination)
}

func TestBatchRecordSenderSplitsOnDestination(t *testing.T) {
	dest := newTestDestination(t)
	s, _ := newTestSender(dest.URL("/default"), 0)
	cfg := DefaultConfig()
	cfg.Mode = ModeBatch
	rs := NewRecordSender(cfg, s, StringConverter{})

	records := stringRecords("r0", "r1", "r2", "r3", "r4")
	records[2].Headers = overrideTo(dest.URL("/a").String())
	records[3].Headers = overrideTo(dest.URL("/a").String())

	report := rs.Send(context.Background(), records)
	require.NoError(t, report.Err())

	reqs := dest.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "/default", reqs[0].Path)
	assert.Equal(t, "r0\nr1\n", reqs[0].Body)
	assert.Equal(t, "/a", reqs[1].Path)
	assert.Equal(t, "r2\nr3\n", reqs[1].Body)
	assert.Equal(t, "/default", reqs[2].Path)
	assert.Equal(t, "r4\n", reqs[2].Body)
}

func TestBatchRecordSenderLimits(t *testing.T) {
	tests := map[string]struct {
		maxSize  int
		maxBytes int
		expected []string
	}{
		"count":       {2, 0, []string{"[aa,bb]", "[cc,dd]", "[ee]"}},
		"bytes":       {10, 8, []string{"[aa,bb]", "[cc,dd]", "[ee]"}},
		"bytes first": {10, 5, []string{"[aa]", "[bb]", "[cc]", "[dd]", "[ee]"}},
		"count first": {1, 100, []string{"[aa]", "[bb]", "[cc]", "[dd]", "[ee]"}},
		"one request": {10, 0, []string{"[aa,bb,cc,dd,ee]"}},
		"oversized":   {10, 2, []string{"[aa]", "[bb]", "[cc]", "[dd]", "[ee]"}},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			dest := newTestDestination(t)
			s, _ := newTestSender(dest.URL("/"), 0)
			cfg := DefaultConfig()
			cfg.Mode = ModeBatch
			cfg.MaxBatchSize = test.maxSize
			cfg.MaxBatchBytes = test.maxBytes
			cfg.Format = BatchFormat{Prefix: "[", Separator: ",", Suffix: "]"}
			rs := NewRecordSender(cfg, s, StringConverter{})

			report := rs.Send(context.Background(), stringRecords("aa", "bb", "cc", "dd", "ee"))
			require.NoError(t, report.Err())
			assert.Equal(t, test.expected, dest.Bodies())
		})
	}
}

func TestBatchRecordSenderConversionFailureExcludesRecord(t *testing.T) {
	dest := newTestDestination(t)
	s, _ := newTestSender(dest.URL("/"), 0)
	cfg := DefaultConfig()
	cfg.Mode = ModeBatch
	rs := NewRecordSender(cfg, s, StringConverter{})

	report := rs.Send(context.Background(), stringRecords("a", make(chan int), "c"))

	assert.Equal(t, []string{"a\nc\n"}, dest.Bodies())
	assert.Equal(t, []OutcomeStatus{OutcomeDelivered, OutcomeFailed, OutcomeDelivered}, statuses(report))
	var cerr *ConversionError
	require.True(t, errors.As(report.Outcomes[1].Err, &cerr))
	assert.Equal(t, int64(1), cerr.Offset)
	assert.Equal(t, 1, report.DeliveredPrefix())
}

func TestBatchRecordSenderGroupFailure(t *testing.T) {
	dest := newTestDestination(t, http.StatusBadRequest)
	s, _ := newTestSender(dest.URL("/"), 3)
	cfg := DefaultConfig()
	cfg.Mode = ModeBatch
	cfg.MaxBatchSize = 2
	rs := NewRecordSender(cfg, s, StringConverter{})

	report := rs.Send(context.Background(), stringRecords("a", "b", "c"))
	assert.Equal(t, []OutcomeStatus{OutcomeFailed, OutcomeFailed, OutcomeNotDelivered}, statuses(report))
	assert.Len(t, dest.Requests(), 1)
	var derr *DeliveryError
	require.True(t, errors.As(report.Err(), &derr))
	assert.Equal(t, http.StatusBadRequest, derr.StatusCode)
	assert.ErrorIs(t, report.Outcomes[2].Err, ErrNotDelivered)
}

func TestSingleRecordSenderFailFast(t *testing.T) {
	tests := map[string]struct {
		failFast bool
		expected []OutcomeStatus
		requests int
	}{
		"fail fast": {true, []OutcomeStatus{OutcomeDelivered, OutcomeFailed, OutcomeNotDelivered, OutcomeNotDelivered}, 2},
		"continue":  {false, []OutcomeStatus{OutcomeDelivered, OutcomeFailed, OutcomeDelivered, OutcomeDelivered}, 4},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			dest := newTestDestination(t, http.StatusOK, http.StatusNotFound)
			s, _ := newTestSender(dest.URL("/"), 3)
			cfg := DefaultConfig()
			cfg.FailFast = test.failFast
			rs := NewRecordSender(cfg, s, JSONConverter{})

			report := rs.Send(context.Background(), stringRecords(`1`, `2`, `3`, `4`))
			assert.Equal(t, test.expected, statuses(report))
			assert.Len(t, dest.Requests(), test.requests)
			assert.Equal(t, 1, report.DeliveredPrefix())
		})
	}
}

func TestRecordSenderFailFastIsPerDestination(t *testing.T) {
	failing := newTestDestination(t, http.StatusBadRequest)
	healthy := newTestDestination(t)
	s, _ := newTestSender(failing.URL("/"), 0)
	rs := NewRecordSender(DefaultConfig(), s, JSONConverter{})

	records := stringRecords(`1`, `2`, `3`, `4`)
	records[1].Headers = overrideTo(healthy.URL("/").String())
	records[3].Headers = overrideTo(healthy.URL("/").String())

	report := rs.Send(context.Background(), records)
	assert.Equal(t, []OutcomeStatus{OutcomeFailed, OutcomeDelivered, OutcomeNotDelivered, OutcomeDelivered}, statuses(report))
}

func TestRecordSenderCancelledBeforeStart(t *testing.T) {
	dest := newTestDestination(t)
	s, _ := newTestSender(dest.URL("/"), 3)
	rs := NewRecordSender(DefaultConfig(), s, JSONConverter{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := rs.Send(ctx, stringRecords(`1`, `2`))
	assert.Equal(t, []OutcomeStatus{OutcomeNotDelivered, OutcomeNotDelivered}, statuses(report))
	assert.Empty(t, dest.Requests())
	assert.ErrorIs(t, report.Err(), ErrNotDelivered)
}

func TestRecordSenderInFlightCompletesOnShutdown(t *testing.T) {
	dest := newTestDestination(t)
	s, _ := newTestSender(dest.URL("/"), 3)
	rs := NewRecordSender(DefaultConfig(), s, JSONConverter{})

	ctx, cancel := context.WithCancel(context.Background())
	dest.OnRequest(func(receivedRequest) { cancel() })
	report := rs.Send(ctx, stringRecords(`1`, `2`, `3`))

	assert.Equal(t, []OutcomeStatus{OutcomeDelivered, OutcomeNotDelivered, OutcomeNotDelivered}, statuses(report))
	assert.Len(t, dest.Requests(), 1)
	assert.Equal(t, 1, report.DeliveredPrefix())
}

func TestRecordSenderParallelStreamsDoNotBlock(t *testing.T) {
	slow := newTestDestination(t, 503, 503)
	fast := newTestDestination(t)

	fastDone := make(chan struct{})
	var once sync.Once
	var mu sync.Mutex
	seen := 0
	fast.OnRequest(func(receivedRequest) {
		mu.Lock()
		defer mu.Unlock()
		seen++
		if seen == 3 {
			once.Do(func() { close(fastDone) })
		}
	})

	s, _ := newTestSender(slow.URL("/"), 1)
	// The slow destination's backoff only ends once the fast destination got all of its records
	s.sleep = func(ctx context.Context, d time.Duration) error {
		select {
		case <-fastDone:
			return nil
		case <-time.After(5 * time.Second):
			return errors.New("backoff blocked other destinations")
		}
	}
	cfg := DefaultConfig()
	cfg.Parallelism = 4
	rs := NewRecordSender(cfg, s, JSONConverter{})

	records := stringRecords(`1`, `2`, `3`, `4`)
	for i := 1; i < 4; i++ {
		records[i].Headers = overrideTo(fast.URL("/").String())
	}
	report := rs.Send(context.Background(), records)

	assert.Equal(t, []OutcomeStatus{OutcomeFailed, OutcomeDelivered, OutcomeDelivered, OutcomeDelivered}, statuses(report))
	assert.Equal(t, 2, report.Outcomes[0].Attempts)
	assert.Equal(t, []string{`2`, `3`, `4`}, fast.Bodies())
}

func TestReport(t *testing.T) {
	failure := errors.New("boom")
	r := Report{Outcomes: []Outcome{
		{Status: OutcomeDelivered},
		{Status: OutcomeDelivered},
		{Status: OutcomeFailed, Err: failure},
		{Status: OutcomeDelivered},
	}}
	assert.Equal(t, 2, r.DeliveredPrefix())
	assert.Equal(t, failure, r.Err())
	assert.Equal(t, 3, r.Count(OutcomeDelivered))

	assert.NoError(t, Report{}.Err())
	assert.Equal(t, 0, Report{}.DeliveredPrefix())
}

func TestBatchRecordSenderEventsCarryRecordCount(t *testing.T) {
	dest := newTestDestination(t, 503, 200, 200)
	s, _ := newTestSender(dest.URL("/batch"), 3)

	var mu sync.Mutex
	events := []DeliveryEvent{}
	s.AddListener(DeliveryListenerFunc(func(e DeliveryEvent) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}))

	cfg := DefaultConfig()
	cfg.Mode = ModeBatch
	cfg.MaxBatchSize = 3
	report := NewRecordSender(cfg, s, JSONConverter{}).Send(context.Background(), stringRecords(`1`, `2`, `3`, `4`))
	require.NoError(t, report.Err())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 3)
	assert.Equal(t, DeliveryEventRetry, events[0].Type)
	assert.Equal(t, 3, events[0].Records)
	assert.Equal(t, DeliveryEventDelivered, events[1].Type)
	assert.Equal(t, 3, events[1].Records)
	assert.Equal(t, DeliveryEventDelivered, events[2].Type)
	assert.Equal(t, 1, events[2].Records)
}
