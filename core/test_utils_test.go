package core

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// sleepRecorder is a Sleeper that returns immediately and remembers the delays it was asked for
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

type receivedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   string
}

// testDestination is an HTTP endpoint that records every request. It answers with the queued
// statuses in order, then with 200.
type testDestination struct {
	server *httptest.Server

	mu         sync.Mutex
	requests   []receivedRequest
	statuses   []int
	retryAfter string
	onRequest  func(receivedRequest)
}

func newTestDestination(t *testing.T, statuses ...int) *testDestination {
	d := &testDestination{statuses: statuses}
	d.server = httptest.NewServer(http.HandlerFunc(d.handle))
	t.Cleanup(d.server.Close)
	return d
}

func (d *testDestination) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	req := receivedRequest{Method: r.Method, Path: r.URL.Path, Header: r.Header.Clone(), Body: string(body)}

	d.mu.Lock()
	d.requests = append(d.requests, req)
	status := http.StatusOK
	if len(d.statuses) > 0 {
		status = d.statuses[0]
		d.statuses = d.statuses[1:]
	}
	retryAfter := d.retryAfter
	hook := d.onRequest
	d.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if retryAfter != "" && (status == http.StatusTooManyRequests || status >= 500) {
		w.Header().Set("Retry-After", retryAfter)
	}
	w.WriteHeader(status)
	fmt.Fprintf(w, "status %s", strconv.Itoa(status))
}

func (d *testDestination) SetRetryAfter(value string) {
	d.mu.Lock()
	d.retryAfter = value
	d.mu.Unlock()
}

func (d *testDestination) OnRequest(hook func(receivedRequest)) {
	d.mu.Lock()
	d.onRequest = hook
	d.mu.Unlock()
}

func (d *testDestination) URL(path string) *url.URL {
	u, err := url.Parse(d.server.URL + path)
	if err != nil {
		panic(err)
	}
	return u
}

func (d *testDestination) Requests() []receivedRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]receivedRequest(nil), d.requests...)
}

func (d *testDestination) Bodies() []string {
	bodies := []string{}
	for _, r := range d.Requests() {
		bodies = append(bodies, r.Body)
	}
	return bodies
}

// newTestSender returns an HTTPSender for dest with instant backoff
func newTestSender(dest *url.URL, maxRetries int) (*HTTPSender, *sleepRecorder) {
	rec := &sleepRecorder{}
	s := NewHTTPSender(dest)
	s.Policy = RetryPolicy{MaxRetries: maxRetries, Retrier: ExponentialRetrier{Base: time.Millisecond, Max: 8 * time.Millisecond}}
	s.sleep = rec.Sleep
	return s, rec
}
