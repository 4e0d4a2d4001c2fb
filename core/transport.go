package core

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// maxResponseBody bounds how much of a response body is kept for logging and errors
const maxResponseBody = 64 * 1024

// Request is one outbound call
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is what came back from one call
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport executes a single request attempt. It never retries.
// A network level fault is returned as a *TransportFailure.
type Transport interface {
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// HTTPTransport is the Transport backed by an *http.Client. Once a request has been handed to the
// client it runs to completion even if ctx is cancelled, bounded by the client timeout.
type HTTPTransport struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPTransport uses client to send requests, or a client from NewHTTPClient when nil
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = NewHTTPClient(30 * time.Second)
	}
	return &HTTPTransport{client: client}
}

// WithRateLimit throttles requests to rps per second with the given burst
func (t *HTTPTransport) WithRateLimit(rps float64, burst int) *HTTPTransport {
	if rps <= 0 {
		t.limiter = nil
		return t
	}
	if burst < 1 {
		burst = 1
	}
	t.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	return t
}

// NewHTTPClient creates an HTTP client that enforces TLS verification and applies timeout to each
// request, connect and read included
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: false,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

func (t *HTTPTransport) Execute(ctx context.Context, req *Request) (*Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "rate limiter")
		}
	}

	httpReq, err := http.NewRequestWithContext(context.WithoutCancel(ctx), req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	for k, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, &TransportFailure{Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &TransportFailure{Cause: errors.Wrap(err, "read response body")}
	}
	// Drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}
