package core

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// HTTPSender delivers one request body to one destination, driving the Transport with the
// RetryPolicy until a terminal outcome is reached
type HTTPSender struct {
	URL         *url.URL // default destination
	Method      string
	ContentType string
	Headers     http.Header // sent with every request
	Authorizer  Authorizer
	Policy      RetryPolicy

	transport Transport
	sleep     Sleeper
	logger    *slog.Logger
	metrics   *Metrics
	listeners []DeliveryListener
}

// deliveryAttempt is the state of one Send call, it is never persisted
type deliveryAttempt struct {
	id       uuid.UUID
	dest     string
	records  int
	body     []byte
	attempts int
	started  time.Time
}

// NewHTTPSender creates a sender for defaultURL using POST, no authorization, a default retry
// policy and an HTTPTransport with the default client
func NewHTTPSender(defaultURL *url.URL) *HTTPSender {
	return &HTTPSender{
		URL:        defaultURL,
		Method:     http.MethodPost,
		Headers:    http.Header{},
		Authorizer: NoAuthorization{},
		Policy:     RetryPolicy{MaxRetries: 5, Retrier: ExponentialRetrier{}},
		transport:  NewHTTPTransport(nil),
		sleep:      SleepContext,
		logger:     slog.Default(),
	}
}

func (s *HTTPSender) WithTransport(t Transport) *HTTPSender {
	s.transport = t
	return s
}

func (s *HTTPSender) WithLogger(logger *slog.Logger) *HTTPSender {
	s.logger = logger
	return s
}

func (s *HTTPSender) WithMetrics(m *Metrics) *HTTPSender {
	s.metrics = m
	return s
}

func (s *HTTPSender) AddListener(l DeliveryListener) {
	s.listeners = append(s.listeners, l)
}

func (s *HTTPSender) emit(event DeliveryEvent) {
	event.CreatedAt = time.Now().UTC()
	for _, l := range s.listeners {
		l.DeliveryEvent(event)
	}
}

// Send delivers body to dest, or to the default URL when dest is nil. It returns the number of
// attempts made and nil once a 2xx was observed. Otherwise the error is a *DeliveryError, or wraps
// ErrNotDelivered when ctx ended before the policy reached a terminal decision.
func (s *HTTPSender) Send(ctx context.Context, body []byte, dest *url.URL) (int, error) {
	return s.SendRecords(ctx, body, dest, 1)
}

// SendRecords is Send for a body carrying records records, the count is reported in events and logs
func (s *HTTPSender) SendRecords(ctx context.Context, body []byte, dest *url.URL, records int) (int, error) {
	if dest == nil {
		dest = s.URL
	}
	da := &deliveryAttempt{id: uuid.New(), dest: dest.String(), records: records, body: body, started: time.Now()}
	logger := s.logger.With(slog.String("delivery_id", da.id.String()), slog.String("destination", da.dest), slog.Int("records", records))
	stopTimer := s.metrics.deliveryTimer()
	defer stopTimer()

	op := func(ctx context.Context) (*Response, error) {
		da.attempts++
		auth, err := s.Authorizer.Authorization(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := s.transport.Execute(ctx, &Request{
			Method: s.method(),
			URL:    da.dest,
			Header: s.header(auth),
			Body:   da.body,
		})
		if err != nil {
			s.metrics.request(0)
			logger.Debug("attempt failed", slog.Int("attempt", da.attempts), slog.Any("error", err))
			return nil, err
		}
		s.metrics.request(resp.StatusCode)
		logger.Debug("attempt complete", slog.Int("attempt", da.attempts), slog.Int("status", resp.StatusCode))
		if resp.StatusCode == http.StatusUnauthorized {
			if inv, ok := s.Authorizer.(invalidator); ok {
				inv.Invalidate()
			}
		}
		return resp, nil
	}

	observe := func(retry int, delay time.Duration, resp *Response, err error) {
		s.metrics.retry()
		event := DeliveryEvent{Type: DeliveryEventRetry, DeliveryID: da.id, Destination: da.dest, Records: da.records, Attempt: da.attempts, Delay: delay, Error: err}
		attrs := []any{slog.Int("attempt", da.attempts), slog.Duration("delay", delay)}
		if resp != nil {
			event.StatusCode = resp.StatusCode
			attrs = append(attrs, slog.Int("status", resp.StatusCode))
		}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
		}
		logger.Info("delivery failed, retrying", attrs...)
		s.emit(event)
	}

	resp, attempts, err := s.Policy.Retry(ctx, s.sleep, op, observe)
	elapsed := slog.Duration("elapsed", time.Since(da.started))
	if err == nil {
		logger.Info("delivered", slog.Int("attempts", attempts), slog.Int("status", resp.StatusCode), elapsed)
		s.emit(DeliveryEvent{Type: DeliveryEventDelivered, DeliveryID: da.id, Destination: da.dest, Records: da.records, Attempt: attempts, StatusCode: resp.StatusCode})
		return attempts, nil
	}

	if errors.Is(err, ErrNotDelivered) || (ctx.Err() != nil && errors.Is(err, ctx.Err())) {
		if !errors.Is(err, ErrNotDelivered) {
			err = errors.Wrapf(ErrNotDelivered, "stopped: %v", err)
		}
		logger.Info("delivery abandoned", slog.Int("attempts", attempts), slog.Any("error", err), elapsed)
		s.emit(DeliveryEvent{Type: DeliveryEventNotDelivered, DeliveryID: da.id, Destination: da.dest, Records: da.records, Attempt: attempts, Error: err})
		return attempts, err
	}

	derr := &DeliveryError{Destination: da.dest, Attempts: attempts, Cause: err}
	if resp != nil {
		derr.StatusCode = resp.StatusCode
		derr.Body = string(resp.Body)
	}
	logger.Error("delivery failed", slog.Int("attempts", attempts), slog.Int("status", derr.StatusCode), slog.Any("error", err), elapsed)
	s.emit(DeliveryEvent{Type: DeliveryEventFailed, DeliveryID: da.id, Destination: da.dest, Records: da.records, Attempt: attempts, StatusCode: derr.StatusCode, Error: derr})
	return attempts, derr
}

func (s *HTTPSender) method() string {
	if s.Method == "" {
		return http.MethodPost
	}
	return s.Method
}

func (s *HTTPSender) header(auth string) http.Header {
	h := http.Header{}
	for k, values := range s.Headers {
		for _, v := range values {
			h.Add(k, v)
		}
	}
	if s.ContentType != "" {
		h.Set("Content-Type", s.ContentType)
	}
	if auth != "" {
		h.Set("Authorization", auth)
	}
	return h
}
