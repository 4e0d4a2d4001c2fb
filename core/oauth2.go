package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

// DefaultRefreshMargin is how long before expiry a cached token is refreshed
const DefaultRefreshMargin = 30 * time.Second

const (
	OAuth2CredentialsInHeader = "header"
	OAuth2CredentialsInURL    = "url"
)

// OAuth2Config configures the client credentials flow
type OAuth2Config struct {
	TokenURL      string
	ClientID      string
	ClientSecret  string
	Scopes        []string
	AuthStyle     string        // OAuth2CredentialsInHeader (default) or OAuth2CredentialsInURL
	RefreshMargin time.Duration // zero means DefaultRefreshMargin
}

// OAuth2Authorization obtains bearer tokens with the client credentials flow and caches them until
// they get within the refresh margin of their expiry. Concurrent callers needing a refresh share a
// single in-flight token request and all observe its result. Token endpoint failures are retried
// with the delivery RetryPolicy; a failure is not cached, the next caller tries again.
type OAuth2Authorization struct {
	fetch  func(ctx context.Context) (*oauth2.Token, error)
	policy RetryPolicy
	margin time.Duration

	sleep   Sleeper
	now     func() time.Time
	logger  *slog.Logger
	metrics *Metrics

	flight singleflight.Group
	mu     sync.RWMutex
	token  *oauth2.Token

	// flightCtx lives while at least one caller waits on the refresh
	flightMu     sync.Mutex
	waiters      int
	flightCtx    context.Context
	cancelFlight context.CancelFunc
}

// NewOAuth2Authorization builds the authorizer. client is used to call the token endpoint.
func NewOAuth2Authorization(cfg OAuth2Config, client *http.Client, policy RetryPolicy) (*OAuth2Authorization, error) {
	if cfg.TokenURL == "" {
		return nil, errors.New("oauth2 token url is required")
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("oauth2 client id and secret are required")
	}
	style := oauth2.AuthStyleInHeader
	switch cfg.AuthStyle {
	case OAuth2CredentialsInHeader, "":
	case OAuth2CredentialsInURL:
		style = oauth2.AuthStyleInParams
	default:
		return nil, fmt.Errorf("unknown oauth2 client authorization mode: '%s'", cfg.AuthStyle)
	}
	if client == nil {
		client = NewHTTPClient(30 * time.Second)
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
		AuthStyle:    style,
	}
	fetch := func(ctx context.Context) (*oauth2.Token, error) {
		return cc.Token(context.WithValue(ctx, oauth2.HTTPClient, client))
	}
	return newOAuth2Authorization(fetch, policy, cfg.RefreshMargin), nil
}

func newOAuth2Authorization(fetch func(ctx context.Context) (*oauth2.Token, error), policy RetryPolicy, margin time.Duration) *OAuth2Authorization {
	if margin <= 0 {
		margin = DefaultRefreshMargin
	}
	return &OAuth2Authorization{
		fetch:  fetch,
		policy: policy,
		margin: margin,
		sleep:  SleepContext,
		now:    time.Now,
		logger: slog.Default(),
	}
}

// WithLogger sets the logger used to report refreshes
func (a *OAuth2Authorization) WithLogger(logger *slog.Logger) *OAuth2Authorization {
	a.logger = logger
	return a
}

// WithMetrics records refresh outcomes in m
func (a *OAuth2Authorization) WithMetrics(m *Metrics) *OAuth2Authorization {
	a.metrics = m
	return a
}

func (a *OAuth2Authorization) Type() string { return AuthorizationOAuth2 }

// Authorization returns "<type> <access token>", refreshing the token first when needed
func (a *OAuth2Authorization) Authorization(ctx context.Context) (string, error) {
	if tok := a.cached(); tok != nil {
		return headerValue(tok), nil
	}

	// The refresh is shared, so it ends only once every waiting caller has gone
	fctx := a.join(ctx)
	defer a.leave()
	for {
		ch := a.flight.DoChan("token", func() (any, error) {
			return a.refresh(fctx)
		})
		select {
		case res := <-ch:
			if res.Err != nil {
				// Joined a flight abandoned by its earlier waiters, start another
				if errors.Is(res.Err, ErrNotDelivered) && ctx.Err() == nil && fctx.Err() == nil {
					continue
				}
				return "", &AuthError{Cause: res.Err}
			}
			return headerValue(res.Val.(*oauth2.Token)), nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (a *OAuth2Authorization) join(ctx context.Context) context.Context {
	a.flightMu.Lock()
	defer a.flightMu.Unlock()
	if a.cancelFlight == nil {
		a.flightCtx, a.cancelFlight = context.WithCancel(context.WithoutCancel(ctx))
	}
	a.waiters++
	return a.flightCtx
}

func (a *OAuth2Authorization) leave() {
	a.flightMu.Lock()
	defer a.flightMu.Unlock()
	a.waiters--
	if a.waiters == 0 {
		a.cancelFlight()
		a.flightCtx, a.cancelFlight = nil, nil
	}
}

// Invalidate drops the cached token so the next caller refreshes it
func (a *OAuth2Authorization) Invalidate() {
	a.mu.Lock()
	a.token = nil
	a.mu.Unlock()
}

func (a *OAuth2Authorization) cached() *oauth2.Token {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.fresh(a.token) {
		return a.token
	}
	return nil
}

func (a *OAuth2Authorization) fresh(tok *oauth2.Token) bool {
	if tok == nil || tok.AccessToken == "" {
		return false
	}
	if tok.Expiry.IsZero() {
		return true
	}
	return a.now().Add(a.margin).Before(tok.Expiry)
}

func (a *OAuth2Authorization) refresh(ctx context.Context) (*oauth2.Token, error) {
	// A flight that finished just before this one started may already have stored a token
	if tok := a.cached(); tok != nil {
		return tok, nil
	}

	var tok *oauth2.Token
	op := func(ctx context.Context) (*Response, error) {
		// A token request already sent completes, only further retries stop
		t, err := a.fetch(context.WithoutCancel(ctx))
		if err == nil {
			tok = t
			return &Response{StatusCode: http.StatusOK}, nil
		}
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return &Response{StatusCode: re.Response.StatusCode, Header: re.Response.Header, Body: re.Body}, nil
		}
		return nil, &TransportFailure{Cause: err}
	}
	observe := func(retry int, delay time.Duration, resp *Response, err error) {
		attrs := []any{slog.Int("retry", retry+1), slog.Duration("delay", delay)}
		if resp != nil {
			attrs = append(attrs, slog.Int("status", resp.StatusCode))
		}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
		}
		a.logger.Info("token request failed, retrying", attrs...)
	}

	_, attempts, err := a.policy.Retry(ctx, a.sleep, op, observe)
	if errors.Is(err, ErrNotDelivered) {
		a.logger.Info("token refresh abandoned", slog.Int("attempts", attempts), slog.Any("error", err))
		return nil, err
	}
	if err != nil {
		a.metrics.tokenRefresh(false)
		a.logger.Error("token refresh failed", slog.Int("attempts", attempts), slog.Any("error", err))
		return nil, errors.Wrap(err, "fetch oauth2 token")
	}

	a.mu.Lock()
	a.token = tok
	a.mu.Unlock()
	a.metrics.tokenRefresh(true)
	a.logger.Debug("token refreshed", slog.Int("attempts", attempts), slog.Time("expiry", tok.Expiry))
	return tok, nil
}

func headerValue(tok *oauth2.Token) string {
	return tok.Type() + " " + tok.AccessToken
}
