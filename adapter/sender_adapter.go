package adapter

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/davidoram/httpsink/configuration"
	"github.com/davidoram/httpsink/core"
	"github.com/davidoram/httpsink/view"
	"github.com/pkg/errors"
	"gopkg.in/guregu/null.v4"
)

// ConfigToRetryPolicy converts the retry configuration to a core.RetryPolicy
func ConfigToRetryPolicy(cfg configuration.Retry) (core.RetryPolicy, error) {
	policy := core.RetryPolicy{MaxRetries: cfg.MaxRetries}
	base := time.Duration(cfg.BaseDelayMs) * time.Millisecond
	switch cfg.Algorithm {
	case core.RetrierExponential, "":
		policy.Retrier = core.ExponentialRetrier{Base: base, Max: time.Duration(cfg.MaxDelayMs) * time.Millisecond}
	case core.RetrierFixed:
		policy.Retrier = core.FixedRetrier{Duration: base}
	default:
		return policy, fmt.Errorf("missing or invalid retry algorithm: '%s'", cfg.Algorithm)
	}
	return policy, nil
}

// ConfigToAuthorizer builds the Authorizer selected by authorization.type. client is used to call
// the OAuth2 token endpoint, with the same retry policy as deliveries.
func ConfigToAuthorizer(cfg configuration.HTTP, client *http.Client, policy core.RetryPolicy, metrics *core.Metrics, logger *slog.Logger) (core.Authorizer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Authorization.Type {
	case core.AuthorizationNone, "":
		return core.NoAuthorization{}, nil
	case core.AuthorizationStatic:
		return core.StaticAuthorization{Value: cfg.Headers.Authorization}, nil
	case core.AuthorizationOAuth2:
		o := cfg.Authorization.OAuth2
		auth, err := core.NewOAuth2Authorization(core.OAuth2Config{
			TokenURL:      o.TokenURL,
			ClientID:      o.ClientID,
			ClientSecret:  o.ClientSecret,
			Scopes:        o.Scopes,
			AuthStyle:     o.ClientAuthMode,
			RefreshMargin: time.Duration(o.RefreshMarginSeconds) * time.Second,
		}, client, policy)
		if err != nil {
			return nil, err
		}
		return auth.WithLogger(logger).WithMetrics(metrics), nil
	default:
		return nil, fmt.Errorf("invalid authorization type: '%s'", cfg.Authorization.Type)
	}
}

// ConfigToHTTPSender converts the configuration to a core.HTTPSender
func ConfigToHTTPSender(cfg *configuration.Config, metrics *core.Metrics, logger *slog.Logger) (*core.HTTPSender, error) {
	if logger == nil {
		logger = slog.Default()
	}
	target, ok := core.ParseDestination(cfg.HTTP.URL)
	if !ok {
		return nil, errors.Errorf("invalid http url: '%s'", cfg.HTTP.URL)
	}
	policy, err := ConfigToRetryPolicy(cfg.Retry)
	if err != nil {
		return nil, err
	}

	client := core.NewHTTPClient(time.Duration(cfg.HTTP.TimeoutMs) * time.Millisecond)
	auth, err := ConfigToAuthorizer(cfg.HTTP, client, policy, metrics, logger)
	if err != nil {
		return nil, err
	}

	sender := core.NewHTTPSender(target).
		WithTransport(core.NewHTTPTransport(client).WithRateLimit(cfg.HTTP.RateLimit, cfg.HTTP.RateBurst)).
		WithLogger(logger).
		WithMetrics(metrics)
	sender.Method = cfg.HTTP.Method
	sender.ContentType = cfg.HTTP.Headers.ContentType
	sender.Authorizer = auth
	sender.Policy = policy

	// Convert the Headers
	for _, header := range cfg.HTTP.Headers.Additional {
		name, value, err := configuration.SplitHeader(header)
		if err != nil {
			return nil, err
		}
		sender.Headers.Add(name, value)
	}
	return sender, nil
}

// ConfigToCoreConfig converts the batching and delivery configuration to a core.Config
func ConfigToCoreConfig(cfg *configuration.Config) core.Config {
	c := core.DefaultConfig()
	c.Mode = core.Mode(cfg.Batch.Mode)
	c.MaxBatchSize = cfg.Batch.MaxSize
	c.MaxBatchBytes = cfg.Batch.MaxBytes
	c.Format = core.BatchFormat{Prefix: cfg.Batch.Prefix, Suffix: cfg.Batch.Suffix, Separator: cfg.Batch.Separator}
	c.OverrideHeader = cfg.HTTP.OverrideHeader
	c.Parallelism = cfg.Delivery.Parallelism
	c.FailFast = cfg.Delivery.FailFast
	c.BatchSize = cfg.Kafka.PollBatchSize
	return c.WithMaxWait(time.Duration(cfg.Kafka.MaxWaitMs) * time.Millisecond)
}

// ConfigToRecordSender builds the RecordSender for the configured mode and converter
func ConfigToRecordSender(cfg *configuration.Config, sender *core.HTTPSender) (core.RecordSender, error) {
	converter, err := core.NewValueConverter(cfg.Delivery.Converter)
	if err != nil {
		return nil, err
	}
	return core.NewRecordSender(ConfigToCoreConfig(cfg), sender, converter), nil
}

// CoreToViewSender describes sender for the admin API. Header values are redacted.
func CoreToViewSender(cfg core.Config, sender *core.HTTPSender, converter string) view.Sender {
	vs := view.Sender{
		Method:         sender.Method,
		ContentType:    sender.ContentType,
		Headers:        []string{},
		OverrideHeader: cfg.OverrideHeader,
		Converter:      converter,
		Parallelism:    cfg.Parallelism,
		FailFast:       cfg.FailFast,
	}
	if sender.URL != nil {
		vs.URL = sender.URL.Redacted()
	}
	for key := range sender.Headers {
		vs.Headers = append(vs.Headers, fmt.Sprintf("%s:%s", key, "***"))
	}
	sort.Strings(vs.Headers)
	if sender.Authorizer != nil {
		vs.Authorization.Type = sender.Authorizer.Type()
	}

	// Convert the retrier config
	vs.Retry.MaxRetries = sender.Policy.MaxRetries
	switch retrier := sender.Policy.Retrier.(type) {
	case core.ExponentialRetrier:
		vs.Retry.Algorithm = retrier.Name()
		vs.Retry.BaseDelay = retrier.Base.String()
		if retrier.Max > 0 {
			vs.Retry.MaxDelay = retrier.Max.String()
		}
	case core.FixedRetrier:
		vs.Retry.Algorithm = retrier.Name()
		vs.Retry.Interval = retrier.Duration.String()
	case nil:
		vs.Retry.Algorithm = core.RetrierExponential
	default:
		vs.Retry.Algorithm = retrier.Name()
	}

	vs.Batch.Mode = string(cfg.Mode)
	if cfg.Mode == core.ModeBatch {
		vs.Batch.MaxSize = null.IntFrom(int64(cfg.MaxBatchSize))
		vs.Batch.MaxBytes = null.NewInt(int64(cfg.MaxBatchBytes), cfg.MaxBatchBytes > 0)
		vs.Batch.Prefix = cfg.Format.Prefix
		vs.Batch.Suffix = cfg.Format.Suffix
		vs.Batch.Separator = cfg.Format.Separator
	}
	return vs
}

// CoreToViewFailures converts a page of the failure journal
func CoreToViewFailures(failures []core.Failure, offset, limit, total int64) view.FailureCollection {
	out := make([]view.Failure, 0, len(failures))
	for _, f := range failures {
		out = append(out, view.Failure{
			ID:          f.ID,
			Topic:       f.Topic,
			Partition:   f.Partition,
			Offset:      f.Offset,
			Destination: f.Destination,
			Attempts:    f.Attempts,
			StatusCode:  null.NewInt(int64(f.StatusCode), f.StatusCode != 0),
			Error:       f.Error,
			CreatedAt:   f.CreatedAt,
		})
	}
	return view.NewFailureCollection(out, offset, limit, total)
}
