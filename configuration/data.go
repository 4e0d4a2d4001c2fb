// configuration package contains structs that map to the YAML configuration.
package configuration

import (
	"fmt"
	"strings"

	"github.com/asaskevich/govalidator"
	"github.com/davidoram/httpsink/logging"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, eg: HTTPSINK_HTTP_URL overrides http.url
const EnvPrefix = "HTTPSINK"

type Config struct {
	MetricsAddr string `mapstructure:"metrics_addr"`
	AdminAddr   string `mapstructure:"admin_addr"`

	Kafka    Kafka          `mapstructure:"kafka" valid:"required"`
	HTTP     HTTP           `mapstructure:"http" valid:"required"`
	Batch    Batch          `mapstructure:"batch"`
	Retry    Retry          `mapstructure:"retry"`
	Delivery Delivery       `mapstructure:"delivery"`
	Journal  Journal        `mapstructure:"journal"`
	Logger   logging.Config `mapstructure:"logger"`
}

type Kafka struct {
	BootstrapServers string   `mapstructure:"bootstrap_servers" valid:"required"`
	Topics           []string `mapstructure:"topics" valid:"required"`
	GroupID          string   `mapstructure:"group_id"`
	PollBatchSize    int      `mapstructure:"poll_batch_size" valid:"range(1|10000)"`
	MaxWaitMs        int      `mapstructure:"max_wait_ms" valid:"range(100|300000)"`
}

type HTTP struct {
	URL            string        `mapstructure:"url" valid:"url,required"`
	Method         string        `mapstructure:"method" valid:"in(POST|PUT|PATCH)"`
	TimeoutMs      int           `mapstructure:"timeout_ms" valid:"range(1|600000)"`
	RateLimit      float64       `mapstructure:"rate_limit"` // requests per second, 0 for unlimited
	RateBurst      int           `mapstructure:"rate_burst"`
	OverrideHeader string        `mapstructure:"override_header"`
	Headers        Headers       `mapstructure:"headers"`
	Authorization  Authorization `mapstructure:"authorization"`
}

type Headers struct {
	ContentType   string   `mapstructure:"content_type"`
	Authorization string   `mapstructure:"authorization"` // sent as is when authorization.type is static
	Additional    []string `mapstructure:"additional"`    // "Name:Value"
}

type Authorization struct {
	Type   string `mapstructure:"type" valid:"in(none|static|oauth2)"`
	OAuth2 OAuth2 `mapstructure:"oauth2"`
}

type OAuth2 struct {
	TokenURL             string   `mapstructure:"token_url"`
	ClientID             string   `mapstructure:"client_id"`
	ClientSecret         string   `mapstructure:"client_secret"`
	Scopes               []string `mapstructure:"scopes"`
	ClientAuthMode       string   `mapstructure:"client_auth_mode" valid:"in(header|url)"`
	RefreshMarginSeconds int      `mapstructure:"refresh_margin_seconds"`
}

type Batch struct {
	Mode      string `mapstructure:"mode" valid:"in(single|batch)"`
	MaxSize   int    `mapstructure:"max_size" valid:"range(1|10000)"`
	MaxBytes  int    `mapstructure:"max_bytes"`
	Prefix    string `mapstructure:"prefix"`
	Suffix    string `mapstructure:"suffix"`
	Separator string `mapstructure:"separator"`
}

type Retry struct {
	MaxRetries  int    `mapstructure:"max_retries" valid:"range(0|100)"`
	Algorithm   string `mapstructure:"algorithm" valid:"in(exponential_backoff|fixed)"`
	BaseDelayMs int    `mapstructure:"base_delay_ms"`
	MaxDelayMs  int    `mapstructure:"max_delay_ms"`
}

type Delivery struct {
	Converter   string `mapstructure:"converter" valid:"in(json|string|envelope)"`
	Parallelism int    `mapstructure:"parallelism" valid:"range(1|256)"`
	FailFast    bool   `mapstructure:"fail_fast"`
}

type Journal struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// SetDefaults registers every key with its default, so that environment overrides are seen for
// keys missing from the file
func SetDefaults(v *viper.Viper) {
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("admin_addr", ":8080")

	v.SetDefault("kafka.bootstrap_servers", "localhost:9092")
	v.SetDefault("kafka.topics", []string{})
	v.SetDefault("kafka.group_id", "httpsink")
	v.SetDefault("kafka.poll_batch_size", 100)
	v.SetDefault("kafka.max_wait_ms", 1000)

	v.SetDefault("http.url", "")
	v.SetDefault("http.method", "POST")
	v.SetDefault("http.timeout_ms", 30000)
	v.SetDefault("http.rate_limit", 0)
	v.SetDefault("http.rate_burst", 1)
	v.SetDefault("http.override_header", "custom_http_url")
	v.SetDefault("http.headers.content_type", "application/json")
	v.SetDefault("http.headers.authorization", "")
	v.SetDefault("http.headers.additional", []string{})
	v.SetDefault("http.authorization.type", "none")
	v.SetDefault("http.authorization.oauth2.token_url", "")
	v.SetDefault("http.authorization.oauth2.client_id", "")
	v.SetDefault("http.authorization.oauth2.client_secret", "")
	v.SetDefault("http.authorization.oauth2.scopes", []string{})
	v.SetDefault("http.authorization.oauth2.client_auth_mode", "header")
	v.SetDefault("http.authorization.oauth2.refresh_margin_seconds", 30)

	v.SetDefault("batch.mode", "single")
	v.SetDefault("batch.max_size", 500)
	v.SetDefault("batch.max_bytes", 0)
	v.SetDefault("batch.prefix", "")
	v.SetDefault("batch.suffix", "\n")
	v.SetDefault("batch.separator", "\n")

	v.SetDefault("retry.max_retries", 5)
	v.SetDefault("retry.algorithm", "exponential_backoff")
	v.SetDefault("retry.base_delay_ms", 1000)
	v.SetDefault("retry.max_delay_ms", 60000)

	v.SetDefault("delivery.converter", "json")
	v.SetDefault("delivery.parallelism", 1)
	v.SetDefault("delivery.fail_fast", true)

	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.path", "httpsink.db")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.enable_write_to_file", false)
	v.SetDefault("logger.file_path", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age_days", 28)
}

// NewViper returns a viper instance with defaults and environment overrides, reading cfgFile
// when it is not empty
func NewViper(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if strings.TrimSpace(cfgFile) != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

func New(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if _, err := govalidator.ValidateStruct(c); err != nil {
		return err
	}
	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("logger config: %w", err)
	}
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry config: %w", err)
	}
	if c.Batch.MaxBytes < 0 {
		return fmt.Errorf("batch config: max_bytes must be >= 0")
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return fmt.Errorf("journal config: path is required")
	}
	return nil
}

func (h *HTTP) Validate() error {
	if h.RateLimit < 0 {
		return fmt.Errorf("rate_limit must be >= 0")
	}
	for _, header := range h.Headers.Additional {
		if _, _, err := SplitHeader(header); err != nil {
			return err
		}
	}
	switch h.Authorization.Type {
	case "static":
		if h.Headers.Authorization == "" {
			return fmt.Errorf("headers.authorization is required for static authorization")
		}
	case "oauth2":
		o := h.Authorization.OAuth2
		if !govalidator.IsURL(o.TokenURL) {
			return fmt.Errorf("authorization.oauth2.token_url must be a url")
		}
		if o.ClientID == "" || o.ClientSecret == "" {
			return fmt.Errorf("authorization.oauth2.client_id and client_secret are required")
		}
		if o.RefreshMarginSeconds < 0 {
			return fmt.Errorf("authorization.oauth2.refresh_margin_seconds must be >= 0")
		}
	}
	return nil
}

func (r *Retry) Validate() error {
	if r.BaseDelayMs <= 0 {
		return fmt.Errorf("base_delay_ms must be > 0")
	}
	if r.MaxDelayMs < 0 {
		return fmt.Errorf("max_delay_ms must be >= 0")
	}
	if r.MaxDelayMs > 0 && r.MaxDelayMs < r.BaseDelayMs {
		return fmt.Errorf("max_delay_ms must be >= base_delay_ms")
	}
	return nil
}

// SplitHeader splits "Name:Value" into its parts
func SplitHeader(header string) (string, string, error) {
	name, value, ok := strings.Cut(header, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", "", fmt.Errorf("invalid header '%s', expected Name:Value", header)
	}
	return name, strings.TrimSpace(value), nil
}
