package tracking

import (
	"net/url"
	"time"

	"github.com/YuminosukeSato/mltrack/pkg/config"
	"github.com/YuminosukeSato/mltrack/pkg/errors"
)

// DefaultUserName is recorded when neither MLTRACK_USER nor USER is set.
const DefaultUserName = "user_name"

// Config holds the tracking client settings. Variable names follow the
// MLflow client where one exists.
type Config struct {
	TrackingURI    string        `env:"MLFLOW_TRACKING_URI" envDefault:"http://localhost:5000"`
	Token          string        `env:"MLFLOW_TRACKING_TOKEN"`
	Username       string        `env:"MLFLOW_TRACKING_USERNAME"`
	Password       string        `env:"MLFLOW_TRACKING_PASSWORD"`
	InsecureTLS    bool          `env:"MLFLOW_TRACKING_INSECURE_TLS"`
	RequestTimeout time.Duration `env:"MLFLOW_HTTP_REQUEST_TIMEOUT" envDefault:"120s"`
	MaxRetries     uint          `env:"MLFLOW_HTTP_REQUEST_MAX_RETRIES" envDefault:"5"`
	RetryDelay     time.Duration `env:"MLTRACK_RETRY_DELAY" envDefault:"1s"`

	S3EndpointURL string `env:"MLFLOW_S3_ENDPOINT_URL"`
	AWSRegion     string `env:"AWS_REGION" envDefault:"us-east-1"`

	User       string `env:"MLTRACK_USER"`
	SystemUser string `env:"USER"`

	ArtefactRoot string `env:"MLTRACK_ARTEFACT_ROOT" envDefault:"run_custom_artefacts"`
	LogLevel     string `env:"MLTRACK_LOG_LEVEL" envDefault:"info"`
}

// NewConfigFromEnv reads Config from the environment and CONFIG_DIR.
func NewConfigFromEnv() (*Config, error) {
	var cfg Config
	if err := config.Parse(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the tracking URI and retry settings.
func (c *Config) Validate() error {
	u, err := url.Parse(c.TrackingURI)
	if err != nil {
		return errors.NewValidationError("MLFLOW_TRACKING_URI", err.Error(), c.TrackingURI)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.NewValidationError("MLFLOW_TRACKING_URI", "only http and https tracking servers are supported", c.TrackingURI)
	}
	if u.Host == "" {
		return errors.NewValidationError("MLFLOW_TRACKING_URI", "missing host", c.TrackingURI)
	}
	if c.RequestTimeout < 0 {
		return errors.NewValidationError("MLFLOW_HTTP_REQUEST_TIMEOUT", "must not be negative", c.RequestTimeout)
	}
	if c.RetryDelay < 0 {
		return errors.NewValidationError("MLTRACK_RETRY_DELAY", "must not be negative", c.RetryDelay)
	}
	return nil
}

// UserName is the user id recorded on new runs.
func (c *Config) UserName() string {
	switch {
	case c.User != "":
		return c.User
	case c.SystemUser != "":
		return c.SystemUser
	default:
		return DefaultUserName
	}
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() *Config {
	return &Config{
		TrackingURI:    "http://localhost:5000",
		RequestTimeout: 120 * time.Second,
		MaxRetries:     5,
		RetryDelay:     time.Second,
		AWSRegion:      "us-east-1",
		ArtefactRoot:   "run_custom_artefacts",
		LogLevel:       "info",
	}
}
