// Package tracking is a client for the MLflow tracking server REST API.
//
// It covers the calls needed to manage experiments and runs, log metrics,
// params and tags, and upload artifacts to the run's artifact store.
package tracking

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/YuminosukeSato/mltrack/pkg/errors"
	"github.com/YuminosukeSato/mltrack/pkg/log"
)

const (
	apiPrefix       = "/api/2.0/mlflow/"
	artifactsPrefix = "/api/2.0/mlflow-artifacts/artifacts/"
	userAgent       = "mltrack"
)

// Client talks to one tracking server. It is safe for concurrent use.
type Client struct {
	cfg     *Config
	baseURL *url.URL
	http    *http.Client
	logger  log.Logger
	metrics *clientMetrics
	fs      afero.Fs
	s3      s3manageriface.UploaderAPI
	s3Mu    sync.Mutex
	now     func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger replaces the package logger.
func WithLogger(l log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRegisterer registers the client metrics with reg instead of the
// default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Client) { c.metrics = newClientMetrics(reg) }
}

// WithFs sets the filesystem local artifacts are read from and, for file
// artifact stores, written to.
func WithFs(fs afero.Fs) Option {
	return func(c *Client) { c.fs = fs }
}

// WithS3Uploader sets the uploader used for s3:// artifact stores.
func WithS3Uploader(u s3manageriface.UploaderAPI) Option {
	return func(c *Client) { c.s3 = u }
}

// WithClock overrides the time source used for run and metric timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient builds a client for cfg. A nil cfg uses DefaultConfig.
func NewClient(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, _ := url.Parse(strings.TrimRight(cfg.TrackingURI, "/"))

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	c := &Client{
		cfg:     cfg,
		baseURL: base,
		http:    &http.Client{Timeout: cfg.RequestTimeout, Transport: transport},
		logger:  log.GetLoggerWithName("tracking"),
		fs:      afero.NewOsFs(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = newClientMetrics(prometheus.DefaultRegisterer)
	}
	c.logger = c.logger.With(log.TrackingURIKey, base.String())
	return c, nil
}

// Config returns the client settings.
func (c *Client) Config() *Config { return c.cfg }

// Fs returns the filesystem the client reads local artifacts from.
func (c *Client) Fs() afero.Fs { return c.fs }

// Now returns the client clock's current time.
func (c *Client) Now() time.Time { return c.now() }

func (c *Client) millis() int64 { return c.now().UnixMilli() }

// call sends a JSON request to an MLflow endpoint and decodes the answer
// into out when it is non-nil. Transport errors, 429 and 5xx are retried.
func (c *Client) call(ctx context.Context, op, method, endpoint string, query url.Values, in, out interface{}) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return errors.Wrapf(err, "%s: encode request", op)
		}
	}
	u := *c.baseURL
	u.Path += apiPrefix + endpoint
	if query != nil {
		u.RawQuery = query.Encode()
	}
	resp, err := c.do(ctx, op, endpoint, func() (*http.Request, error) {
		var r io.Reader
		if body != nil {
			r = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u.String(), r)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return errors.Wrapf(err, "%s: decode %s response", op, endpoint)
	}
	return nil
}

// do runs newRequest under the retry policy. The request is rebuilt for
// every attempt so the body is replayed. On success the caller owns the
// response body.
func (c *Client) do(ctx context.Context, op, endpoint string, newRequest func() (*http.Request, error)) (*http.Response, error) {
	started := time.Now()
	var (
		resp    *http.Response
		lastErr error
		status  int
		fatal   bool
	)
	retryErr := retry.Do(func() error {
		status = 0
		req, err := newRequest()
		if err != nil {
			fatal = true
			lastErr = errors.Wrapf(err, "%s: build request", op)
			return lastErr
		}
		c.authorize(req)
		r, err := c.http.Do(req)
		if err != nil {
			lastErr = errors.Wrapf(err, "%s: %s", op, endpoint)
			return lastErr
		}
		status = r.StatusCode
		if r.StatusCode < 200 || r.StatusCode >= 300 {
			lastErr = decodeError(op, endpoint, r)
			return lastErr
		}
		resp, lastErr = r, nil
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(c.cfg.MaxRetries+1),
		retry.Delay(c.cfg.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(func(err error) bool { return !fatal && retryable(err) }),
		retry.OnRetry(func(n uint, err error) {
			c.metrics.retries.WithLabelValues(endpoint).Inc()
			c.logger.Debug("retrying tracking request", err,
				log.EndpointKey, endpoint,
				log.AttemptKey, n+1,
			)
		}),
	)
	c.metrics.observe(endpoint, status, started)
	if lastErr == nil && retryErr != nil {
		lastErr = errors.Wrapf(retryErr, "%s: %s", op, endpoint)
	}
	if lastErr != nil {
		c.logger.Debug("tracking request failed", lastErr, log.EndpointKey, endpoint, log.StatusCodeKey, status)
		return nil, lastErr
	}
	return resp, nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	switch {
	case c.cfg.Token != "":
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	case c.cfg.Username != "" || c.cfg.Password != "":
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
}

// retryable reports whether err is worth another attempt: transport
// failures, 429 and 5xx.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var te *errors.TrackingError
	if errors.As(err, &te) {
		return te.Retryable()
	}
	return true
}

func decodeError(op, endpoint string, resp *http.Response) error {
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var e errorResponse
	if json.Unmarshal(raw, &e) != nil || (e.ErrorCode == "" && e.Message == "") {
		e.Message = strings.TrimSpace(string(raw))
	}
	return errors.NewTrackingError(op, endpoint, resp.StatusCode, e.ErrorCode, e.Message)
}
