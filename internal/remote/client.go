package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/matheus3301/deskcache/internal/config"
	"github.com/matheus3301/deskcache/internal/logging"
	"github.com/matheus3301/deskcache/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const userAgent = "deskcache/1.0"

// Options configures a Client.
type Options struct {
	BaseURL           string
	Token             string
	APIVersion        string
	CallTimeout       time.Duration
	PageSize          int
	RequestsPerSecond float64
	Burst             int
	Retry             RetryPolicy
}

// OptionsFromConfig maps the [remote] config section onto client options.
func OptionsFromConfig(cfg config.Remote) Options {
	return Options{
		BaseURL:           cfg.BaseURL,
		Token:             cfg.Token,
		APIVersion:        cfg.APIVersion,
		CallTimeout:       cfg.CallTimeout,
		PageSize:          cfg.PageSize,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		Retry: RetryPolicy{
			MaxAttempts:       cfg.MaxAttempts,
			InitialDelay:      cfg.BackoffInitial,
			MaxDelay:          cfg.BackoffMax,
			BackoffFactor:     cfg.BackoffFactor,
			MaxRateLimitWaits: cfg.MaxRateLimitWaits,
		},
	}
}

// Client wraps outbound calls to the support platform API. All calls made
// through one Client share a single token bucket.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	opts    Options
	logger  *zap.Logger
}

// New creates a client for opts.BaseURL.
func New(opts Options, logger *zap.Logger) *Client {
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry.MaxAttempts = 1
	}
	if opts.Burst < 1 {
		opts.Burst = 1
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}

	h := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "application/json").
		SetRetryCount(0)
	if opts.Token != "" {
		h.SetAuthToken(opts.Token)
	}
	if opts.APIVersion != "" {
		h.SetHeader("Intercom-Version", opts.APIVersion)
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &Client{
		http:    h,
		limiter: rate.NewLimiter(limit, opts.Burst),
		opts:    opts,
		logger:  logging.OrNop(logger),
	}
}

type request struct {
	op     string
	method string
	path   string
	query  url.Values
	body   any
}

// do runs req under the shared limiter and the retry policy. Transient
// failures consume the attempt budget; 429s consume the separate
// rate-limit wait budget.
func (c *Client) do(ctx context.Context, req request) (*resty.Response, error) {
	policy := c.opts.Retry
	attempts := 0
	waits := 0

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s: rate limiter: %w", req.op, err)
		}

		resp, err := c.once(ctx, req)
		if err == nil {
			return resp, nil
		}

		var rerr *Error
		if !errors.As(err, &rerr) {
			return nil, err
		}

		var delay time.Duration
		switch rerr.Kind {
		case KindRateLimited:
			waits++
			if waits > policy.MaxRateLimitWaits {
				return nil, err
			}
			delay = rerr.RetryAfter
			metrics.RemoteRetriesTotal.WithLabelValues(req.op, "rate_limited").Inc()
		case KindTransient:
			attempts++
			if attempts >= policy.MaxAttempts {
				return nil, fmt.Errorf("giving up after %d attempts: %w", attempts, err)
			}
			delay = policy.backoff(attempts)
			metrics.RemoteRetriesTotal.WithLabelValues(req.op, "transient").Inc()
		default:
			return nil, err
		}

		c.logger.Warn("retrying remote call",
			zap.String("operation", req.op),
			zap.Stringer("kind", rerr.Kind),
			zap.Int("attempt", attempts),
			zap.Int("rate_limit_waits", waits),
			zap.Duration("retry_delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%s: %w", req.op, ctx.Err())
		case <-timer.C:
		}
	}
}

// once performs a single attempt with the per-call timeout.
func (c *Client) once(ctx context.Context, req request) (*resty.Response, error) {
	callCtx := ctx
	if c.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.opts.CallTimeout)
		defer cancel()
	}

	r := c.http.R().SetContext(callCtx)
	if len(req.query) > 0 {
		r.SetQueryParamsFromValues(req.query)
	}
	if req.body != nil {
		r.SetHeader("Content-Type", "application/json").SetBody(req.body)
	}

	start := time.Now()
	resp, err := r.Execute(req.method, req.path)
	metrics.RemoteRequestDuration.WithLabelValues(req.op).Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			metrics.RemoteRequestsTotal.WithLabelValues(req.op, "cancelled").Inc()
			return nil, fmt.Errorf("%s: %w", req.op, ctx.Err())
		}
		metrics.RemoteRequestsTotal.WithLabelValues(req.op, KindTransient.String()).Inc()
		return nil, &Error{Op: req.op, Kind: KindTransient, Err: err}
	}

	kind := classifyStatus(resp.StatusCode())
	if kind == 0 {
		metrics.RemoteRequestsTotal.WithLabelValues(req.op, "ok").Inc()
		return resp, nil
	}
	metrics.RemoteRequestsTotal.WithLabelValues(req.op, kind.String()).Inc()

	rerr := &Error{
		Op:         req.op,
		Kind:       kind,
		StatusCode: resp.StatusCode(),
		Body:       resp.Body(),
	}
	if kind == KindRateLimited {
		delay, ok := serverDelay(resp.Header(), time.Now())
		if !ok {
			delay = c.opts.Retry.backoff(1)
		}
		rerr.RetryAfter = delay
	}
	return nil, rerr
}

// RawResponse is an unmodified remote response.
type RawResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Get issues a read-only request for path with params and returns the
// body verbatim. Non-2xx responses are returned as *Error carrying the
// remote body.
func (c *Client) Get(ctx context.Context, path string, params url.Values) (*RawResponse, error) {
	resp, err := c.do(ctx, request{op: "proxy", method: http.MethodGet, path: path, query: params})
	if err != nil {
		return nil, err
	}
	return &RawResponse{
		StatusCode:  resp.StatusCode(),
		ContentType: resp.Header().Get("Content-Type"),
		Body:        resp.Body(),
	}, nil
}
