package main

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/matheus3301/deskcache/internal/api"
)

// daemonClient talks to a running deskcached over its HTTP API.
type daemonClient struct {
	http *resty.Client
}

func newDaemonClient(baseURL string, timeout time.Duration) *daemonClient {
	return &daemonClient{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}
}

// call issues method on path and decodes a 2xx body into out. Non-2xx
// answers become an error carrying the daemon's error code.
func (c *daemonClient) call(ctx context.Context, method, path string, query url.Values, out any) error {
	req := c.http.R().
		SetContext(ctx).
		SetError(&api.ErrorResponse{})
	if query != nil {
		req.SetQueryParamsFromValues(query)
	}
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("cannot reach daemon at %s: %w", c.http.BaseURL, err)
	}
	if resp.IsError() {
		return responseError(resp)
	}
	return nil
}

// raw issues a GET and returns the body untouched.
func (c *daemonClient) raw(ctx context.Context, path string, query url.Values) (int, []byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParamsFromValues(query).
		Get(path)
	if err != nil {
		return 0, nil, fmt.Errorf("cannot reach daemon at %s: %w", c.http.BaseURL, err)
	}
	return resp.StatusCode(), resp.Body(), nil
}

func responseError(resp *resty.Response) error {
	if e, ok := resp.Error().(*api.ErrorResponse); ok && e.Code != "" {
		if e.Message != "" {
			return fmt.Errorf("%s (HTTP %d): %s", e.Code, resp.StatusCode(), e.Message)
		}
		return fmt.Errorf("%s (HTTP %d)", e.Code, resp.StatusCode())
	}
	return fmt.Errorf("daemon answered HTTP %d", resp.StatusCode())
}
