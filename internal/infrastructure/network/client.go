package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"affsync/internal/domain"
	"affsync/pkg/logger"
	"affsync/pkg/metrics"
)

// apiClient is the HTTP client shared by one adapter. Its limiter has a
// burst of one, so successive calls are spaced by at least the configured
// delay.
//
// stream serves long downloads. It has no overall deadline: the response
// headers must arrive within timeout, and each read of the body must make
// progress within timeout. Time the caller spends between reads is not
// counted.
type apiClient struct {
	client      *http.Client
	stream      *http.Client
	readTimeout time.Duration
	limiter     *rate.Limiter
	network     domain.Network
	logger      *logger.Logger
	metrics     *metrics.Metrics
}

// creates a client enforcing delay between calls
func newAPIClient(network domain.Network, delay, timeout time.Duration, logger *logger.Logger, metrics *metrics.Metrics) *apiClient {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &apiClient{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		stream: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				MaxIdleConnsPerHost:   2,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: timeout,
			},
		},
		readTimeout: timeout,
		limiter:     rate.NewLimiter(limit, 1),
		network:     network,
		logger:      logger,
		metrics:     metrics,
	}
}

// do sends the request after the rate delay and returns the body of a 2xx
// response
func (c *apiClient) do(ctx context.Context, req *http.Request, op string) ([]byte, error) {
	body, err := c.open(ctx, req, op)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		c.metrics.RecordExternalAPIFailure(c.api(op), "read_body")
		return nil, fmt.Errorf("failed to read %s response body: %w", op, err)
	}
	return data, nil
}

// open is do for streamed bodies; the caller closes the reader
func (c *apiClient) open(ctx context.Context, req *http.Request, op string) (io.ReadCloser, error) {
	return c.send(ctx, c.client, req, op)
}

// openStream is open for downloads that may outlast the request timeout.
// A read that stalls longer than the timeout aborts the download.
func (c *apiClient) openStream(ctx context.Context, req *http.Request, op string) (io.ReadCloser, error) {
	ctx, cancel := context.WithCancel(ctx)
	body, err := c.send(ctx, c.stream, req, op)
	if err != nil {
		cancel()
		return nil, err
	}
	return &stallReader{body: body, cancel: cancel, timeout: c.readTimeout}, nil
}

func (c *apiClient) send(ctx context.Context, client *http.Client, req *http.Request, op string) (io.ReadCloser, error) {
	api := c.api(op)

	if err := c.limiter.Wait(ctx); err != nil {
		c.metrics.RecordExternalAPIFailure(api, "rate_limit")
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	start := time.Now()
	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		c.metrics.RecordExternalAPIFailure(api, "network_error")
		return nil, fmt.Errorf("failed to call %s: %w", op, err)
	}

	duration := time.Since(start)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		c.metrics.RecordExternalAPICall(api, fmt.Sprintf("error_%d", resp.StatusCode), duration)
		return nil, fmt.Errorf("%s returned status %d: %s", op, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	c.metrics.RecordExternalAPICall(api, "success", duration)
	c.logger.WithContext(ctx).WithFields(map[string]any{
		"network":  c.network,
		"op":       op,
		"url":      req.URL.Redacted(),
		"duration": duration,
	}).Debug("Network call succeeded")

	return resp.Body, nil
}

// getJSON fetches url and decodes the JSON body into out
func (c *apiClient) getJSON(ctx context.Context, url, op string, headers http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.metrics.RecordExternalAPIFailure(c.api(op), "request_creation")
		return fmt.Errorf("failed to create request: %w", err)
	}
	setHeaders(req, headers)
	req.Header.Set("Accept", "application/json")

	body, err := c.do(ctx, req, op)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		c.metrics.RecordExternalAPIFailure(c.api(op), "json_parse")
		return fmt.Errorf("failed to parse %s response: %w", op, err)
	}
	return nil
}

// postJSON sends payload as JSON and decodes the JSON response into out
func (c *apiClient) postJSON(ctx context.Context, url, op string, headers http.Header, payload, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		c.metrics.RecordExternalAPIFailure(c.api(op), "json_marshal")
		return fmt.Errorf("failed to marshal %s payload: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		c.metrics.RecordExternalAPIFailure(c.api(op), "request_creation")
		return fmt.Errorf("failed to create request: %w", err)
	}
	setHeaders(req, headers)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	body, err := c.do(ctx, req, op)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		c.metrics.RecordExternalAPIFailure(c.api(op), "json_parse")
		return fmt.Errorf("failed to parse %s response: %w", op, err)
	}
	return nil
}

// getXML fetches url and decodes the XML body into out, honoring the
// document's declared charset
func (c *apiClient) getXML(ctx context.Context, url, op string, headers http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.metrics.RecordExternalAPIFailure(c.api(op), "request_creation")
		return fmt.Errorf("failed to create request: %w", err)
	}
	setHeaders(req, headers)
	req.Header.Set("Accept", "application/xml")

	body, err := c.do(ctx, req, op)
	if err != nil {
		return err
	}
	if err := decodeXML(body, out); err != nil {
		c.metrics.RecordExternalAPIFailure(c.api(op), "xml_parse")
		return fmt.Errorf("failed to parse %s response: %w", op, err)
	}
	return nil
}

// stallReader cancels its request when a single Read blocks for longer
// than timeout
type stallReader struct {
	body    io.ReadCloser
	cancel  context.CancelFunc
	timeout time.Duration
	stalled atomic.Bool
}

func (r *stallReader) Read(p []byte) (int, error) {
	if r.timeout <= 0 {
		return r.body.Read(p)
	}
	timer := time.AfterFunc(r.timeout, func() {
		r.stalled.Store(true)
		r.cancel()
	})
	n, err := r.body.Read(p)
	timer.Stop()
	if err != nil && err != io.EOF && r.stalled.Load() {
		return n, fmt.Errorf("no data received for %s: %w", r.timeout, err)
	}
	return n, err
}

func (r *stallReader) Close() error {
	r.cancel()
	return r.body.Close()
}

func (c *apiClient) api(op string) string {
	return string(c.network) + "_" + op
}

func setHeaders(req *http.Request, headers http.Header) {
	for k, values := range headers {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": {"Bearer " + token}}
}
