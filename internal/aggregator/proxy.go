package aggregator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ProxyRequest describes one HTTP round trip against the aggregator.
type ProxyRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// ProxyResponse carries the raw result of a round trip.
type ProxyResponse struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Proxy performs a single HTTP request. No redirects, no retries; the
// caller decides what a non-2xx status means.
type Proxy interface {
	Do(ctx context.Context, req ProxyRequest) (*ProxyResponse, error)
}

// HTTPProxy is the net/http backed Proxy.
type HTTPProxy struct {
	client *http.Client
}

// NewHTTPProxy constructs a proxy with the given per-request timeout.
// A zero timeout falls back to 30 seconds.
func NewHTTPProxy(timeout time.Duration) *HTTPProxy {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPProxy{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Do executes the request and reads the full response body.
func (p *HTTPProxy) Do(ctx context.Context, req ProxyRequest) (*ProxyResponse, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("aggregator: build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("aggregator: %s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("aggregator: read response: %w", err)
	}

	return &ProxyResponse{Status: resp.StatusCode, Headers: resp.Header, Body: data}, nil
}
