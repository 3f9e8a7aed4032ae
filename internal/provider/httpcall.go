package provider

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/antoniostano/durmah/internal/reliability"
)

// NewHTTPClient returns the client vendor providers share when none is
// supplied.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// NewStreamingHTTPClient returns a client for responses read incrementally,
// such as SSE completions. Only the wait for response headers is bounded;
// the body is bounded by the request context.
func NewStreamingHTTPClient(headerTimeout time.Duration) *http.Client {
	if headerTimeout <= 0 {
		headerTimeout = 30 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = headerTimeout
	return &http.Client{Transport: transport}
}

// Call sends the request produced by build, retrying retryable vendor
// statuses under policy. build is invoked once per attempt so request bodies
// are fresh. A non-2xx final response is returned as *APIError with the body
// consumed; the caller owns the body of a successful response.
func Call(ctx context.Context, client *http.Client, policy reliability.Policy, name string, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	var res *http.Response
	err := reliability.Retry(ctx, policy, func(ctx context.Context) error {
		req, err := build(ctx)
		if err != nil {
			return err
		}
		r, err := client.Do(req)
		if err != nil {
			return err
		}
		if r.StatusCode < 200 || r.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(r.Body, 4<<10))
			r.Body.Close()
			return &APIError{Provider: name, StatusCode: r.StatusCode, Body: strings.TrimSpace(string(body))}
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
