// Package fetch retrieves content units over an injected byte-stream
// capability, applying per-unit decryption and bounded-concurrency fan-out
// with order-preserving assembly.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"grawlix/internal/errs"
)

const defaultUserAgent = "grawlix/1.0"

// Fetcher is the byte-stream capability supplied by the caller. The
// transport and any authentication live behind this boundary.
type Fetcher interface {
	Fetch(ctx context.Context, url string, headers map[string]string) (io.ReadCloser, error)
}

// Client is the default Fetcher over net/http.
type Client struct {
	httpClient *http.Client
	userAgent  string
}

var _ Fetcher = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(agent string) Option {
	return func(c *Client) {
		if strings.TrimSpace(agent) != "" {
			c.userAgent = agent
		}
	}
}

// NewClient creates the default fetch capability.
func NewClient(opts ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		userAgent:  defaultUserAgent,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Fetch issues a GET and returns the response body stream. Transient
// failures (timeouts, resets, 5xx, 429) are tagged ErrNetwork so the caller
// can retry them; other failures are fatal.
func (c *Client) Fetch(ctx context.Context, url string, headers map[string]string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Wrap(errs.ErrDownloadFailed, "fetch", "build request", url, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		marker := errs.ErrDownloadFailed
		if isTransportTransient(err) {
			marker = errs.ErrNetwork
		}
		return nil, errs.Wrap(marker, "fetch", "get", url, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		marker := errs.ErrDownloadFailed
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			marker = errs.ErrNetwork
		}
		return nil, errs.Wrap(marker, "fetch", "get", fmt.Sprintf("%s: unexpected status %d", url, resp.StatusCode), nil)
	}
	return resp.Body, nil
}

func isTransportTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed)
}
