package transport

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-webhooks/core"
)

const defaultResponseBodyLimit int64 = 10 << 20 // 10 MiB

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	// Truncated is set when the body exceeded the configured limit.
	Truncated bool
	Duration  time.Duration
}

// Client delivers webhook requests. The per-call Timeout is applied under
// whatever deadline the caller's context already carries.
type Client struct {
	HTTP                 HTTPDoer
	EventHeader          string
	UserAgent            string
	Timeout              time.Duration
	MaxResponseBodyBytes int64
}

type ClientOption func(*Client)

func WithHTTPDoer(doer HTTPDoer) ClientOption {
	return func(c *Client) {
		if doer != nil {
			c.HTTP = doer
		}
	}
}

func WithEventHeader(header string) ClientOption {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(header); trimmed != "" {
			c.EventHeader = trimmed
		}
	}
}

func WithUserAgent(agent string) ClientOption {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(agent); trimmed != "" {
			c.UserAgent = trimmed
		}
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.Timeout = timeout
		}
	}
}

func WithMaxResponseBodyBytes(limit int64) ClientOption {
	return func(c *Client) {
		if limit > 0 {
			c.MaxResponseBodyBytes = limit
		}
	}
}

func NewClient(opts ...ClientOption) *Client {
	client := &Client{
		EventHeader:          core.DefaultConfig().EventHeader(),
		UserAgent:            core.DefaultConfig().UserAgent,
		Timeout:              core.DefaultRequestTimeout,
		MaxResponseBodyBytes: defaultResponseBodyLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.HTTP == nil {
		client.HTTP = NewHTTPClient(true)
	}
	return client
}

// NewClientFromConfig wires a client from engine configuration.
func NewClientFromConfig(cfg core.Config, opts ...ClientOption) *Client {
	base := []ClientOption{
		WithHTTPDoer(NewHTTPClient(cfg.VerifyTLS)),
		WithEventHeader(cfg.EventHeader()),
		WithUserAgent(cfg.UserAgent),
		WithTimeout(cfg.RequestTimeout()),
		WithMaxResponseBodyBytes(cfg.MaxResponseBodyBytes),
	}
	return NewClient(append(base, opts...)...)
}

// NewHTTPClient returns an http.Client whose transport verifies peer
// certificates and host names only when verifyTLS is set.
func NewHTTPClient(verifyTLS bool) *http.Client {
	base, ok := http.DefaultTransport.(*http.Transport)
	var transport *http.Transport
	if ok {
		transport = base.Clone()
	} else {
		transport = &http.Transport{}
	}
	if transport.TLSClientConfig == nil {
		transport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	transport.TLSClientConfig.InsecureSkipVerify = !verifyTLS
	return &http.Client{Transport: transport}
}

// Deliver sends req. A nil error means a response was obtained, whatever its
// status. When no response came back the returned Response carries the
// failure status and an empty body alongside the error.
func (c *Client) Deliver(ctx context.Context, req Request) (Response, error) {
	failed := Response{StatusCode: core.DeliveryFailureStatus}
	if c == nil || c.HTTP == nil {
		return failed, transportError(
			"transport: webhook client requires an http client",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			nil,
		)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	requestCtx := ctx
	cancel := func() {}
	if c.Timeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, c.Timeout)
	}
	defer cancel()

	headers := map[string]string{}
	if c.UserAgent != "" {
		headers[HeaderUserAgent] = c.UserAgent
	}
	if c.EventHeader != "" && strings.TrimSpace(req.Event) != "" {
		headers[c.EventHeader] = strings.TrimSpace(req.Event)
	}
	for key, value := range req.Headers {
		headers[key] = value
	}
	req.Headers = headers

	httpReq, err := BuildHTTPRequest(requestCtx, req)
	if err != nil {
		return failed, err
	}

	startedAt := time.Now()
	httpRes, err := c.HTTP.Do(httpReq)
	if err != nil {
		failed.Duration = time.Since(startedAt)
		return failed, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: execute webhook request",
			http.StatusBadGateway,
			map[string]any{"method": httpReq.Method, "url": httpReq.URL.String(), "webhook_id": req.WebhookID},
		)
	}
	defer httpRes.Body.Close()

	limit := c.MaxResponseBodyBytes
	if limit <= 0 {
		limit = defaultResponseBodyLimit
	}
	body, err := io.ReadAll(io.LimitReader(httpRes.Body, limit+1))
	if err != nil {
		failed.Duration = time.Since(startedAt)
		return failed, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: read webhook response body",
			http.StatusBadGateway,
			map[string]any{"status_code": httpRes.StatusCode, "webhook_id": req.WebhookID},
		)
	}
	truncated := false
	if int64(len(body)) > limit {
		body = body[:limit]
		truncated = true
	}

	return Response{
		StatusCode: httpRes.StatusCode,
		Headers:    flattenHeaders(httpRes.Header),
		Body:       body,
		Truncated:  truncated,
		Duration:   time.Since(startedAt),
	}, nil
}

func flattenHeaders(headers http.Header) map[string]string {
	if len(headers) == 0 {
		return map[string]string{}
	}
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		if len(values) == 0 {
			flat[key] = ""
			continue
		}
		flat[key] = strings.Join(values, ",")
	}
	return flat
}
