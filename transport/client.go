// Package transport is the authenticated request client for the two platform
// backends: the core API (missions, submissions, progress) and the intel API
// (AI review, embeddings, recommendations). It attaches bearer credentials,
// routes by static path prefix, and transparently refreshes an expired
// credential pair at most once per call.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hexlabs/cyberdash/auth"
	"github.com/hexlabs/cyberdash/pkg/logger"
)

const refreshPath = "/auth/token/refresh"

// DefaultIntelPrefixes are the path prefixes routed to the intel backend.
// Everything else goes to the core backend.
func DefaultIntelPrefixes() []string {
	return []string{"/ai-review", "/embeddings", "/recommendations"}
}

// Config holds transport configuration.
type Config struct {
	// CoreBaseURL is the default backend for all paths.
	CoreBaseURL string

	// IntelBaseURL serves the AI/embedding/recommendation prefixes.
	IntelBaseURL string

	// IntelPrefixes overrides the routed prefix set. First match wins; the
	// match is order-independent since prefixes never overlap.
	IntelPrefixes []string

	Timeout         time.Duration
	MaxConnsPerHost int
}

// DefaultConfig returns sensible defaults for the two backend base URLs.
func DefaultConfig(coreURL, intelURL string) Config {
	return Config{
		CoreBaseURL:     coreURL,
		IntelBaseURL:    intelURL,
		IntelPrefixes:   DefaultIntelPrefixes(),
		Timeout:         30 * time.Second,
		MaxConnsPerHost: 100,
	}
}

// Doer executes a single HTTP request. The default doer is a tuned
// http.Client; a circuit breaker can wrap it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client issues authenticated requests against the platform backends.
type Client struct {
	cfg    Config
	doer   Doer
	keeper *auth.Keeper
	logger *slog.Logger
	tracer trace.Tracer
}

// Option customizes a Client.
type Option func(*Client)

// WithDoer replaces the underlying HTTP executor, typically with a
// circuit-breaker wrapper.
func WithDoer(d Doer) Option {
	return func(c *Client) { c.doer = d }
}

// New creates a transport client over the given credential keeper.
func New(cfg Config, keeper *auth.Keeper, log *slog.Logger, opts ...Option) *Client {
	if len(cfg.IntelPrefixes) == 0 {
		cfg.IntelPrefixes = DefaultIntelPrefixes()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxConnsPerHost == 0 {
		cfg.MaxConnsPerHost = 100
	}

	c := &Client{
		cfg:    cfg,
		doer:   newHTTPClient(cfg),
		keeper: keeper,
		logger: log,
		tracer: otel.Tracer("cyberdash/transport"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewHTTPDoer returns the default tuned HTTP client as a Doer, for callers
// that want to wrap it (e.g. with a circuit breaker) before handing it to New.
func NewHTTPDoer(cfg Config) Doer {
	return newHTTPClient(cfg)
}

func newHTTPClient(cfg Config) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   cfg.MaxConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
}

// resolveBase returns the base URL serving path and the backend label used in
// logs and metrics.
func (c *Client) resolveBase(path string) (base, backend string) {
	for _, prefix := range c.cfg.IntelPrefixes {
		if strings.HasPrefix(path, prefix) {
			return c.cfg.IntelBaseURL, "intel"
		}
	}
	return c.cfg.CoreBaseURL, "core"
}

type requestOptions struct {
	skipAuth    bool
	contentType string
}

// RequestOption customizes a single request.
type RequestOption func(*requestOptions)

// SkipAuth issues the request without bearer credentials and disables the
// refresh-retry path.
func SkipAuth() RequestOption {
	return func(o *requestOptions) { o.skipAuth = true }
}

// WithContentType sets an explicit Content-Type for pass-through bodies,
// e.g. a multipart writer's FormDataContentType.
func WithContentType(ct string) RequestOption {
	return func(o *requestOptions) { o.contentType = ct }
}

// Request performs an HTTP call against the backend serving path and returns
// the raw response body. Structured bodies are serialized as JSON; io.Reader
// bodies pass through untouched. Failures are one of *NetworkError,
// *HTTPError, or *ParseError.
func (c *Client) Request(ctx context.Context, method, path string, body any, opts ...RequestOption) ([]byte, error) {
	var ro requestOptions
	for _, opt := range opts {
		opt(&ro)
	}

	payload, contentType, err := encodeBody(body, ro.contentType)
	if err != nil {
		return nil, err
	}

	base, backend := c.resolveBase(path)

	ctx, span := c.tracer.Start(ctx, "transport.request",
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("backend", backend),
			attribute.String("path", path),
		))
	defer span.End()

	respBody, err := c.doOnce(ctx, method, base+path, payload, contentType, ro.skipAuth)
	if err == nil {
		return respBody, nil
	}

	// Exactly one refresh-and-retry cycle on an authentication failure.
	if !ro.skipAuth && IsStatus(err, http.StatusUnauthorized) && c.keeper.RefreshToken() != "" {
		if refreshErr := c.refresh(ctx); refreshErr != nil {
			c.keeper.Clear(ctx)
			c.logger.Warn("token refresh failed, credentials cleared",
				slog.String("error", refreshErr.Error()),
			)
			return nil, err
		}
		refreshTotal.WithLabelValues("success").Inc()

		respBody, retryErr := c.doOnce(ctx, method, base+path, payload, contentType, false)
		if IsStatus(retryErr, http.StatusUnauthorized) {
			// Freshly refreshed token also rejected: terminal, never loop.
			c.keeper.Clear(ctx)
		}
		return respBody, retryErr
	}

	return nil, err
}

// doOnce performs a single HTTP exchange with no retry of its own.
func (c *Client) doOnce(ctx context.Context, method, url string, payload []byte, contentType string, skipAuth bool) ([]byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", method, err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	log := logger.WithContext(logger.WithCorrelationID(ctx, requestID), c.logger)

	if !skipAuth {
		if token := c.keeper.AccessToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(method, "network_error").Inc()
		log.Warn("request failed",
			slog.String("method", method),
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
		return nil, &NetworkError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		requestsTotal.WithLabelValues(method, "network_error").Inc()
		return nil, &NetworkError{Err: err}
	}

	requestsTotal.WithLabelValues(method, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Status: resp.StatusCode, Body: respBody}
	}
	return respBody, nil
}

// refresh exchanges the refresh token for a new credential pair. The new
// pair is persisted before the caller retries, so concurrent calls issued
// afterwards observe the fresh access token.
func (c *Client) refresh(ctx context.Context) error {
	payload, err := json.Marshal(map[string]string{
		"refresh_token": c.keeper.RefreshToken(),
	})
	if err != nil {
		return fmt.Errorf("marshal refresh request: %w", err)
	}

	body, err := c.doOnce(ctx, http.MethodPost, c.cfg.CoreBaseURL+refreshPath, payload, "application/json", true)
	if err != nil {
		refreshTotal.WithLabelValues("failure").Inc()
		return fmt.Errorf("refresh credentials: %w", err)
	}

	var pair auth.Pair
	if err := json.Unmarshal(body, &pair); err != nil {
		refreshTotal.WithLabelValues("failure").Inc()
		return &ParseError{Err: fmt.Errorf("refresh response: %w", err)}
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		refreshTotal.WithLabelValues("failure").Inc()
		return fmt.Errorf("refresh response missing tokens")
	}

	c.keeper.Set(ctx, pair)
	return nil
}

// encodeBody prepares the outgoing payload. Structured values become JSON;
// io.Reader bodies are buffered as-is so the refresh-retry path can reissue
// them, and keep whatever Content-Type the caller supplied (uploads carry
// their own multipart boundary).
func encodeBody(body any, explicitType string) (payload []byte, contentType string, err error) {
	switch b := body.(type) {
	case nil:
		return nil, explicitType, nil
	case io.Reader:
		data, err := io.ReadAll(b)
		if err != nil {
			return nil, "", fmt.Errorf("read request body: %w", err)
		}
		return data, explicitType, nil
	case []byte:
		if explicitType == "" {
			explicitType = "application/json"
		}
		return b, explicitType, nil
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, "", fmt.Errorf("marshal request body: %w", err)
		}
		return data, "application/json", nil
	}
}

// GetJSON issues a GET and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any, opts ...RequestOption) error {
	body, err := c.Request(ctx, http.MethodGet, path, nil, opts...)
	if err != nil {
		return err
	}
	return decodeJSON(body, out)
}

// PostJSON issues a POST with a JSON body and decodes the response into out.
// A nil out discards the response body.
func (c *Client) PostJSON(ctx context.Context, path string, in, out any, opts ...RequestOption) error {
	body, err := c.Request(ctx, http.MethodPost, path, in, opts...)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decodeJSON(body, out)
}

// PatchJSON issues a PATCH with a JSON body and decodes the response into out.
func (c *Client) PatchJSON(ctx context.Context, path string, in, out any, opts ...RequestOption) error {
	body, err := c.Request(ctx, http.MethodPatch, path, in, opts...)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decodeJSON(body, out)
}

// Upload posts a pass-through body (e.g. multipart) and decodes the JSON
// response into out.
func (c *Client) Upload(ctx context.Context, path string, body io.Reader, contentType string, out any) error {
	respBody, err := c.Request(ctx, http.MethodPost, path, body, WithContentType(contentType))
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decodeJSON(respBody, out)
}

func decodeJSON(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return &ParseError{Err: err}
	}
	return nil
}
