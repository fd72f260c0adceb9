// Package apiclient is the shared HTTP client for the attendance backend.
//
// It owns the base URL, timeouts, bearer authentication, request IDs and trace
// propagation. Endpoint-specific request/response shapes live with their callers
// (verify, ledger, credential).
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	defaultTimeout = 15 * time.Second

	// Responses larger than this are truncated when buffered into HTTPError.Body.
	maxErrorBodyBytes = 64 << 10
	maxResponseBytes  = 1 << 20

	headerRequestID = "X-Request-ID"
)

// Client performs authenticated JSON and multipart calls against the backend API.
type Client struct {
	base *url.URL
	http *http.Client
	log  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// New constructs a Client rooted at baseURL (e.g. "http://10.0.0.5:5000/api").
func New(baseURL string, opts ...Option) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if raw == "" {
		return nil, errors.New("apiclient: empty base url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("apiclient: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("apiclient: unsupported scheme: %s", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("apiclient: base url missing host")
	}

	c := &Client{
		base: u,
		http: &http.Client{Timeout: defaultTimeout},
		log:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Request describes one API call.
type Request struct {
	Method      string
	Path        string
	Body        io.Reader
	ContentType string

	// Credential is sent as "Authorization: Bearer <credential>" when non-empty.
	Credential string
}

// PostJSON marshals in as the request body and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, path, credential string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("apiclient: marshal request: %w", err)
	}
	return c.Do(ctx, Request{
		Method:      http.MethodPost,
		Path:        path,
		Body:        bytes.NewReader(b),
		ContentType: "application/json",
		Credential:  credential,
	}, out)
}

// Do executes req. A non-2xx response returns *HTTPError; transport failures are
// returned wrapped in *TransportError. When out is non-nil the JSON body is decoded into it;
// a 2xx body that does not decode (including an empty one) returns *DecodeError.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	if c == nil {
		return errors.New("apiclient: nil client")
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	target := c.base.JoinPath(strings.TrimLeft(req.Path, "/"))

	hreq, err := http.NewRequestWithContext(ctx, method, target.String(), req.Body)
	if err != nil {
		return fmt.Errorf("apiclient: build request: %w", err)
	}
	if req.ContentType != "" {
		hreq.Header.Set("Content-Type", req.ContentType)
	}
	hreq.Header.Set("Accept", "application/json")
	if cred := strings.TrimSpace(req.Credential); cred != "" {
		hreq.Header.Set("Authorization", "Bearer "+cred)
	}
	requestID := uuid.NewString()
	hreq.Header.Set(headerRequestID, requestID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(hreq.Header))

	start := time.Now()
	resp, err := c.http.Do(hreq)
	if err != nil {
		c.log.Debug("api.request.transport_fail", "method", method, "path", target.Path, "request_id", requestID, "err", err)
		return &TransportError{Method: method, Path: target.Path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	c.log.Debug("api.request",
		"method", method,
		"path", target.Path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
		"request_id", requestID,
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &HTTPError{Status: resp.StatusCode, Body: body, RequestID: requestID}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return &DecodeError{Method: method, Path: target.Path, Status: resp.StatusCode, Err: err}
	}
	return nil
}
