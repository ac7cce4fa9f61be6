// Package apiclient sends authenticated requests to the Kinex Fit backend and refreshes
// expired credentials with a single in-flight refresh call.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"example.com/kinexsync/internal/domain"
)

// Option configures optional behaviour for the Client.
type Option func(*Client)

// WithHTTPClient overrides the transport. Per-request timeouts belong on this client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger overrides the logger used to report refresh outcomes.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRefreshPath overrides the token refresh route.
func WithRefreshPath(path string) Option {
	return func(c *Client) {
		c.refreshPath = path
	}
}

// WithExpiryLeeway sets how close to expiry a JWT access token may be before it is
// refreshed ahead of the request. Zero disables the check.
func WithExpiryLeeway(d time.Duration) Option {
	return func(c *Client) {
		c.leeway = d
	}
}

// WithClock overrides the time source used for the expiry check.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// Client attaches bearer tokens to backend requests and retries once after a refresh on 401.
type Client struct {
	baseURL     *url.URL
	tokens      domain.TokenStore
	http        *http.Client
	logger      *log.Logger
	refreshPath string
	leeway      time.Duration
	now         func() time.Time

	mu         sync.Mutex
	refreshing bool
	waiters    []chan error
}

// New constructs a Client for baseURL reading credentials from tokens.
func New(baseURL string, tokens domain.TokenStore, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, baseURL)
	}
	c := &Client{
		baseURL:     parsed,
		tokens:      tokens,
		http:        &http.Client{Timeout: 30 * time.Second},
		logger:      log.New(log.Writer(), "[apiclient] ", log.LstdFlags|log.Lshortfile),
		refreshPath: RefreshPath,
		leeway:      30 * time.Second,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Send performs req and decodes a JSON response body into out. A nil out discards the
// body, and a 204 response never decodes.
func (c *Client) Send(ctx context.Context, req Request, out any) error {
	resp, err := c.perform(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || resp.status == http.StatusNoContent {
		return nil
	}
	if len(bytes.TrimSpace(resp.body)) == 0 {
		return &DecodingError{Err: io.ErrUnexpectedEOF}
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return &DecodingError{Err: err}
	}
	return nil
}

// SendNoContent performs req and ignores any response body.
func (c *Client) SendNoContent(ctx context.Context, req Request) error {
	_, err := c.perform(ctx, req)
	return err
}

type response struct {
	status int
	body   []byte
}

func (c *Client) perform(ctx context.Context, req Request) (response, error) {
	tokens, err := c.tokens.Load(ctx)
	if err != nil {
		return response{}, fmt.Errorf("load tokens: %w", err)
	}

	if tokens.RefreshToken != "" && c.expiresSoon(tokens.AccessToken) {
		if err := c.refreshTokenIfNeeded(ctx, tokens.AccessToken); err != nil {
			return response{}, err
		}
		if tokens, err = c.tokens.Load(ctx); err != nil {
			return response{}, fmt.Errorf("load tokens: %w", err)
		}
	}

	resp, err := c.do(ctx, req, tokens.AccessToken)
	if err != nil {
		return response{}, err
	}
	if resp.status == http.StatusUnauthorized {
		if err := c.refreshTokenIfNeeded(ctx, tokens.AccessToken); err != nil {
			return response{}, err
		}
		if tokens, err = c.tokens.Load(ctx); err != nil {
			return response{}, fmt.Errorf("load tokens: %w", err)
		}
		resp, err = c.do(ctx, req, tokens.AccessToken)
		if err != nil {
			return response{}, err
		}
		if resp.status == http.StatusUnauthorized {
			return response{}, ErrUnauthorized
		}
	}

	if resp.status < 200 || resp.status > 299 {
		return response{}, &HTTPError{StatusCode: resp.status, Body: resp.body}
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, req Request, accessToken string) (response, error) {
	u := c.baseURL.JoinPath(req.Path)
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return response{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if req.Body != nil {
		contentType := req.ContentType
		if contentType == "" {
			contentType = ContentTypeJSON
		}
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", ContentTypeJSON)
	if accessToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	requestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		requestCounter.WithLabelValues(method, statusClass(0)).Inc()
		return response{}, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		requestCounter.WithLabelValues(method, statusClass(0)).Inc()
		return response{}, &NetworkError{Err: err}
	}
	requestCounter.WithLabelValues(method, statusClass(resp.StatusCode)).Inc()
	return response{status: resp.StatusCode, body: data}, nil
}

// errorsIsCanceled reports whether err came from the caller giving up.
func errorsIsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
