package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	model "github.com/zhouzirui/chat-widget/backend/internal/model/webhook"
)

// DefaultTimeout bounds one webhook round trip.
const DefaultTimeout = 30 * time.Second

// maxReplyBytes caps how much of a webhook response is read.
const maxReplyBytes = 1 << 20

var ErrNoURL = errors.New("webhook url is required")

// TransportError reports a failed round trip: network failure, timeout or a
// non-2xx status. Its message never contains the webhook URL.
type TransportError struct {
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("HTTP error! status: %d", e.Status)
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "request failed"
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client posts user messages to the configured webhook.
type Client struct {
	url        string
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request deadline. Non-positive values keep the
// default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a webhook client for endpoint.
func NewClient(endpoint string, opts ...Option) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, ErrNoURL
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid webhook url: %w", err)
	}

	c := &Client{
		url:        endpoint,
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Send posts payload and returns the extracted reply text.
func (c *Client) Send(ctx context.Context, payload model.Payload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", &TransportError{Err: errors.New("could not build request")}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("webhook request failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return "", &TransportError{Err: stripURL(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxReplyBytes))
		c.logger.Warn("webhook returned error status", zap.Int("status", resp.StatusCode))
		return "", &TransportError{Status: resp.StatusCode}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return "", &TransportError{Err: stripURL(err)}
	}

	reply, err := model.DecodeReply(raw)
	if err != nil {
		c.logger.Warn("webhook returned malformed body", zap.Error(err), zap.Int("bytes", len(raw)))
		return "", &TransportError{Err: err}
	}

	c.logger.Debug("webhook replied",
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))
	return reply, nil
}

var (
	errTimedOut = errors.New("request timed out")
	errNetwork  = errors.New("network error")
)

// stripURL reduces transport failures to messages that name neither the
// endpoint nor its address.
func stripURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return errTimedOut
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errTimedOut
	}
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	return errNetwork
}
