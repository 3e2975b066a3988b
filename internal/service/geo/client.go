package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/zhouzirui/chat-widget/backend/internal/model/identity"
)

// DefaultBaseURL is the free IP geolocation service used by the widget.
const DefaultBaseURL = "https://ipapi.co"

var (
	ErrDisabled   = errors.New("geolocation disabled")
	ErrNoLocation = errors.New("geolocation returned no city/country")
)

// Locator resolves a human-readable location for a client address.
type Locator interface {
	Locate(ctx context.Context, ip string) (string, error)
}

// Client queries an ipapi.co compatible endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	disabled   bool
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

// Disabled makes every lookup fail fast with ErrDisabled.
func Disabled() Option {
	return func(c *Client) { c.disabled = true }
}

// NewClient creates a geolocation client. An empty baseURL selects
// DefaultBaseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type lookupResponse struct {
	City        string `json:"city"`
	CountryName string `json:"country_name"`
	Error       bool   `json:"error"`
	Reason      string `json:"reason"`
}

// Locate returns "City, Country" for ip. Private, loopback or empty
// addresses are looked up as the caller's own address.
func (c *Client) Locate(ctx context.Context, ip string) (string, error) {
	if c.disabled {
		return "", ErrDisabled
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.lookupURL(ip), nil)
	if err != nil {
		return "", fmt.Errorf("build lookup request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("lookup status %d", resp.StatusCode)
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode lookup: %w", err)
	}
	if body.Error {
		return "", fmt.Errorf("lookup rejected: %s", body.Reason)
	}

	location := identity.FormatLocation(body.City, body.CountryName)
	if location == identity.UnknownLocation {
		return "", ErrNoLocation
	}
	return location, nil
}

func (c *Client) lookupURL(ip string) string {
	if publicIP(ip) {
		return c.baseURL + "/" + ip + "/json/"
	}
	return c.baseURL + "/json/"
}

func publicIP(raw string) bool {
	ip := net.ParseIP(strings.TrimSpace(raw))
	if ip == nil {
		return false
	}
	return !ip.IsLoopback() && !ip.IsPrivate() && !ip.IsUnspecified() && !ip.IsLinkLocalUnicast()
}

// ClientIP strips the port from an http.Request RemoteAddr.
func ClientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
