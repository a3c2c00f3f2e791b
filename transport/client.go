package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ruteri/pim-storage/common"
	"github.com/ruteri/pim-storage/cryptoutils"
	"github.com/ruteri/pim-storage/interfaces"
)

// DefaultTimeout bounds every request of a storage client.
var DefaultTimeout = 60 * time.Second

// StatusError is returned for responses with an unexpected status code.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// HasStatus reports whether err is a StatusError with one of the codes.
func HasStatus(err error, codes ...int) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	for _, code := range codes {
		if se.StatusCode == code {
			return true
		}
	}
	return false
}

// Client sends authenticated requests on behalf of an HTTP based storage.
type Client struct {
	http      *http.Client
	username  string
	password  string
	userAgent string
	log       *slog.Logger
}

// New creates a client with the TLS and authentication settings of cfg.
func New(cfg interfaces.HTTPConfig, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}

	tlsConfig, err := cryptoutils.ClientTLSConfig(cfg)
	if err != nil {
		return nil, interfaces.BadCollectionConfig("invalid TLS settings", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "pim-storage/" + common.Version
	}

	return &Client{
		http:      &http.Client{Transport: transport, Timeout: DefaultTimeout},
		username:  cfg.Username,
		password:  cfg.Password,
		userAgent: userAgent,
		log:       log,
	}, nil
}

// NewRequest builds a request carrying the configured credentials.
func (c *Client) NewRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", method, err)
	}
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	req.Header.Set("User-Agent", c.userAgent)
	return req, nil
}

// Do sends req. Any status outside 2xx is returned as a *StatusError
// together with the response, whose body is already drained and closed.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to %s %s: %w", req.Method, req.URL.Redacted(), err)
	}

	c.log.Debug("HTTP request",
		slog.String("method", req.Method),
		slog.String("url", req.URL.Redacted()),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return resp, &StatusError{Method: req.Method, URL: req.URL.Redacted(), StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// Get fetches url and returns the body with the final URL after redirects.
func (c *Client) Get(ctx context.Context, url string) ([]byte, *http.Response, error) {
	req, err := c.NewRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, resp, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, resp, nil
}
