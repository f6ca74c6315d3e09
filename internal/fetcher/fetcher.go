package fetcher

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultUserAgent = "geoharvest/1.0 (metadata-harvester)"

// Config controls the HTTP client used against one source
type Config struct {
	Timeout   time.Duration
	VerifySSL bool
	UserAgent string
	MaxBytes  int64
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 50 * 1024 * 1024
	}
}

// Response is a fetched body with the headers callers need for decoding
type Response struct {
	Body        []byte
	ContentType string
}

// Fetcher performs blocking GET requests against a harvest source
type Fetcher struct {
	client *http.Client
	config Config
}

// New creates a Fetcher. VerifySSL=false disables certificate checks for
// sources with broken TLS setups.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !cfg.VerifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Fetcher{
		client: &http.Client{Timeout: cfg.Timeout, Transport: transport},
		config: cfg,
	}
}

// Get retrieves rawURL, sending accept as the Accept header
func (f *Fetcher) Get(ctx context.Context, rawURL, accept string) (*Response, error) {
	// Validate URL
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	req.Header.Set("Accept-Charset", "utf-8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	// Read one byte past the limit so an oversized body is reported, not cut
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.config.MaxBytes {
		return nil, fmt.Errorf("response exceeds %d bytes", f.config.MaxBytes)
	}

	return &Response{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}
