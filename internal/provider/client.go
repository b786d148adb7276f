// Package provider fetches status-code images from the remote image provider
// (http.cat by default). The provider is addressed by appending the 3-digit
// code to a fixed base URL; any non-2xx answer means it has no image for that
// code.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/any-hub/statuscat/internal/cache"
	"github.com/any-hub/statuscat/internal/version"
)

// ErrNoImage reports that the provider answered with a non-success status.
var ErrNoImage = errors.New("provider has no image for code")

// StatusError carries the upstream status for logging; it unwraps to ErrNoImage.
type StatusError struct {
	Code   cache.Code
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned %d for %s", e.Status, e.Code)
}

func (e *StatusError) Unwrap() error {
	return ErrNoImage
}

// Fetcher is the contract the proxy handler depends on, so tests can swap in
// counting or failing fakes.
type Fetcher interface {
	Fetch(ctx context.Context, code cache.Code) ([]byte, error)
}

// Client fetches images over HTTP(S) with a shared http.Client.
type Client struct {
	http *http.Client
	base *url.URL
}

// NewClient parses baseURL once; every request appends the code to its path.
func NewClient(httpClient *http.Client, baseURL string) (*Client, error) {
	if httpClient == nil {
		return nil, errors.New("http client is required")
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse provider url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported provider scheme: %q", base.Scheme)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	return &Client{http: httpClient, base: base}, nil
}

// URL returns the provider address for code.
func (c *Client) URL(code cache.Code) string {
	return c.base.ResolveReference(&url.URL{Path: code.String()}).String()
}

// Fetch downloads the full image for code. Nothing is returned unless the
// whole body was read successfully.
func (c *Client) Fetch(ctx context.Context, code cache.Code) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(code), http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Accept", "image/jpeg, image/*;q=0.9")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Code: code, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read provider body: %w", err)
	}
	return body, nil
}
