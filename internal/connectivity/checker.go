package connectivity

import (
	"context"
	"net/http"
	"time"
)

// HTTPChecker treats any HTTP response from URL as reachable and a transport error as not.
type HTTPChecker struct {
	URL    string
	Client *http.Client
}

// NewHTTPChecker constructs a checker with a short timeout.
func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{URL: url, Client: &http.Client{Timeout: 5 * time.Second}}
}

// Reachable issues a HEAD request against URL.
func (c *HTTPChecker) Reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.URL, nil)
	if err != nil {
		return false
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}
