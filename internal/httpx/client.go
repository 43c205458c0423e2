package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"time"

	clierr "github.com/MithrandirBalrog/Clawlett/internal/errors"
	"github.com/MithrandirBalrog/Clawlett/internal/version"
)

// Client is a JSON HTTP client with typed error mapping. Retries apply only
// to transport-level failures (timeouts, 5xx, 429); callers that must never
// re-ask for a priced payload construct the client with zero retries.
type Client struct {
	httpClient *http.Client
	retries    int
	userAgent  string
}

func New(timeout time.Duration, retries int) *Client {
	if retries < 0 {
		retries = 0
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		retries:    retries,
		userAgent:  version.CLIName + "/" + version.Short(),
	}
}

func (c *Client) DoJSON(ctx context.Context, req *http.Request, out any) (int, error) {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, clierr.Wrap(clierr.CodeUnavailable, "request cancelled", ctx.Err())
			case <-time.After(backoff(attempt)):
			}
		}

		cloned := req.Clone(ctx)
		if req.Body != nil && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return 0, clierr.Wrap(clierr.CodeInternal, "clone request body", err)
			}
			cloned.Body = body
		}

		resp, err := c.httpClient.Do(cloned)
		if err != nil {
			lastErr = mapNetError(err)
			if attempt < c.retries {
				continue
			}
			return 0, lastErr
		}

		buf, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return resp.StatusCode, clierr.Wrap(clierr.CodeUnavailable, "read response body", readErr)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = clierr.New(clierr.CodeRateLimited, "service rate limited request")
			if attempt < c.retries {
				continue
			}
			return resp.StatusCode, lastErr
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return resp.StatusCode, clierr.New(clierr.CodeAuth, "service rejected credentials")
		case resp.StatusCode >= http.StatusInternalServerError:
			lastErr = clierr.New(clierr.CodeUnavailable, fmt.Sprintf("service unavailable (status %d)", resp.StatusCode))
			if attempt < c.retries {
				continue
			}
			return resp.StatusCode, lastErr
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return resp.StatusCode, clierr.New(clierr.CodeUnavailable,
				fmt.Sprintf("service returned status %d: %s", resp.StatusCode, truncate(buf, 200)))
		}

		if out == nil {
			return resp.StatusCode, nil
		}
		if len(bytes.TrimSpace(buf)) == 0 {
			return resp.StatusCode, clierr.New(clierr.CodeUnavailable, "service returned empty response")
		}
		if err := json.Unmarshal(buf, out); err != nil {
			return resp.StatusCode, clierr.Wrap(clierr.CodeUnavailable, "decode response JSON", err)
		}
		return resp.StatusCode, nil
	}

	if lastErr != nil {
		return 0, lastErr
	}
	return 0, clierr.New(clierr.CodeUnavailable, "request failed")
}

// DoBodyJSON marshals body (if non-nil) and issues a request with a JSON
// content type, decoding any JSON response into out.
func DoBodyJSON(ctx context.Context, c *Client, method, url string, body []byte, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, clierr.Wrap(clierr.CodeInternal, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	return c.DoJSON(ctx, req, out)
}

func mapNetError(err error) error {
	if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
		return clierr.Wrap(clierr.CodeUnavailable, "service timeout", err)
	}
	return clierr.Wrap(clierr.CodeUnavailable, "service request failed", err)
}

func backoff(attempt int) time.Duration {
	base := 120 * time.Millisecond
	d := base * time.Duration(1<<uint(attempt-1))
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	jitter := time.Duration(rand.Intn(75)) * time.Millisecond
	return d + jitter
}

func truncate(buf []byte, n int) string {
	s := string(bytes.TrimSpace(buf))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
