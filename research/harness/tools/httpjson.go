package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	userAgent      = "Mozilla/5.0 (compatible; investment-research/1.0)"
	maxBodyBytes   = 8 << 20
	retryBaseDelay = 250 * time.Millisecond
	maxHTTPRetries = 2
)

// HTTPStatusError is a non-2xx response.
type HTTPStatusError struct {
	URL    string
	Status int
	Body   string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d: %s", e.URL, e.Status, e.Body)
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// fetchJSON GETs url and decodes the body into out. Throttling, server
// errors and transport failures are retried with exponential backoff; other
// statuses fail immediately.
func fetchJSON(ctx context.Context, client *http.Client, url string, header http.Header, out any) error {
	backoff := retry.WithMaxRetries(maxHTTPRetries, retry.NewExponential(retryBaseDelay))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "application/json")
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return retry.RetryableError(fmt.Errorf("read %s: %w", url, err))
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			serr := &HTTPStatusError{URL: redactQuery(req), Status: resp.StatusCode, Body: truncate(string(body), 200)}
			if retryable(resp.StatusCode) {
				return retry.RetryableError(serr)
			}
			return serr
		}

		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode %s: %w", redactQuery(req), err)
		}
		return nil
	})
}

// redactQuery drops the query string, which may carry credentials.
func redactQuery(req *http.Request) string {
	u := *req.URL
	u.RawQuery = ""
	return u.String()
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}

// IsStatus reports whether err is an HTTPStatusError with the given status.
func IsStatus(err error, status int) bool {
	var se *HTTPStatusError
	return errors.As(err, &se) && se.Status == status
}
