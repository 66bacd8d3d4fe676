// Package remote is the HTTP client for the authoritative feed API.
package remote

import (
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

	"github.com/AtRiskMedia/feedcache-go/internal/domain/entities/task"
	"github.com/AtRiskMedia/feedcache-go/internal/domain/faults"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/feedcache-go/pkg/config"
)

const maxBodyBytes = 32 << 20

// StatusError is a non-success response from the remote API.
type StatusError struct {
	Status int
	URL    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote %s returned %d %s", e.URL, e.Status, http.StatusText(e.Status))
}

// Client issues conditional JSON GETs against the remote API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *logging.ChanneledLogger
}

// NewClient creates a client rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *logging.ChanneledLogger) (*Client, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid remote base URL %q: %w", baseURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid remote base URL %q: scheme must be http or https", baseURL)
	}
	return &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// NewClientFromConfig builds a client from pkg/config.
func NewClientFromConfig(logger *logging.ChanneledLogger) (*Client, error) {
	return NewClient(config.RemoteAPIBaseURL, config.RemoteAPITimeout, logger)
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string { return c.baseURL.String() }

func (c *Client) resolve(path string) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	return u.String()
}

// FetchJSON GETs path and decodes the JSON body. A non-zero ifModifiedSince is
// sent as If-Modified-Since; a 304 answer yields faults.ErrNotModified.
func (c *Client) FetchJSON(ctx context.Context, path string, ifModifiedSince time.Time) (any, error) {
	target := c.resolve(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, faults.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if !ifModifiedSince.IsZero() {
		req.Header.Set("If-Modified-Since", ifModifiedSince.UTC().Format(http.TimeFormat))
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	c.logger.Sync().Debug("Remote fetch",
		slog.String("url", target),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)))

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return nil, faults.ErrNotModified
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &StatusError{Status: resp.StatusCode, URL: target}
	case resp.StatusCode >= 400:
		return nil, faults.Permanent(&StatusError{Status: resp.StatusCode, URL: target})
	}

	var payload any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&payload); err != nil {
		return nil, faults.Permanent(fmt.Errorf("failed to decode %s: %w", target, err))
	}
	return payload, nil
}

// Fetcher adapts a remote path into a fetch capability for the scheduler and
// the rehydration service.
func (c *Client) Fetcher(path string) task.FetchFunc {
	return func(ctx context.Context, req task.FetchRequest) (any, error) {
		return c.FetchJSON(ctx, path, req.IfModifiedSince)
	}
}

// Probe sends a HEAD to the API root. Any HTTP answer counts as reachable.
func (c *Client) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL.String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, status int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == status
}

// Paths for the resources the feed sync service keeps warm.
func DepartmentPath(id string) string      { return "departments/" + url.PathEscape(id) }
func DepartmentItemsPath(id string) string { return "departments/" + url.PathEscape(id) + "/items" }
func PreferencesPath(user string) string   { return "users/" + url.PathEscape(user) + "/preferences" }
