package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/starford/perthro/internal/apperr"
	"github.com/starford/perthro/internal/models"
)

// HTTPClient implements Client against the hosting service's REST API.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTP creates a client for the service at baseURL. token, if non-empty,
// is sent as a Bearer credential.
func NewHTTP(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) scriptURL(id models.Identity, suffix string) string {
	u := fmt.Sprintf("%s/scripts/%s/%s", c.baseURL,
		url.PathEscape(id.Owner), url.PathEscape(id.Script))
	if suffix != "" {
		u += "/" + suffix
	}
	return u
}

func (c *HTTPClient) do(ctx context.Context, method, rawURL string, body []byte, contentType string) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, rd)
	if err != nil {
		return nil, fmt.Errorf("remote: build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		// Timeouts, DNS failures, refused connections and cancelled
		// contexts all land here; locally recoverable.
		return nil, fmt.Errorf("remote: %s %s: %w", method, rawURL, errors.Join(apperr.ErrRemoteUnavailable, err))
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, statusErr(method, rawURL, resp.StatusCode)
}

// statusErr maps a non-2xx response onto the error taxonomy.
func statusErr(method, rawURL string, status int) error {
	var kind error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = apperr.ErrRemoteAuth
	case status == http.StatusNotFound:
		kind = apperr.ErrNotFound
	case status >= 500 || status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		kind = apperr.ErrRemoteUnavailable
	default:
		kind = apperr.ErrRemoteRejected
	}
	return fmt.Errorf("remote: %s %s: status %d: %w", method, rawURL, status, kind)
}

// FetchContent returns the current script text.
func (c *HTTPClient) FetchContent(ctx context.Context, id models.Identity) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, c.scriptURL(id, "content"), nil, "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("remote: read content: %w", errors.Join(apperr.ErrRemoteUnavailable, err))
	}
	return string(data), nil
}

// FetchConfiguration returns the script's binding/metadata entries.
func (c *HTTPClient) FetchConfiguration(ctx context.Context, id models.Identity) ([]models.ConfigEntry, error) {
	resp, err := c.do(ctx, http.MethodGet, c.scriptURL(id, "configuration"), nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var entries []models.ConfigEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("remote: decode configuration: %w", errors.Join(apperr.ErrRemoteRejected, err))
	}
	return entries, nil
}

type pushRequest struct {
	Content       string               `json:"content"`
	Configuration []models.ConfigEntry `json:"configuration"`
}

// Push replaces content and configuration as one atomic update.
func (c *HTTPClient) Push(ctx context.Context, id models.Identity, content string, cfg []models.ConfigEntry) error {
	if cfg == nil {
		cfg = []models.ConfigEntry{}
	}
	body, err := json.Marshal(pushRequest{Content: content, Configuration: cfg})
	if err != nil {
		return fmt.Errorf("remote: encode push: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPut, c.scriptURL(id, ""), body, "application/json")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Verify *HTTPClient satisfies Client at compile time.
var _ Client = (*HTTPClient)(nil)
