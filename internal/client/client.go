// Package client is the HTTP client for a tascade server. The CLI talks
// through it; agents embedding Go can too. Errors coming back with a kernel
// error envelope are surfaced as *types.Error, so callers branch on codes
// the same way server-side code does.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"github.com/tascade/tascade/internal/types"
	"github.com/tascade/tascade/internal/version"
)

const defaultTimeout = 30 * time.Second

// Client calls one tascade server with one API key.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client

	// Actor overrides the actor name derived from the API key on write
	// operations. Useful when one key serves several named agents.
	Actor string
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

// WithHTTPClient returns a copy using the given HTTP client, for tests and
// custom transports.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	return &Client{BaseURL: c.BaseURL, APIKey: c.APIKey, HTTPClient: hc, Actor: c.Actor}
}

// Health is the unauthenticated server handshake.
type Health struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	MinClient string `json:"min_client"`
}

// Hello fetches the server health document and reports whether this build
// may talk to it. serverBehind is advisory: the call succeeds, but the
// server is older than the client and may not know newer operations.
func (c *Client) Hello(ctx context.Context) (h *Health, serverBehind bool, err error) {
	h = &Health{}
	if err := c.do(ctx, http.MethodGet, "/v1/healthz", nil, h); err != nil {
		return nil, false, err
	}
	if semver.IsValid(version.Version) && semver.IsValid(h.MinClient) &&
		semver.Compare(version.Version, h.MinClient) < 0 {
		return h, false, fmt.Errorf(
			"client %s is below the server's supported floor %s; upgrade the client",
			version.Version, h.MinClient)
	}
	_, serverBehind = version.ClientCompatible(version.Version, h.Version)
	return h, serverBehind, nil
}

// do sends one request. A nil in sends no body; a non-nil out must be a
// pointer and receives the decoded 2xx response.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeError turns a non-2xx body into a *types.Error when the server sent
// its envelope, and a plain error otherwise.
func decodeError(status int, data []byte) error {
	var envelope struct {
		Error *types.Error `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error != nil && envelope.Error.Code != "" {
		return envelope.Error
	}
	return fmt.Errorf("server returned %d: %s", status, strings.TrimSpace(string(data)))
}

// query builds an encoded query string from non-empty parameters.
func query(params map[string]string) string {
	vals := url.Values{}
	for k, v := range params {
		if v != "" {
			vals.Set(k, v)
		}
	}
	if len(vals) == 0 {
		return ""
	}
	return "?" + vals.Encode()
}
