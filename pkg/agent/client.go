package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mscrnt/gpuctl/pkg/gpu"
	"github.com/mscrnt/gpuctl/pkg/profile"
	"github.com/mscrnt/gpuctl/pkg/resolution"
)

// APIError is a non-2xx agent response
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("agent returned status %d: %s", e.StatusCode, e.Message)
}

// Client represents an agent client
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new agent client
func NewClient(config ClientConfig) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	transport := &http.Transport{}
	scheme := "http"
	if config.TLSEnabled() {
		tlsConfig, err := config.LoadClientTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS config: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
		scheme = "https"
	}

	return &Client{
		baseURL: fmt.Sprintf("%s://%s:%d", scheme, config.Host, config.Port),
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
	}, nil
}

// do sends a request and decodes a JSON response into out when out is not nil
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(data)}
		var er ErrorResponse
		if json.Unmarshal(data, &er) == nil && er.Error != "" {
			apiErr.Message = er.Error
			apiErr.RequestID = er.RequestID
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// CheckHealth checks if the agent is healthy
func (c *Client) CheckHealth(ctx context.Context) (*HealthResponse, error) {
	var health HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &health); err != nil {
		return nil, err
	}
	if health.Status != "ok" {
		return nil, fmt.Errorf("unexpected health status: %s", health.Status)
	}
	return &health, nil
}

// GetSettings fetches the current GPU settings snapshot
func (c *Client) GetSettings(ctx context.Context) (gpu.Settings, error) {
	var s gpu.Settings
	err := c.do(ctx, http.MethodGet, "/settings", nil, &s)
	return s, err
}

// SetSettings applies a settings patch
func (c *Client) SetSettings(ctx context.Context, p gpu.Patch) (gpu.Settings, error) {
	var s gpu.Settings
	err := c.do(ctx, http.MethodPatch, "/settings", p, &s)
	return s, err
}

// ListResolutions lists the modes of a display
func (c *Client) ListResolutions(ctx context.Context, display int) (*ResolutionsResponse, error) {
	var resp ResolutionsResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/displays/%d/resolutions", display), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AddResolution adds a custom resolution to a display
func (c *Client) AddResolution(ctx context.Context, r resolution.CustomResolution, display int) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/displays/%d/resolutions", display), r, nil)
}

// ApplyResolution makes a resolution active on a display
func (c *Client) ApplyResolution(ctx context.Context, r resolution.CustomResolution, display int) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/displays/%d/resolutions/apply", display), r, nil)
}

// RemoveResolution removes a resolution by name
func (c *Client) RemoveResolution(ctx context.Context, name string, display int) error {
	return c.do(ctx, http.MethodDelete,
		fmt.Sprintf("/displays/%d/resolutions/%s", display, url.PathEscape(name)), nil, nil)
}

// ListProfiles lists stored profiles, optionally filtered by tag
func (c *Client) ListProfiles(ctx context.Context, tag string) ([]*profile.Profile, error) {
	path := "/profiles"
	if tag != "" {
		path += "?tag=" + url.QueryEscape(tag)
	}
	var profiles []*profile.Profile
	err := c.do(ctx, http.MethodGet, path, nil, &profiles)
	return profiles, err
}

// ApplyProfile applies a stored profile on the agent host
func (c *Client) ApplyProfile(ctx context.Context, name string) (gpu.Settings, error) {
	var s gpu.Settings
	err := c.do(ctx, http.MethodPost, "/profiles/"+url.PathEscape(name)+"/apply", nil, &s)
	return s, err
}
