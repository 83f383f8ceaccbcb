package instance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Client talks to one Radarr or Sonarr v3 API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new instance API client
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// request performs an HTTP request against the instance API
func (c *Client) request(ctx context.Context, method, path string, body any, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if msg := errorMessage(data); msg != "" {
			return fmt.Errorf("API error: %s", msg)
		}
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// errorMessage extracts a message from the two error shapes the API uses:
// a validation failure array or an object with a message field.
func errorMessage(data []byte) string {
	if !gjson.ValidBytes(data) {
		return ""
	}
	res := gjson.ParseBytes(data)
	if res.IsArray() {
		var msgs []string
		for _, e := range res.Array() {
			if m := e.Get("errorMessage").String(); m != "" {
				msgs = append(msgs, m)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return res.Get("message").String()
}

// SystemStatus returns the instance status
func (c *Client) SystemStatus(ctx context.Context) (*SystemStatus, error) {
	var resp SystemStatus
	if err := c.request(ctx, http.MethodGet, "/api/v3/system/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListCustomFormats returns every custom format on the instance
func (c *Client) ListCustomFormats(ctx context.Context) ([]CustomFormat, error) {
	var resp []CustomFormat
	if err := c.request(ctx, http.MethodGet, "/api/v3/customformat", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// CreateCustomFormat creates a custom format and returns it with its new ID
func (c *Client) CreateCustomFormat(ctx context.Context, cf *CustomFormat) (*CustomFormat, error) {
	var resp CustomFormat
	if err := c.request(ctx, http.MethodPost, "/api/v3/customformat", cf, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateCustomFormat replaces a custom format
func (c *Client) UpdateCustomFormat(ctx context.Context, cf *CustomFormat) (*CustomFormat, error) {
	var resp CustomFormat
	if err := c.request(ctx, http.MethodPut, fmt.Sprintf("/api/v3/customformat/%d", cf.ID), cf, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteCustomFormat removes a custom format
func (c *Client) DeleteCustomFormat(ctx context.Context, id int) error {
	return c.request(ctx, http.MethodDelete, fmt.Sprintf("/api/v3/customformat/%d", id), nil, nil)
}

// ListQualityProfiles returns every quality profile with its raw document kept
func (c *Client) ListQualityProfiles(ctx context.Context) ([]QualityProfile, error) {
	var raw []json.RawMessage
	if err := c.request(ctx, http.MethodGet, "/api/v3/qualityprofile", nil, &raw); err != nil {
		return nil, err
	}

	profiles := make([]QualityProfile, 0, len(raw))
	for _, r := range raw {
		var p QualityProfile
		if err := json.Unmarshal(r, &p); err != nil {
			return nil, fmt.Errorf("decode quality profile: %w", err)
		}
		p.raw = r
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// UpdateQualityProfile writes the profile back with its format scores replaced
func (c *Client) UpdateQualityProfile(ctx context.Context, p *QualityProfile) error {
	doc := map[string]json.RawMessage{}
	if len(p.raw) > 0 {
		if err := json.Unmarshal(p.raw, &doc); err != nil {
			return fmt.Errorf("decode quality profile: %w", err)
		}
	}

	items, err := json.Marshal(p.FormatItems)
	if err != nil {
		return fmt.Errorf("marshal format items: %w", err)
	}
	doc["formatItems"] = items
	doc["id"] = json.RawMessage(fmt.Sprintf("%d", p.ID))
	name, _ := json.Marshal(p.Name)
	doc["name"] = name

	return c.request(ctx, http.MethodPut, fmt.Sprintf("/api/v3/qualityprofile/%d", p.ID), doc, nil)
}
