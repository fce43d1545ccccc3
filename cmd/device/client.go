package device

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

	"github.com/martinsuchenak/beacond/internal/model"
)

const defaultClientTimeout = 30 * time.Second

// Client talks to a running beacond server
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultClientTimeout},
	}
}

// Register sets the URL of a device
func (c *Client) Register(ctx context.Context, name, pageURL string) (*model.Device, error) {
	body := map[string]string{"name": name, "url": pageURL}
	var device model.Device
	if err := c.do(ctx, http.MethodPost, "/api/devices", body, &device); err != nil {
		return nil, err
	}
	return &device, nil
}

// Scan posts a one-sighting batch and returns the resolved entry
func (c *Client) Scan(ctx context.Context, sighting model.Sighting) (*model.MetadataEntry, error) {
	req := model.ScanRequest{Objects: []model.Sighting{sighting}}
	var resp model.ScanResponse
	if err := c.do(ctx, http.MethodPost, "/resolve-scan", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Metadata) != 1 {
		return nil, fmt.Errorf("server returned %d entries for one sighting", len(resp.Metadata))
	}
	return &resp.Metadata[0], nil
}

// List returns all devices
func (c *Client) List(ctx context.Context) ([]model.Device, error) {
	var devices []model.Device
	if err := c.do(ctx, http.MethodGet, "/api/devices", nil, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// Get returns one device
func (c *Client) Get(ctx context.Context, id string) (*model.Device, error) {
	var device model.Device
	if err := c.do(ctx, http.MethodGet, "/api/devices/"+url.PathEscape(id), nil, &device); err != nil {
		return nil, err
	}
	return &device, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return serverError(resp)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func serverError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, body.Error)
	}
	return fmt.Errorf("server error: %s", resp.Status)
}
