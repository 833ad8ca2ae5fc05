// Package mailmerge is a client for the mail merge HTTP API.
package mailmerge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Config holds the configuration for the client.
type Config struct {
	// BaseURL is the root URL of the server.
	// Examples: "http://localhost:8080" or "http://localhost:8080/api/v1"
	// The "/api/v1" suffix is appended automatically if missing.
	BaseURL string

	// PollInterval is how often Wait polls the session state.
	// Default: 2 seconds
	PollInterval time.Duration

	// HTTPClient is an optional custom HTTP client.
	// If nil, a default client with 30s timeout is used.
	HTTPClient *http.Client
}

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	if !strings.HasSuffix(c.BaseURL, "/api/v1") {
		c.BaseURL = c.BaseURL + "/api/v1"
	}
}

// Client calls the mail merge API.
type Client struct {
	cfg Config
}

// NewClient creates a new client with the given configuration.
func NewClient(cfg Config) *Client {
	cfg.defaults()
	return &Client{cfg: cfg}
}

// State returns the current session state.
func (c *Client) State(ctx context.Context) (*State, error) {
	var s State
	if err := c.do(ctx, http.MethodGet, "/state", nil, "", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// UploadRows uploads a .csv or .xlsx recipient list. filename selects the format.
func (c *Client) UploadRows(ctx context.Context, filename string, r io.Reader) (*State, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("mailmerge: failed to build upload: %w", err)
	}
	if _, err := io.Copy(fw, r); err != nil {
		return nil, fmt.Errorf("mailmerge: failed to read rows: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("mailmerge: failed to build upload: %w", err)
	}

	var s State
	if err := c.do(ctx, http.MethodPost, "/rows", &buf, mw.FormDataContentType(), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ImportSheet loads the rows of a Google Sheet owned by the signed-in account.
func (c *Client) ImportSheet(ctx context.Context, spreadsheet, readRange string) (*State, error) {
	var s State
	err := c.doJSON(ctx, http.MethodPost, "/rows/sheet", map[string]string{
		"spreadsheet": spreadsheet,
		"range":       readRange,
	}, &s)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Rows returns the working recipient table.
func (c *Client) Rows(ctx context.Context) (*Rows, error) {
	var rows Rows
	if err := c.do(ctx, http.MethodGet, "/rows", nil, "", &rows); err != nil {
		return nil, err
	}
	return &rows, nil
}

// ReplaceRows replaces the working table with an edited one.
func (c *Client) ReplaceRows(ctx context.Context, rows *Rows) (*State, error) {
	var s State
	if err := c.doJSON(ctx, http.MethodPut, "/rows", rows, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Preview renders the templates against the first row.
func (c *Client) Preview(ctx context.Context, subject, body string) (*Preview, error) {
	var p Preview
	err := c.doJSON(ctx, http.MethodPost, "/preview", map[string]string{
		"subject": subject,
		"body":    body,
	}, &p)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Dispatch starts a batch and returns its effective configuration. The
// batch runs on the server; use Wait to block until it finishes.
func (c *Client) Dispatch(ctx context.Context, req DispatchRequest) (*RunConfig, error) {
	var rc RunConfig
	if err := c.doJSON(ctx, http.MethodPost, "/dispatch", req, &rc); err != nil {
		return nil, err
	}
	return &rc, nil
}

// Wait polls the session until it leaves the dispatching phase. progress
// may be nil.
func (c *Client) Wait(ctx context.Context, progress func(Progress)) (*State, error) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		s, err := c.State(ctx)
		if err != nil {
			return nil, err
		}
		if progress != nil {
			progress(s.Progress)
		}
		if s.Phase != PhaseDispatching {
			return s, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Export writes the result CSV of the last run to w.
func (c *Client) Export(ctx context.Context, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/export", nil)
	if err != nil {
		return fmt.Errorf("mailmerge: failed to create request: %w", err)
	}
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("mailmerge: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return parseAPIError(resp.StatusCode, body)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("mailmerge: failed to read export: %w", err)
	}
	return nil
}

// Reset clears the completed run so that the next batch can start.
func (c *Client) Reset(ctx context.Context) (*State, error) {
	var s State
	if err := c.do(ctx, http.MethodPost, "/reset", nil, "", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Runs lists recent completed runs. The server must have run history enabled.
func (c *Client) Runs(ctx context.Context, limit int) ([]Summary, error) {
	path := "/runs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Runs []Summary `json:"runs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, "", &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("mailmerge: failed to marshal request: %w", err)
	}
	return c.do(ctx, method, path, bytes.NewReader(data), "application/json", out)
}

// do sends a request and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("mailmerge: failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("mailmerge: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("mailmerge: failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseAPIError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("mailmerge: failed to parse response: %w", err)
	}
	return nil
}
