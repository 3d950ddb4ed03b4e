package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/cornermap/sync-service/internal/config"
)

// ErrNoAPIKey is returned when the extraction service credential is absent.
// This is the only pipeline failure treated as fatal by the orchestrator.
var ErrNoAPIKey = fmt.Errorf("extraction service API key is not configured")

// Client talks to the structured-extraction service. It covers the three
// operations the pipeline needs: schema-driven extraction (synchronous or
// job-based), job polling, and raw-content scraping for the fallback path.
type Client struct {
	cfg         config.Extract
	httpClient  *http.Client
	itemPattern *regexp.Regexp
}

// NewClient creates an extraction client from configuration.
func NewClient(cfg config.Extract) (*Client, error) {
	pattern, err := regexp.Compile(cfg.EventURLPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid event URL pattern %q: %w", cfg.EventURLPattern, err)
	}

	return &Client{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		itemPattern: pattern,
	}, nil
}

// Ready reports whether the client has a credential to work with.
func (c *Client) Ready() bool {
	return strings.TrimSpace(c.cfg.APIKey) != ""
}

type extractRequest struct {
	URLs   []string        `json:"urls"`
	Prompt string          `json:"prompt"`
	Schema json.RawMessage `json:"schema,omitempty"`
}

type extractResponse struct {
	Success bool            `json:"success"`
	ID      string          `json:"id,omitempty"`
	Status  string          `json:"status,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Extract asks the service to pull schema-shaped data out of the given URLs.
// The service may answer synchronously with data, or hand back a job id that
// is then polled to completion.
func (c *Client) Extract(ctx context.Context, urls []string, prompt string, schema json.RawMessage) (json.RawMessage, error) {
	if !c.Ready() {
		return nil, ErrNoAPIKey
	}

	body, err := json.Marshal(extractRequest{URLs: urls, Prompt: prompt, Schema: schema})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal extract request: %w", err)
	}

	resp, err := c.postJSON(ctx, c.cfg.APIURL+"/v1/extract", body)
	if err != nil {
		return nil, err
	}

	if resp.ID != "" && len(resp.Data) == 0 {
		return c.pollJob(ctx, resp.ID)
	}
	if !resp.Success {
		return nil, fmt.Errorf("extraction rejected: %s", resp.Error)
	}
	return resp.Data, nil
}

// pollJob polls the job-status endpoint at a fixed interval until the job
// reaches a terminal state or the attempt ceiling is hit. There is no
// caller-driven cancellation beyond ctx; the attempt ceiling is the backstop.
func (c *Client) pollJob(ctx context.Context, jobID string) (json.RawMessage, error) {
	var payload json.RawMessage

	err := Poll(ctx, c.cfg.PollMaxAttempts, c.cfg.PollInterval, func() (bool, error) {
		resp, err := c.getJSON(ctx, c.cfg.APIURL+"/v1/extract/"+jobID)
		if err != nil {
			return false, err
		}

		switch resp.Status {
		case "completed":
			payload = resp.Data
			return true, nil
		case "failed", "cancelled":
			return false, fmt.Errorf("extraction job %s %s: %s", jobID, resp.Status, resp.Error)
		default:
			return false, nil
		}
	})
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", jobID, err)
	}

	return payload, nil
}

type scrapeRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats"`
}

// ScrapeMetadata carries the page-level metadata returned alongside scraped
// markdown content.
type ScrapeMetadata struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

type scrapeResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Markdown string         `json:"markdown"`
		Metadata ScrapeMetadata `json:"metadata"`
	} `json:"data"`
	Error string `json:"error,omitempty"`
}

// Scrape fetches a page's raw markdown content plus metadata. Used as the
// resilience path when structured extraction comes back empty.
func (c *Client) Scrape(ctx context.Context, url string) (string, ScrapeMetadata, error) {
	if !c.Ready() {
		return "", ScrapeMetadata{}, ErrNoAPIKey
	}

	body, err := json.Marshal(scrapeRequest{URL: url, Formats: []string{"markdown"}})
	if err != nil {
		return "", ScrapeMetadata{}, fmt.Errorf("failed to marshal scrape request: %w", err)
	}

	raw, err := c.doRequest(ctx, http.MethodPost, c.cfg.APIURL+"/v1/scrape", body)
	if err != nil {
		return "", ScrapeMetadata{}, err
	}

	var resp scrapeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", ScrapeMetadata{}, fmt.Errorf("failed to unmarshal scrape response: %w", err)
	}
	if !resp.Success {
		return "", ScrapeMetadata{}, fmt.Errorf("scrape rejected: %s", resp.Error)
	}

	return resp.Data.Markdown, resp.Data.Metadata, nil
}

func (c *Client) postJSON(ctx context.Context, url string, body []byte) (*extractResponse, error) {
	raw, err := c.doRequest(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}

	var resp extractResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal extract response: %w", err)
	}
	return &resp, nil
}

func (c *Client) getJSON(ctx context.Context, url string) (*extractResponse, error) {
	raw, err := c.doRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	var resp extractResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job status: %w", err)
	}
	return &resp, nil
}

// doRequest performs one HTTP call with bearer auth. Non-2xx responses are
// errors at this layer; retrying is the caller's responsibility.
func (c *Client) doRequest(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("extraction service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	return raw, nil
}
