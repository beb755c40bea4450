// Package sdk provides a Go client for the fraudeagle results API.
//
// Basic usage:
//
//	c := sdk.NewClient("http://localhost:8090")
//	runs, err := c.ListRuns(ctx, sdk.ListOptions{Limit: 10})
//	top, err := c.TopReviewers(ctx, runs[0].ID, 20)
package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned when the API answers 404.
var ErrNotFound = errors.New("not found")

// Run summarizes one stored analysis run.
type Run struct {
	ID         string        `json:"id"`
	Dataset    string        `json:"dataset,omitempty"`
	Epsilon    float64       `json:"epsilon"`
	Iterations int           `json:"iterations"`
	Delta      float64       `json:"delta"`
	Converged  bool          `json:"converged"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Reviewers  int           `json:"reviewers"`
	Products   int           `json:"products"`
}

// ReviewerScore is a reviewer's anomalous score in a run.
type ReviewerScore struct {
	Name    string  `json:"name"`
	Score   float64 `json:"score"`
	Reviews int     `json:"reviews"`
}

// ProductSummary is a product's trust-weighted rating in a run.
type ProductSummary struct {
	Name    string  `json:"name"`
	Summary float64 `json:"summary"`
	Reviews int     `json:"reviews"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fraudeagle api: %d %s", e.StatusCode, e.Message)
}

// Is makes a 404 match ErrNotFound.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// ListOptions filters ListRuns.
type ListOptions struct {
	Dataset       string
	OnlyConverged bool
	Since         time.Duration
	Limit         int
}

// Client talks to a fraudeagle API server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Health checks the server.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.get(ctx, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListRuns returns stored runs, newest first.
func (c *Client) ListRuns(ctx context.Context, opts ListOptions) ([]Run, error) {
	q := url.Values{}
	if opts.Dataset != "" {
		q.Set("dataset", opts.Dataset)
	}
	if opts.OnlyConverged {
		q.Set("converged", "true")
	}
	if opts.Since > 0 {
		q.Set("since", opts.Since.String())
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	var runs []Run
	if err := c.get(ctx, "/v1/runs", q, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// LatestRun returns the most recent run.
func (c *Client) LatestRun(ctx context.Context) (*Run, error) {
	var run Run
	if err := c.get(ctx, "/v1/runs/latest", nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetRun returns one run.
func (c *Client) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	if err := c.get(ctx, "/v1/runs/"+url.PathEscape(id), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// TopReviewers returns up to limit reviewers by descending score; zero uses
// the server default.
func (c *Client) TopReviewers(ctx context.Context, runID string, limit int) ([]ReviewerScore, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var scores []ReviewerScore
	if err := c.get(ctx, "/v1/runs/"+url.PathEscape(runID)+"/reviewers", q, &scores); err != nil {
		return nil, err
	}
	return scores, nil
}

// ProductSummaries returns all product summaries of a run.
func (c *Client) ProductSummaries(ctx context.Context, runID string) ([]ProductSummary, error) {
	var sums []ProductSummary
	if err := c.get(ctx, "/v1/runs/"+url.PathEscape(runID)+"/products", nil, &sums); err != nil {
		return nil, err
	}
	return sums, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body.Error == "" {
			body.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: body.Error}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
