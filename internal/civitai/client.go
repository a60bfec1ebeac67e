package civitai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xaenox/acet/internal/models"
)

const (
	DefaultBaseURL = "https://orchestration.civitai.com"

	DefaultNegativePrompt = "(deformed iris, deformed pupils, semi-realistic, cgi, 3d, render, sketch, cartoon, drawing, anime, mutated hands and fingers:1.4), (deformed, distorted, disfigured:1.3)"
	DefaultScheduler      = "EulerA"
	DefaultSteps          = 30
	DefaultCFGScale       = 7.5
	DefaultSize           = 512
	DefaultClipSkip       = 2

	defaultUserAgent = "acet/0.1"
	requestTimeout   = 5 * time.Minute
	maxImageBytes    = 64 << 20
)

var (
	ErrNoJobs  = errors.New("no jobs in response")
	ErrNoImage = errors.New("job completed without an image")
)

// Params are the generation parameters of one text-to-image job.
type Params struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negativePrompt"`
	Scheduler      string  `json:"scheduler"`
	Steps          int     `json:"steps"`
	CFGScale       float64 `json:"cfgScale"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	ClipSkip       int     `json:"clipSkip"`
	Seed           int64   `json:"seed"`
}

// WithDefaults fills zero fields with the standard generation settings.
func (p Params) WithDefaults() Params {
	if p.NegativePrompt == "" {
		p.NegativePrompt = DefaultNegativePrompt
	}
	if p.Scheduler == "" {
		p.Scheduler = DefaultScheduler
	}
	if p.Steps <= 0 {
		p.Steps = DefaultSteps
	}
	if p.CFGScale <= 0 {
		p.CFGScale = DefaultCFGScale
	}
	if p.Width <= 0 {
		p.Width = DefaultSize
	}
	if p.Height <= 0 {
		p.Height = DefaultSize
	}
	if p.ClipSkip <= 0 {
		p.ClipSkip = DefaultClipSkip
	}
	if p.Seed == 0 {
		p.Seed = -1
	}
	return p
}

// JobRequest is the body of a text-to-image submission.
type JobRequest struct {
	Type               string                    `json:"$type"`
	Model              string                    `json:"model"`
	Params             Params                    `json:"params"`
	AdditionalNetworks map[string]models.Network `json:"additionalNetworks,omitempty"`
}

type JobResult struct {
	BlobKey   string `json:"blobKey"`
	Available bool   `json:"available"`
	BlobURL   string `json:"blobUrl"`
}

type Job struct {
	JobID  string     `json:"jobId"`
	Cost   float64    `json:"cost"`
	Result *JobResult `json:"result"`
}

type JobResponse struct {
	Token string `json:"token"`
	Jobs  []Job  `json:"jobs"`
}

// Generator produces images from a prompt.
type Generator interface {
	Generate(ctx context.Context, req JobRequest) (jobID string, blobURL string, err error)
	Download(ctx context.Context, blobURL string) ([]byte, error)
}

var _ Generator = (*Client)(nil)

// Client talks to the Civitai orchestration API.
type Client struct {
	baseURL   *url.URL
	token     string
	http      *http.Client
	userAgent string
}

func NewClient(baseURL, token string) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse civitai url %q: %w", baseURL, err)
	}
	return &Client{
		baseURL:   u,
		token:     token,
		http:      &http.Client{Timeout: requestTimeout},
		userAgent: defaultUserAgent,
	}, nil
}

// Submit posts a job and waits for it to finish.
func (c *Client) Submit(ctx context.Context, req JobRequest) (*JobResponse, error) {
	if c.token == "" {
		return nil, fmt.Errorf("civitai api token is not configured")
	}
	if req.Type == "" {
		req.Type = "textToImage"
	}
	req.Params = req.Params.WithDefaults()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}

	rel := &url.URL{Path: "/v1/consumer/jobs", RawQuery: url.Values{"wait": {"true"}}.Encode()}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL.ResolveReference(rel).String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("civitai returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var payload JobResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &payload, nil
}

// Generate submits one job and returns its id and result blob URL.
func (c *Client) Generate(ctx context.Context, req JobRequest) (string, string, error) {
	resp, err := c.Submit(ctx, req)
	if err != nil {
		return "", "", err
	}
	if len(resp.Jobs) == 0 {
		return "", "", ErrNoJobs
	}
	job := resp.Jobs[0]
	if job.Result == nil || !job.Result.Available || job.Result.BlobURL == "" {
		return job.JobID, "", fmt.Errorf("job %s: %w", job.JobID, ErrNoImage)
	}
	return job.JobID, job.Result.BlobURL, nil
}

// Download fetches a result blob.
func (c *Client) Download(ctx context.Context, blobURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, blobURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return data, nil
}
