package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xaenox/acet/internal/models"
)

const (
	defaultBaseURL   = "http://127.0.0.1:8000"
	defaultUserAgent = "acet/0.1"
	requestTimeout   = 5 * time.Minute
)

var ErrNotFound = errors.New("not found")

// StatusError is returned for any non-2xx relay response.
type StatusError struct {
	Path   string
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api %s returned status %d", e.Path, e.Code)
	}
	return fmt.Sprintf("api %s returned status %d: %s", e.Path, e.Code, e.Detail)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// Relay is the surface of the relay the session engine depends on.
type Relay interface {
	Interpret(ctx context.Context, req InterpretRequest) (*InterpretResponse, error)
	GenerateImage(ctx context.Context, req GenerateRequest, jobID string) (*ImageSetResponse, error)
	RemixImage(ctx context.Context, req RemixRequest, jobID string) (*ImageSetResponse, error)
	UpscaleImage(ctx context.Context, filename string, req UpscaleRequest, jobID string) (*models.ResizeData, error)
	JobStatus(ctx context.Context, id string) (*models.Job, error)
}

// GlossaryStore is the remote glossary.
type GlossaryStore interface {
	AddTerm(ctx context.Context, term, explanation, category string) (*models.GlossaryTerm, error)
	ListTerms(ctx context.Context) ([]models.GlossaryTerm, error)
	DeleteTermByText(ctx context.Context, term string) (int64, error)
	DeleteTermByID(ctx context.Context, id int64) (int64, error)
}

var (
	_ Relay         = (*Client)(nil)
	_ GlossaryStore = (*Client)(nil)
)

// Client talks to the acet relay.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
}

func NewClient(baseURL string) (*Client, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL:   base,
		http:      &http.Client{Timeout: requestTimeout},
		userAgent: defaultUserAgent,
	}, nil
}

// BaseURL returns the relay root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

func (c *Client) Interpret(ctx context.Context, req InterpretRequest) (*InterpretResponse, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("text", req.Text); err != nil {
		return nil, fmt.Errorf("encode form: %w", err)
	}
	if len(req.History) > 0 {
		history, err := json.Marshal(req.History)
		if err != nil {
			return nil, fmt.Errorf("encode history: %w", err)
		}
		if err := w.WriteField("history", string(history)); err != nil {
			return nil, fmt.Errorf("encode form: %w", err)
		}
	}
	for _, img := range req.Images {
		part, err := w.CreateFormFile(ImagesField, img.Name)
		if err != nil {
			return nil, fmt.Errorf("encode form: %w", err)
		}
		if _, err := part.Write(img.Data); err != nil {
			return nil, fmt.Errorf("encode form: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("encode form: %w", err)
	}

	var payload InterpretResponse
	if err := c.send(ctx, http.MethodPost, "/interpret", w.FormDataContentType(), &body, nil, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *Client) GenerateImage(ctx context.Context, req GenerateRequest, jobID string) (*ImageSetResponse, error) {
	var payload ImageSetResponse
	if err := c.doJSON(ctx, http.MethodPost, "/generate-image", req, jobHeader(jobID), &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *Client) RemixImage(ctx context.Context, req RemixRequest, jobID string) (*ImageSetResponse, error) {
	var payload ImageSetResponse
	if err := c.doJSON(ctx, http.MethodPost, "/remix-image", req, jobHeader(jobID), &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *Client) UpscaleImage(ctx context.Context, filename string, req UpscaleRequest, jobID string) (*models.ResizeData, error) {
	var payload models.ResizeData
	path := "/upscale-image/" + url.PathEscape(filename)
	if err := c.doJSON(ctx, http.MethodPost, path, req, jobHeader(jobID), &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *Client) ResizeImage(ctx context.Context, req ResizeRequest) (*models.ResizeData, error) {
	var payload models.ResizeData
	if err := c.doJSON(ctx, http.MethodPost, "/resize-image", req, nil, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *Client) Wallpaper(ctx context.Context, device string, req ResizeRequest) (*models.ResizeData, error) {
	var payload models.ResizeData
	if err := c.doJSON(ctx, http.MethodPost, "/wallpaper/"+url.PathEscape(device), req, nil, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// Transcribe uploads audio and returns the recognized text.
func (c *Client) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("encode form: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("encode form: %w", err)
	}

	var payload TranscribeResponse
	if err := c.send(ctx, http.MethodPost, "/api/transcribe", w.FormDataContentType(), &body, nil, &payload); err != nil {
		return "", err
	}
	if payload.Error != "" {
		return "", fmt.Errorf("transcribe: %s: %s", payload.Error, payload.Details)
	}
	return payload.Text, nil
}

func (c *Client) JobStatus(ctx context.Context, id string) (*models.Job, error) {
	var payload models.Job
	if err := c.doJSON(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), nil, nil, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *Client) AddTerm(ctx context.Context, term, explanation, category string) (*models.GlossaryTerm, error) {
	var payload models.GlossaryTerm
	req := AddTermRequest{Term: term, Explanation: explanation, Category: category}
	if err := c.doJSON(ctx, http.MethodPost, "/glossary", req, nil, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *Client) ListTerms(ctx context.Context) ([]models.GlossaryTerm, error) {
	var payload TermListResponse
	if err := c.doJSON(ctx, http.MethodGet, "/glossary", nil, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Terms, nil
}

func (c *Client) ListCategories(ctx context.Context) ([]models.CategoryGroup, error) {
	var payload CategoryListResponse
	if err := c.doJSON(ctx, http.MethodGet, "/glossary/categories", nil, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Categories, nil
}

func (c *Client) DeleteTermByText(ctx context.Context, term string) (int64, error) {
	var payload DeleteResponse
	if err := c.doJSON(ctx, http.MethodDelete, "/glossary/term/"+url.PathEscape(term), nil, nil, &payload); err != nil {
		return 0, err
	}
	return payload.Deleted, nil
}

func (c *Client) DeleteTermByID(ctx context.Context, id int64) (int64, error) {
	var payload DeleteResponse
	if err := c.doJSON(ctx, http.MethodDelete, "/glossary/"+strconv.FormatInt(id, 10), nil, nil, &payload); err != nil {
		return 0, err
	}
	return payload.Deleted, nil
}

func jobHeader(jobID string) http.Header {
	if jobID == "" {
		return nil
	}
	return http.Header{JobIDHeader: {jobID}}
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, header http.Header, dest any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.send(ctx, method, path, contentType, body, header, dest)
}

func (c *Client) send(ctx context.Context, method, path, contentType string, body io.Reader, header http.Header, dest any) error {
	rel := &url.URL{Path: path}
	if strings.Contains(path, "%") {
		rel = &url.URL{Path: mustUnescape(path), RawPath: path}
	}
	reqURL := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return &StatusError{Path: path, Code: resp.StatusCode, Detail: readDetail(resp.Body)}
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func readDetail(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	var e struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(data, &e) == nil {
		if e.Detail != "" {
			return e.Detail
		}
		if e.Error != "" {
			return e.Error
		}
	}
	return strings.TrimSpace(string(data))
}

func mustUnescape(p string) string {
	u, err := url.PathUnescape(p)
	if err != nil {
		return p
	}
	return u
}

func parseBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = defaultBaseURL
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse relay url %q: %w", raw, err)
	}
	u.Path = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
