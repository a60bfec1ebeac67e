package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image/color"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/acet/internal/api"
	"github.com/xaenox/acet/internal/civitai"
	"github.com/xaenox/acet/internal/interpreter"
	"github.com/xaenox/acet/internal/jobstore"
	"github.com/xaenox/acet/internal/models"
	"github.com/xaenox/acet/internal/storage"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeInterpreter struct {
	mu          sync.Mutex
	result      interpreter.Result
	err         error
	enhanced    string
	enhanceErr  error
	suggested   map[string]models.Network
	transcript  string
	lastHistory []models.HistoryEntry
	lastImages  int
	onEnhance   func()
}

func (f *fakeInterpreter) Interpret(ctx context.Context, text string, history []models.HistoryEntry, images []models.Attachment) (interpreter.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastHistory = history
	f.lastImages = len(images)
	return f.result, f.err
}

func (f *fakeInterpreter) EnhancePrompt(ctx context.Context, prompt string) (string, map[string]models.Network, error) {
	if f.onEnhance != nil {
		f.onEnhance()
	}
	if f.enhanceErr != nil {
		return prompt, nil, f.enhanceErr
	}
	if f.enhanced == "" {
		return prompt, f.suggested, nil
	}
	return f.enhanced, f.suggested, nil
}

func (f *fakeInterpreter) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	data, _ := io.ReadAll(audio)
	if len(data) == 0 {
		return "", errors.New("empty audio")
	}
	return f.transcript, nil
}

type fakeGenerator struct {
	mu            sync.Mutex
	requests      []civitai.JobRequest
	err           error
	failDownloads int
}

func (f *fakeGenerator) Generate(ctx context.Context, req civitai.JobRequest) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", "", f.err
	}
	return "civitai-" + uuid.NewString(), "https://blob.example/img", nil
}

func (f *fakeGenerator) Download(ctx context.Context, blobURL string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDownloads > 0 {
		f.failDownloads--
		return nil, errors.New("blob expired")
	}
	return pngBytes(8, 8), nil
}

func pngBytes(w, h int) []byte {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.New(w, h, color.White), imaging.PNG); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

type harness struct {
	srv      *Server
	interp   *fakeInterpreter
	gen      *fakeGenerator
	glossary *storage.MemoryStorage
	jobs     *jobstore.Store
	output   string
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	jobs, err := jobstore.Open(filepath.Join(t.TempDir(), "jobs"))
	require.NoError(t, err)
	t.Cleanup(func() { jobs.Close() })

	cfg := Config{OutputDir: filepath.Join(t.TempDir(), "output"), PublicURL: "http://relay.test"}
	if mutate != nil {
		mutate(&cfg)
	}
	h := &harness{
		interp:   &fakeInterpreter{},
		gen:      &fakeGenerator{},
		glossary: storage.NewMemoryStorage(),
		jobs:     jobs,
		output:   cfg.OutputDir,
	}
	h.srv, err = New(cfg, h.interp, h.gen, interpreter.DefaultCatalog(), h.glossary, jobs, zap.NewNop())
	require.NoError(t, err)
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestInterpret(t *testing.T) {
	h := newHarness(t, nil)
	h.interp.result = interpreter.Result{Type: "txt", Response: "Hi there."}

	form := url.Values{
		"text":    {"hello"},
		"history": {`[{"content":"hey","isUser":true,"type":"text"},{"content":"yo","isUser":false,"type":"text"}]`},
	}
	req := httptest.NewRequest(http.MethodPost, "/interpret", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[api.InterpretResponse](t, rec)
	assert.Equal(t, "txt", resp.Type)
	assert.Equal(t, "Hi there.", resp.Text())
	assert.Len(t, h.interp.lastHistory, 2)
}

func TestInterpretWithImagesAndBadHistory(t *testing.T) {
	h := newHarness(t, nil)
	h.interp.result = interpreter.Result{Type: "img2img", Response: "Remixing.", NumImages: 1}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	require.NoError(t, w.WriteField("text", "make it blue"))
	require.NoError(t, w.WriteField("history", "{broken"))
	part, err := w.CreateFormFile("images", "cat.png")
	require.NoError(t, err)
	part.Write(pngBytes(2, 2))
	part, err = w.CreateFormFile(api.ImagesField, "dog.png")
	require.NoError(t, err)
	part.Write(pngBytes(2, 2))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/interpret", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, h.interp.lastImages)
	assert.Nil(t, h.interp.lastHistory)
}

func TestInterpretErrors(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodPost, "/interpret", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	h.interp.err = errors.New("groq down")
	form := url.Values{"text": {"hi"}}
	req := httptest.NewRequest(http.MethodPost, "/interpret", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode[api.ErrorResponse](t, rec).Detail, "groq down")
}

func TestGenerateImage(t *testing.T) {
	h := newHarness(t, nil)
	h.interp.enhanced = "((watercolor fox)), forest"
	jobID := uuid.NewString()

	rec := h.do(t, http.MethodPost, "/generate-image", api.GenerateRequest{
		Prompt:    "a watercolor fox",
		Model:     "SD 1.5",
		NumImages: 2,
	}, api.JobIDHeader, jobID)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, jobID, rec.Header().Get(api.JobIDHeader))

	resp := decode[api.ImageSetResponse](t, rec)
	require.Len(t, resp.ImageURLs, 2)
	assert.Len(t, resp.CivitaiJobIDs, 2)
	for _, u := range resp.ImageURLs {
		assert.True(t, strings.HasPrefix(u, "http://relay.test/image/civitai_"), u)
		_, err := os.Stat(filepath.Join(h.output, filepath.Base(u)))
		assert.NoError(t, err)
	}

	data := resp.Data()
	require.NotNil(t, data)
	assert.Equal(t, "((watercolor fox)), forest", data.Prompt)
	assert.Equal(t, "a watercolor fox", data.OriginalPrompt)
	assert.True(t, data.PromptEnhanced)
	assert.Contains(t, data.Loras, "urn:air:sd1:lora:civitai:105784@113556")

	require.Len(t, h.gen.requests, 2)
	assert.Equal(t, "urn:air:sd1:checkpoint:civitai:15003@1460987", h.gen.requests[0].Model)

	rec = h.do(t, http.MethodGet, "/jobs/"+jobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	job := decode[models.Job](t, rec)
	assert.Equal(t, models.JobCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
}

func TestGenerateImageFailures(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/generate-image", api.GenerateRequest{Prompt: "x", Model: "SDXL Turbo"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[api.ErrorResponse](t, rec).Detail, "not found in models library")

	h.gen.err = errors.New("civitai down")
	h.interp.enhanceErr = errors.New("groq down")
	jobID := uuid.NewString()
	rec = h.do(t, http.MethodPost, "/generate-image", api.GenerateRequest{Prompt: "x", Model: "SD 1.5"}, api.JobIDHeader, jobID)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	job, err := h.jobs.Get(jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, job.Status)
}

func TestGenerateImageRecordsJobBeforeEnhancing(t *testing.T) {
	h := newHarness(t, nil)
	jobID := uuid.NewString()
	var recorded *models.Job
	h.interp.onEnhance = func() {
		recorded, _ = h.jobs.Get(jobID)
	}

	rec := h.do(t, http.MethodPost, "/generate-image", api.GenerateRequest{Prompt: "a fox", Model: "SD 1.5"}, api.JobIDHeader, jobID)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, recorded)
	assert.Equal(t, "generate", recorded.Type)
	assert.Equal(t, models.JobPending, recorded.Status)
}

func TestGenerateImageDropsIDsOfLostImages(t *testing.T) {
	h := newHarness(t, nil)
	h.gen.failDownloads = 1

	rec := h.do(t, http.MethodPost, "/generate-image", api.GenerateRequest{Prompt: "a fox", Model: "SD 1.5", NumImages: 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[api.ImageSetResponse](t, rec)
	assert.Len(t, resp.ImageURLs, 1)
	assert.Len(t, resp.CivitaiJobIDs, 1)
}

func writeOutput(t *testing.T, h *harness, name string, w, hgt int) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(h.output, name), pngBytes(w, hgt), 0o644))
}

func TestRemixImage(t *testing.T) {
	h := newHarness(t, nil)
	writeOutput(t, h, "source.png", 16, 16)

	rec := h.do(t, http.MethodPost, "/remix-image", api.RemixRequest{
		ImageURL: "http://relay.test/image/source.png",
		Prompt:   "a fox",
		Model:    "SD 1.5",
		Strength: 5,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[api.ImageSetResponse](t, rec)
	assert.Len(t, resp.ImageURLs, maxRemixImages)
	require.NotNil(t, resp.RemixData)
	assert.Equal(t, 1.0, resp.RemixData.Strength)
	assert.Equal(t, "http://relay.test/image/source.png", resp.RemixData.SourceImage)

	rec = h.do(t, http.MethodPost, "/remix-image", api.RemixRequest{Prompt: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRemixImageFromDataURL(t *testing.T) {
	h := newHarness(t, nil)
	jobID := uuid.NewString()
	var recorded *models.Job
	h.interp.onEnhance = func() {
		recorded, _ = h.jobs.Get(jobID)
	}

	src := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(16, 16))
	rec := h.do(t, http.MethodPost, "/remix-image", api.RemixRequest{
		ImageURL:  src,
		Prompt:    "make it blue",
		Model:     "SD 1.5",
		NumImages: 1,
	}, api.JobIDHeader, jobID)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, recorded)
	assert.Equal(t, "remix", recorded.Type)

	resp := decode[api.ImageSetResponse](t, rec)
	assert.Len(t, resp.ImageURLs, 1)
	require.NotNil(t, resp.RemixData)
	assert.Equal(t, "data:image/png;base64", resp.RemixData.SourceImage)
}

func TestRemixImageBadSourceFailsJob(t *testing.T) {
	h := newHarness(t, nil)
	jobID := uuid.NewString()

	rec := h.do(t, http.MethodPost, "/remix-image", api.RemixRequest{
		ImageURL: "%%not an image%%",
		Prompt:   "x",
	}, api.JobIDHeader, jobID)
	assert.NotEqual(t, http.StatusOK, rec.Code)

	job, err := h.jobs.Get(jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, job.Status)
}

func TestUpscaleImage(t *testing.T) {
	h := newHarness(t, nil)
	writeOutput(t, h, "small.png", 10, 6)

	rec := h.do(t, http.MethodPost, "/upscale-image/small.png", api.UpscaleRequest{ScaleFactor: 2, Upscaler: "4x-UltraSharp"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[models.ResizeData](t, rec)
	assert.Equal(t, 20, resp.Width)
	assert.Equal(t, 12, resp.Height)
	assert.Equal(t, 10, resp.OriginalWidth)
	assert.Equal(t, 6, resp.OriginalHeight)
	assert.Equal(t, "4x-UltraSharp", resp.Upscaler)

	rec = h.do(t, http.MethodPost, "/upscale-image/small.png", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2.0, decode[models.ResizeData](t, rec).ScaleFactor)

	rec = h.do(t, http.MethodPost, "/upscale-image/missing.png", api.DefaultUpscale())
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodPost, "/upscale-image/small.png", api.UpscaleRequest{ScaleFactor: 9})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResizeAndWallpaper(t *testing.T) {
	h := newHarness(t, nil)
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(40, 20))

	rec := h.do(t, http.MethodPost, "/resize-image", api.ResizeRequest{Image: dataURL, Width: 20, FitMethod: "contain"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[models.ResizeData](t, rec)
	assert.Equal(t, 20, resp.Width)
	assert.Equal(t, 10, resp.Height)
	assert.Equal(t, "png", resp.Format)

	rec = h.do(t, http.MethodPost, "/wallpaper/mac", api.ResizeRequest{Image: dataURL, FitMethod: "cover"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp = decode[models.ResizeData](t, rec)
	assert.Equal(t, 1512, resp.Width)
	assert.Equal(t, 982, resp.Height)
	assert.Equal(t, "cover", resp.FitMethod)

	rec = h.do(t, http.MethodPost, "/wallpaper/toaster", api.ResizeRequest{Image: dataURL})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/resize-image", api.ResizeRequest{Image: dataURL})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/resize-image", api.ResizeRequest{Image: dataURL, Width: 5, OutputFormat: "webp"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeImage(t *testing.T) {
	h := newHarness(t, nil)
	writeOutput(t, h, "here.png", 2, 2)

	rec := h.do(t, http.MethodGet, "/image/here.png", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pngBytes(2, 2), rec.Body.Bytes())

	rec = h.do(t, http.MethodGet, "/image/gone.png", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGlossaryRoutes(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/glossary", api.AddTermRequest{Term: "ohm", Explanation: "unit", Category: "Physics"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ohm := decode[models.GlossaryTerm](t, rec)

	rec = h.do(t, http.MethodPost, "/glossary", api.AddTermRequest{Term: "ohm"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = h.do(t, http.MethodPost, "/glossary", api.AddTermRequest{Term: " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/glossary", api.AddTermRequest{Term: "cell", Explanation: "life"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = h.do(t, http.MethodGet, "/glossary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[api.TermListResponse](t, rec).Terms, 2)

	rec = h.do(t, http.MethodGet, "/glossary/categories", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cats := decode[api.CategoryListResponse](t, rec).Categories
	require.Len(t, cats, 2)
	assert.Equal(t, "Physics", cats[0].Category)
	assert.Equal(t, models.DefaultCategory, cats[1].Category)

	rec = h.do(t, http.MethodDelete, "/glossary/"+strconv.FormatInt(ohm.ID, 10), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[api.DeleteResponse](t, rec).Deleted)

	rec = h.do(t, http.MethodDelete, "/glossary/"+strconv.FormatInt(ohm.ID, 10), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decode[api.DeleteResponse](t, rec).Deleted)

	rec = h.do(t, http.MethodDelete, "/glossary/term/cell", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[api.DeleteResponse](t, rec).Deleted)

	rec = h.do(t, http.MethodDelete, "/glossary/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTranscribe(t *testing.T) {
	h := newHarness(t, nil)
	h.interp.transcript = "what is an ohm"

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "voice.ogg")
	require.NoError(t, err)
	part.Write([]byte("audio"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "what is an ohm", decode[api.TranscribeResponse](t, rec).Text)

	rec = h.do(t, http.MethodPost, "/api/transcribe", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, decode[api.TranscribeResponse](t, rec).Error)
}

func TestMiddleware(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.RateLimit = 0.001
		c.RateBurst = 2
	})

	rec := h.do(t, http.MethodOptions, "/glossary", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/", nil).Code)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, h.do(t, http.MethodGet, "/", nil).Code)

	rec = h.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "acet_http_requests_total")
}

func TestPruneOutputs(t *testing.T) {
	h := newHarness(t, nil)
	writeOutput(t, h, "old.png", 2, 2)
	writeOutput(t, h, "new.png", 2, 2)
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(h.output, "old.png"), old, old))

	files, _, err := h.srv.PruneOutputs(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, files)

	_, err = os.Stat(filepath.Join(h.output, "old.png"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(h.output, "new.png"))
	assert.NoError(t, err)
}

func TestStartRetentionRejectsBadCron(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.RetentionMaxAge = time.Hour
		c.RetentionCron = "not a cron"
	})
	assert.Error(t, h.srv.StartRetention(context.Background()))
}
