package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/acet/internal/models"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	return c
}

func TestInterpretSendsMultipartForm(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/interpret", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "hello", r.FormValue("text"))

		var history []models.HistoryEntry
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("history")), &history))
		assert.Equal(t, []models.HistoryEntry{{Content: "hi", IsUser: true, Type: models.KindText}}, history)

		files := r.MultipartForm.File[ImagesField]
		require.Len(t, files, 1)
		assert.Equal(t, "cat.png", files[0].Filename)

		w.Write([]byte(`{"type":"txt","response":"Hi there."}`))
	})

	resp, err := c.Interpret(context.Background(), InterpretRequest{
		Text:    "hello",
		History: []models.HistoryEntry{{Content: "hi", IsUser: true, Type: models.KindText}},
		Images:  []models.Attachment{{Name: "cat.png", Data: []byte("png")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi there.", resp.Text())
	assert.False(t, resp.IsGeneration())
}

func TestGenerateImageSendsJobHeader(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "job-7", r.Header.Get(JobIDHeader))
		var req GenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "a fox", req.Prompt)
		w.Write([]byte(`{"image_urls":["u1"],"remix_data":{"prompt":"p","model":"SD 1.5"}}`))
	})

	resp, err := c.GenerateImage(context.Background(), GenerateRequest{Prompt: "a fox", Model: "SD 1.5"}, "job-7")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, resp.ImageURLs)
	require.NotNil(t, resp.Data())
	assert.Equal(t, "p", resp.Data().Prompt)
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"detail", http.StatusInternalServerError, `{"detail":"Failed to generate any images"}`, "returned status 500: Failed to generate any images"},
		{"error key", http.StatusBadRequest, `{"error":"bad"}`, "returned status 400: bad"},
		{"plain", http.StatusBadGateway, `upstream`, "returned status 502: upstream"},
		{"malformed", http.StatusOK, `{`, "decode response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := c.GenerateImage(context.Background(), GenerateRequest{}, "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestJobStatusNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"Job not found"}`))
	})
	_, err := c.JobStatus(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGlossaryCalls(t *testing.T) {
	var calls []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.EscapedPath())
		switch {
		case r.Method == http.MethodPost:
			var req AddTermRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			json.NewEncoder(w).Encode(models.GlossaryTerm{ID: 3, Term: req.Term, Category: req.Category})
		case r.Method == http.MethodGet:
			w.Write([]byte(`{"terms":[{"id":3,"term":"ohm"}]}`))
		default:
			w.Write([]byte(`{"deleted":1}`))
		}
	})
	ctx := context.Background()

	term, err := c.AddTerm(ctx, "ohm", "unit", "Physics")
	require.NoError(t, err)
	assert.EqualValues(t, 3, term.ID)

	terms, err := c.ListTerms(ctx)
	require.NoError(t, err)
	require.Len(t, terms, 1)

	n, err := c.DeleteTermByText(ctx, "red blood cell")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = c.DeleteTermByID(ctx, 3)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"POST /glossary",
		"GET /glossary",
		"DELETE /glossary/term/red%20blood%20cell",
		"DELETE /glossary/3",
	}, calls)
}

func TestTranscribe(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		f, fh, err := r.FormFile("file")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "voice.ogg", fh.Filename)
		if string(data) == "silence" {
			w.Write([]byte(`{"error":"Failed to transcribe audio","details":"empty"}`))
			return
		}
		w.Write([]byte(`{"text":"what is an ohm"}`))
	})

	text, err := c.Transcribe(context.Background(), "voice.ogg", strings.NewReader("audio"))
	require.NoError(t, err)
	assert.Equal(t, "what is an ohm", text)

	_, err = c.Transcribe(context.Background(), "voice.ogg", strings.NewReader("silence"))
	assert.ErrorContains(t, err, "Failed to transcribe audio")
}

func TestParseBaseURL(t *testing.T) {
	u, err := parseBaseURL("localhost:9000/ignored?x=1")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000", u.String())

	u, err = parseBaseURL("")
	require.NoError(t, err)
	assert.Equal(t, defaultBaseURL, u.String())
}
