package tui

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/acet/internal/api"
	"github.com/xaenox/acet/internal/conversation"
	"github.com/xaenox/acet/internal/glossary"
	"github.com/xaenox/acet/internal/lookup"
	"github.com/xaenox/acet/internal/models"
	"github.com/xaenox/acet/internal/orchestrator"
	"github.com/xaenox/acet/internal/typing"
)

const (
	timeout = time.Second
	tick    = 5 * time.Millisecond
)

type fakeRelay struct{}

func (fakeRelay) Interpret(_ context.Context, req api.InterpretRequest) (*api.InterpretResponse, error) {
	return &api.InterpretResponse{Type: api.TypeText, Response: "Hi there\nCATEGORY: Greeting"}, nil
}

func (fakeRelay) GenerateImage(context.Context, api.GenerateRequest, string) (*api.ImageSetResponse, error) {
	return nil, errors.New("not used")
}

func (fakeRelay) RemixImage(context.Context, api.RemixRequest, string) (*api.ImageSetResponse, error) {
	return nil, errors.New("not used")
}

func (fakeRelay) UpscaleImage(context.Context, string, api.UpscaleRequest, string) (*models.ResizeData, error) {
	return nil, errors.New("not used")
}

func (fakeRelay) JobStatus(context.Context, string) (*models.Job, error) {
	return nil, errors.New("not used")
}

type fakeGlossary struct {
	mu    sync.Mutex
	terms []models.GlossaryTerm
}

func (f *fakeGlossary) AddTerm(_ context.Context, term, explanation, category string) (*models.GlossaryTerm, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := models.GlossaryTerm{ID: int64(len(f.terms) + 1), Term: term, Explanation: explanation, Category: category}
	f.terms = append(f.terms, t)
	return &t, nil
}

func (f *fakeGlossary) ListTerms(context.Context) ([]models.GlossaryTerm, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.GlossaryTerm(nil), f.terms...), nil
}

func (f *fakeGlossary) DeleteTermByText(_ context.Context, term string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []models.GlossaryTerm
	for _, t := range f.terms {
		if t.Term != term {
			kept = append(kept, t)
		}
	}
	n := int64(len(f.terms) - len(kept))
	f.terms = kept
	return n, nil
}

func (f *fakeGlossary) DeleteTermByID(context.Context, int64) (int64, error) {
	return 0, nil
}

type testEnv struct {
	model Model
	store *conversation.Store
	view  *glossary.View
	path  string
}

func newTestModel(t *testing.T, terms ...models.GlossaryTerm) testEnv {
	t.Helper()
	logger := zap.NewNop()
	store := conversation.NewStore()
	typist := typing.NewEngine(store, 0)
	orch := orchestrator.New(store, typist, fakeRelay{}, orchestrator.Config{}, logger)
	t.Cleanup(orch.Close)

	remote := &fakeGlossary{terms: terms}
	view := glossary.NewView(remote, logger)
	svc := lookup.New(store, typist, fakeRelay{}, remote, view, logger)
	t.Cleanup(svc.Wait)

	path := filepath.Join(t.TempDir(), "prefs.toml")
	m := New(Options{
		Context:      context.Background(),
		Store:        store,
		Orchestrator: orch,
		Lookup:       svc,
		Glossary:     view,
		PrefsPath:    path,
		Logger:       logger,
	})
	t.Cleanup(m.Close)

	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return testEnv{model: updated.(Model), store: store, view: view, path: path}
}

func lastMessage(store *conversation.Store) models.Message {
	snap := store.Snapshot()
	if len(snap) == 0 {
		return models.Message{}
	}
	return snap[len(snap)-1]
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		line     string
		wantName string
		wantArgs string
		wantOK   bool
	}{
		{line: "hello", wantOK: false},
		{line: "/quit", wantName: "quit", wantOK: true},
		{line: "/Lookup  mitochondria ", wantName: "lookup", wantArgs: "mitochondria", wantOK: true},
		{line: "/remix 2 0.5", wantName: "remix", wantArgs: "2 0.5", wantOK: true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			name, args, ok := splitCommand(tt.line)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestModel_SendPlainText(t *testing.T) {
	env := newTestModel(t)

	_, cmd := env.model.submit("hello")
	require.NotNil(t, cmd)
	assert.Nil(t, cmd())

	require.Eventually(t, func() bool {
		last := lastMessage(env.store)
		return last.Kind == models.KindText && !last.IsUser
	}, timeout, tick)
	assert.Equal(t, "Hi there\nCATEGORY: Greeting", lastMessage(env.store).Content)

	updated, _ := env.model.Update(storeChangedMsg{})
	m := updated.(Model)
	assert.Len(t, m.messages, 2)
	assert.Contains(t, m.viewport.View(), "acet")
}

func TestModel_LookupAddsTerm(t *testing.T) {
	env := newTestModel(t)

	_, cmd := env.model.submit("/lookup greeting")
	msg := cmd()
	require.IsType(t, resultMsg{}, msg)
	assert.NoError(t, msg.(resultMsg).err)

	require.Eventually(t, func() bool {
		last := lastMessage(env.store)
		return env.view.Reloads() == 1 && last.Kind == models.KindText
	}, timeout, tick)
	assert.Equal(t, "Hi there", lastMessage(env.store).Content)
}

func TestModel_GlossaryPanelToggleIsSaved(t *testing.T) {
	env := newTestModel(t)
	require.True(t, env.model.prefs.ShowGlossary)

	updated, _ := env.model.submit("/glossary")
	m := updated.(Model)
	assert.False(t, m.prefs.ShowGlossary)
	assert.False(t, LoadPrefs(env.path).ShowGlossary)
	assert.Equal(t, 120, m.viewport.Width)
}

func TestModel_GlossaryKeys(t *testing.T) {
	env := newTestModel(t, models.GlossaryTerm{ID: 1, Term: "mitochondria", Category: "Biology"})
	require.NoError(t, env.view.Reload(context.Background()))

	updated, _ := env.model.Update(glossaryChangedMsg{})
	m := updated.(Model)
	require.Len(t, m.rows, 1)

	updated, _ = m.handleKey(tea.KeyMsg{Type: tea.KeyTab})
	m = updated.(Model)
	assert.Equal(t, focusGlossary, m.focus)

	updated, _ = m.handleKey(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(Model)
	assert.True(t, env.view.CategoryOpen("Biology"))
	require.Len(t, m.rows, 2)

	updated, _ = m.handleKey(tea.KeyMsg{Type: tea.KeyDown})
	m = updated.(Model)
	_, cmd := m.handleKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})
	require.NotNil(t, cmd)
	assert.Equal(t, resultMsg{status: `Deleted "mitochondria".`}, cmd())
	assert.Empty(t, env.view.Terms())
}

func TestModel_ErrorBanner(t *testing.T) {
	env := newTestModel(t)

	updated, _ := env.model.Update(errorMsg("Failed to generate image."))
	m := updated.(Model)
	assert.Contains(t, m.View(), "Failed to generate image.")

	updated, _ = m.handleKey(tea.KeyMsg{Type: tea.KeyEsc})
	m = updated.(Model)
	assert.Empty(t, m.banner)
	assert.NotContains(t, m.View(), "Failed to generate image.")
}

func TestModel_ImageCommandsNeedImages(t *testing.T) {
	env := newTestModel(t)

	assert.Equal(t, resultMsg{status: "Generate some images first."}, env.model.remix("")())
	assert.Equal(t, resultMsg{status: "Generate some images first."}, env.model.upscale("2")())
	assert.Equal(t, resultMsg{status: "Nothing to rerun yet."}, env.model.rerun()())
}

func TestModel_UnknownCommand(t *testing.T) {
	env := newTestModel(t)

	updated, cmd := env.model.submit("/frobnicate")
	assert.Nil(t, cmd)
	assert.Contains(t, updated.(Model).status, "/frobnicate")
}
