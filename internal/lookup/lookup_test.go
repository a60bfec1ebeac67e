package lookup

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/acet/internal/api"
	"github.com/xaenox/acet/internal/conversation"
	"github.com/xaenox/acet/internal/models"
	"github.com/xaenox/acet/internal/typing"
)

const (
	timeout = time.Second
	tick    = 5 * time.Millisecond
)

func TestParseCategory(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		wantText string
		wantCat  string
	}{
		{
			name:     "trailing line",
			in:       "A derivative measures change.\nCATEGORY: Mathematics",
			wantText: "A derivative measures change.",
			wantCat:  "Mathematics",
		},
		{
			name:     "same line at end",
			in:       "A derivative measures change. CATEGORY: Mathematics",
			wantText: "A derivative measures change.",
			wantCat:  "Mathematics",
		},
		{
			name:     "absent",
			in:       "Just an explanation.\n",
			wantText: "Just an explanation.\n",
			wantCat:  models.DefaultCategory,
		},
		{
			name:     "case insensitive with markdown",
			in:       "Text.\n\n**Category:** biology\n",
			wantText: "Text.",
			wantCat:  "biology",
		},
		{
			name:     "first of several wins and all are stripped",
			in:       "CATEGORY: Physics\nBody.\nCATEGORY: Chemistry",
			wantText: "Body.",
			wantCat:  "Physics",
		},
		{
			name:     "mid sentence is not a tag",
			in:       "The word CATEGORY: is used in type theory.\nMore text.",
			wantText: "The word CATEGORY: is used in type theory.\nMore text.",
			wantCat:  models.DefaultCategory,
		},
		{
			name:     "tag line followed by a sentence is text",
			in:       "Intro.\nCategory: theory matters here because reasons.\nMore text.\nCATEGORY: Biology",
			wantText: "Intro.\nCategory: theory matters here because reasons.\nMore text.",
			wantCat:  "Biology",
		},
		{
			name:     "several words are not a category",
			in:       "Body.\nCATEGORY: Cell Biology",
			wantText: "Body.\nCATEGORY: Cell Biology",
			wantCat:  models.DefaultCategory,
		},
		{
			name:     "closing period",
			in:       "Body.\nCategory: Physics.",
			wantText: "Body.",
			wantCat:  "Physics",
		},
		{
			name:     "empty tag value",
			in:       "Body.\nCATEGORY:",
			wantText: "Body.",
			wantCat:  models.DefaultCategory,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, cat := ParseCategory(tt.in)
			assert.Equal(t, tt.wantText, text)
			assert.Equal(t, tt.wantCat, cat)
		})
	}
}

type fakeInterpreter struct {
	reply string
	err   error
	got   api.InterpretRequest
}

func (f *fakeInterpreter) Interpret(_ context.Context, req api.InterpretRequest) (*api.InterpretResponse, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &api.InterpretResponse{Type: api.TypeText, Response: f.reply}, nil
}

type fakeGlossary struct {
	mu    sync.Mutex
	terms []models.GlossaryTerm
	err   error
}

func (f *fakeGlossary) AddTerm(_ context.Context, term, explanation, category string) (*models.GlossaryTerm, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	t := models.GlossaryTerm{ID: int64(len(f.terms) + 1), Term: term, Explanation: explanation, Category: category}
	f.terms = append(f.terms, t)
	return &t, nil
}

func (f *fakeGlossary) ListTerms(context.Context) ([]models.GlossaryTerm, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.GlossaryTerm(nil), f.terms...), nil
}

func (f *fakeGlossary) DeleteTermByText(context.Context, string) (int64, error) { return 0, nil }
func (f *fakeGlossary) DeleteTermByID(context.Context, int64) (int64, error)    { return 0, nil }

type counter struct{ n atomic.Int32 }

func (c *counter) Bump() { c.n.Add(1) }

func newService(interp Interpreter, glossary api.GlossaryStore, reloads Reloader) (*Service, *conversation.Store) {
	store := conversation.NewStore()
	return New(store, typing.NewEngine(store, 0), interp, glossary, reloads, zap.NewNop()), store
}

func TestLookup_MitochondriaScenario(t *testing.T) {
	interp := &fakeInterpreter{reply: "Mitochondria are the powerhouse of the cell.\nCATEGORY: Biology"}
	glossary := &fakeGlossary{}
	reloads := &counter{}
	svc, store := newService(interp, glossary, reloads)

	replyID, err := svc.Lookup(context.Background(), "  mitochondria ")
	require.NoError(t, err)
	svc.Wait()

	require.Eventually(t, func() bool {
		m, ok := store.Get(replyID)
		return ok && m.Kind == models.KindText
	}, timeout, tick)

	snap := store.Snapshot()
	require.Len(t, snap, 2)
	assert.True(t, snap[0].IsUser)
	assert.Equal(t, `explain the "mitochondria" to me`, snap[0].Content)
	assert.Equal(t, "Mitochondria are the powerhouse of the cell.", snap[1].Content)
	assert.NotContains(t, snap[1].Content, "CATEGORY:")

	assert.Contains(t, interp.got.Text, "CATEGORY:")
	assert.Contains(t, interp.got.Text, `"mitochondria"`)

	terms, _ := glossary.ListTerms(context.Background())
	require.Len(t, terms, 1)
	assert.Equal(t, "mitochondria", terms[0].Term)
	assert.Equal(t, "Biology", terms[0].Category)
	assert.Equal(t, "Mitochondria are the powerhouse of the cell.", terms[0].Explanation)
	assert.EqualValues(t, 1, reloads.n.Load())
}

func TestLookup_PersistenceFailureIsSwallowed(t *testing.T) {
	interp := &fakeInterpreter{reply: "An enzyme speeds up reactions."}
	glossary := &fakeGlossary{err: errors.New("duplicate term")}
	reloads := &counter{}
	svc, store := newService(interp, glossary, reloads)

	_, err := svc.Lookup(context.Background(), "enzyme")
	require.NoError(t, err)
	svc.Wait()

	assert.Len(t, store.Snapshot(), 2)
	assert.Zero(t, reloads.n.Load())
}

func TestLookup_InterpretFailureRemovesPlaceholder(t *testing.T) {
	interp := &fakeInterpreter{err: errors.New("timeout")}
	svc, store := newService(interp, &fakeGlossary{}, &counter{})

	_, err := svc.Lookup(context.Background(), "enzyme")
	require.Error(t, err)

	snap := store.Snapshot()
	require.Len(t, snap, 1)
	assert.True(t, snap[0].IsUser)
}

func TestLookup_EmptySelection(t *testing.T) {
	svc, store := newService(&fakeInterpreter{}, &fakeGlossary{}, nil)

	_, err := svc.Lookup(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptySelection)
	assert.Zero(t, store.Len())
}
