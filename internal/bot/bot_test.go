package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xaenox/acet/internal/models"
)

func kindsOf(steps []step) []stepKind {
	out := make([]stepKind, len(steps))
	for i, s := range steps {
		out[i] = s.kind
	}
	return out
}

func TestRenderer_TextReply(t *testing.T) {
	r := newRenderer()
	user := models.Message{ID: "1-user", IsUser: true, Kind: models.KindText, Content: "hello"}
	loading := models.Message{ID: "2-assistant", Kind: models.KindLoading}

	steps := r.plan([]models.Message{user, loading})
	assert.Equal(t, []stepKind{stepTyping}, kindsOf(steps))
	assert.Empty(t, r.plan([]models.Message{user, loading}))

	typingMsg := models.Message{ID: "3-assistant", Kind: models.KindTyping, Content: "Hi"}
	assert.Empty(t, r.plan([]models.Message{user, typingMsg}))

	reply := models.Message{ID: "3-assistant", Kind: models.KindText, Content: "Hi there"}
	steps = r.plan([]models.Message{user, reply})
	require.Equal(t, []stepKind{stepSend}, kindsOf(steps))
	assert.Equal(t, "Hi there", steps[0].text)

	assert.Empty(t, r.plan([]models.Message{user, reply}))
}

func TestRenderer_GenerationLifecycle(t *testing.T) {
	r := newRenderer()
	gen := models.Message{ID: "g", Kind: models.KindGeneratingImage}

	steps := r.plan([]models.Message{gen})
	require.Equal(t, []stepKind{stepSend}, kindsOf(steps))
	assert.Equal(t, "🎨 Generating… 0%", steps[0].text)
	r.bind("g", 77)

	gen.Progress = 4
	assert.Empty(t, r.plan([]models.Message{gen}), "same decile")

	gen.Progress, gen.ProgressEstimated = 43, true
	steps = r.plan([]models.Message{gen})
	require.Equal(t, []stepKind{stepEdit}, kindsOf(steps))
	assert.Equal(t, 77, steps[0].chatID)
	assert.Equal(t, "🎨 Generating… ~40%", steps[0].text)

	done := models.Message{
		ID:             "g",
		Kind:           models.KindGeneratedImage,
		ImageURLs:      []string{"http://relay/image/a.png", "http://relay/image/b.png"},
		GenerationData: &models.GenerationData{Prompt: "a fox", Model: "SD 1.5"},
		Progress:       100,
	}
	steps = r.plan([]models.Message{done})
	require.Equal(t, []stepKind{stepDelete, stepPhotos}, kindsOf(steps))
	assert.Equal(t, 77, steps[0].chatID)
	assert.Equal(t, done.ImageURLs, steps[1].urls)
	assert.Contains(t, steps[1].text, "a fox")

	assert.Empty(t, r.plan([]models.Message{done}))
}

func TestRenderer_RemovedPlaceholderIsDeleted(t *testing.T) {
	r := newRenderer()
	gen := models.Message{ID: "g", Kind: models.KindGeneratingImage}
	r.plan([]models.Message{gen})
	r.bind("g", 12)

	steps := r.plan(nil)
	require.Equal(t, []stepKind{stepDelete}, kindsOf(steps))
	assert.Equal(t, 12, steps[0].chatID)
	assert.Empty(t, r.plan(nil))

	loading := models.Message{ID: "l", Kind: models.KindLoading}
	r.plan([]models.Message{loading})
	assert.Empty(t, r.plan(nil), "loading never reached the chat")
}

func TestCaption(t *testing.T) {
	m := models.Message{
		ResizeData: &models.ResizeData{OriginalWidth: 512, OriginalHeight: 512, Width: 1024, Height: 1024, Upscaler: "4x-UltraSharp"},
		GenerationData: &models.GenerationData{
			Prompt: "a fox",
			Model:  "SD 1.5",
			Loras:  map[string]models.Network{"urn:a": {}, "urn:b": {}},
		},
	}
	got := caption(m)
	assert.Contains(t, got, "Upscaled 512x512 → 1024x1024 (4x-UltraSharp)")
	assert.Contains(t, got, "a fox\nmodel: SD 1.5\nloras: 2")
	assert.Contains(t, got, "/remix N")
}

func TestFormatGlossary(t *testing.T) {
	groups := []models.CategoryGroup{
		{Category: "Biology", Terms: []models.GlossaryTerm{{ID: 3, Term: "ATP-synthase"}}},
	}
	got := formatGlossary(groups, []string{"ion"})
	assert.Contains(t, got, "*Biology* \\(1\\)")
	assert.Contains(t, got, "ATP\\-synthase \\[3\\]")
	assert.Contains(t, got, "1 deletion\\(s\\) pending")
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `a\_b\.c\!`, escapeMarkdown("a_b.c!"))
	assert.Equal(t, `\\`, escapeMarkdown(`\`))
}

func TestAudioName(t *testing.T) {
	assert.Equal(t, "voice.ogg", audioName("audio/ogg"))
	assert.Equal(t, "voice.mp3", audioName("audio/mpeg"))
	assert.Equal(t, "voice.ogg", audioName(""))
}
