package conversation

import (
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xaenox/acet/internal/models"
)

func TestStore_AppendPreservesOrderAndRejectsDuplicates(t *testing.T) {
	s := NewStore()

	first := models.Message{ID: s.NewID(models.RoleUser), Content: "a", Kind: models.KindText, IsUser: true}
	second := models.Message{ID: s.NewID(models.RoleAssistant), Content: "b", Kind: models.KindText}
	require.NoError(t, s.Append(first))
	require.NoError(t, s.Append(second))

	err := s.Append(first)
	require.ErrorIs(t, err, ErrDuplicateID)

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].Content)
	assert.Equal(t, "b", snap[1].Content)
}

func TestStore_NewIDIsMonotonicAndTagged(t *testing.T) {
	s := NewStore()
	var prev int64
	for i := 0; i < 1000; i++ {
		id := s.NewID(models.RoleUser)
		require.True(t, strings.HasSuffix(id, "-user"), id)
		ts, err := strconv.ParseInt(strings.TrimSuffix(id, "-user"), 10, 64)
		require.NoError(t, err)
		require.Greater(t, ts, prev)
		prev = ts
	}
}

func TestStore_ConcurrentAppendsNeverShareIdentity(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Append(models.Message{ID: s.NewID(models.RoleUser), Kind: models.KindText})
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	require.Len(t, snap, 50)
	seen := make(map[string]bool)
	for _, m := range snap {
		require.False(t, seen[m.ID])
		seen[m.ID] = true
	}
}

func TestStore_ReplaceAndRemoveWhere(t *testing.T) {
	s := NewStore()
	loading := models.Message{ID: "1-assistant", Kind: models.KindLoading}
	text := models.Message{ID: "2-assistant", Kind: models.KindText, Content: "x"}
	require.NoError(t, s.Append(loading))
	require.NoError(t, s.Append(text))

	n := s.ReplaceWhere(ByID("1-assistant"), func(m models.Message) models.Message {
		m.Kind = models.KindText
		m.Content = "done"
		m.ID = "tampered"
		return m
	})
	assert.Equal(t, 1, n)

	got, ok := s.Get("1-assistant")
	require.True(t, ok, "updater must not change identity")
	assert.Equal(t, "done", got.Content)

	removed := s.RemoveWhere(func(m models.Message) bool { return m.Kind == models.KindText })
	assert.Equal(t, 2, removed)
	assert.Zero(t, s.Len())
}

func TestStore_SnapshotIsIndependent(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Append(models.Message{
		ID:        "1-assistant",
		ImageURLs: []string{"a"},
		GenerationData: &models.GenerationData{
			Loras: map[string]models.Network{"x": {Type: "Lora", Strength: 0.5}},
		},
	}))

	snap := s.Snapshot()
	snap[0].ImageURLs[0] = "mutated"
	snap[0].GenerationData.Loras["x"] = models.Network{Strength: 1}

	again := s.Snapshot()
	assert.Equal(t, "a", again[0].ImageURLs[0])
	assert.Equal(t, 0.5, again[0].GenerationData.Loras["x"].Strength)
}

func TestStore_SubscribeSignalsAndCancels(t *testing.T) {
	s := NewStore()
	ch, cancel := s.Subscribe()

	require.NoError(t, s.Append(models.Message{ID: "1-user"}))
	select {
	case <-ch:
	default:
		t.Fatal("expected a change signal")
	}

	cancel()
	_, open := <-ch
	assert.False(t, open)
	cancel()
}

func TestHistory_SkipsPlaceholders(t *testing.T) {
	msgs := []models.Message{
		{Content: "hi", Kind: models.KindText, IsUser: true},
		{Kind: models.KindLoading},
		{Content: "partial", Kind: models.KindTyping},
		{Content: "hello", Kind: models.KindText},
	}
	h := History(msgs)
	require.Len(t, h, 2)
	assert.True(t, h[0].IsUser)
	assert.Equal(t, "hello", h[1].Content)
}

func TestLastUserTextAndImageSet(t *testing.T) {
	msgs := []models.Message{
		{ID: "1", IsUser: true, Kind: models.KindText, Content: "draw a fox"},
		{ID: "2", Kind: models.KindText, Content: "Sure."},
		{ID: "3", Kind: models.KindGeneratedImage, ImageURLs: []string{"a"}},
		{ID: "4", IsUser: true, Kind: models.KindText, Content: "Remix this image", ImageURLs: []string{"a"}},
		{ID: "5", Kind: models.KindGeneratingImage},
	}

	id, ok := LastUserText(msgs)
	require.True(t, ok)
	assert.Equal(t, "1", id)

	set, ok := LastImageSet(msgs)
	require.True(t, ok)
	assert.Equal(t, "3", set.ID)

	_, ok = LastImageSet(msgs[:2])
	assert.False(t, ok)
	_, ok = LastUserText(nil)
	assert.False(t, ok)
}
