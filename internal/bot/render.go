package bot

import (
	"fmt"
	"strings"

	"github.com/xaenox/acet/internal/models"
)

type stepKind int

const (
	stepTyping stepKind = iota
	stepSend
	stepEdit
	stepDelete
	stepPhotos
)

// step is one Telegram call needed to bring the chat in line with the store.
type step struct {
	kind   stepKind
	id     string
	chatID int
	text   string
	urls   []string
}

type rendered struct {
	kind   models.MessageKind
	text   string
	chatID int
}

// renderer remembers what each conversation message looks like in the chat.
type renderer struct {
	sent map[string]*rendered
}

func newRenderer() *renderer {
	return &renderer{sent: make(map[string]*rendered)}
}

// plan diffs messages against what was rendered and records the new state.
// Chat message ids are filled in later by bind.
func (r *renderer) plan(messages []models.Message) []step {
	var steps []step
	present := make(map[string]bool, len(messages))

	for _, m := range messages {
		present[m.ID] = true
		if m.IsUser {
			continue
		}
		prev := r.sent[m.ID]

		switch m.Kind {
		case models.KindLoading:
			if prev == nil {
				r.sent[m.ID] = &rendered{kind: m.Kind}
				steps = append(steps, step{kind: stepTyping, id: m.ID})
			}

		case models.KindText:
			if prev != nil && prev.kind == models.KindText {
				continue
			}
			r.sent[m.ID] = &rendered{kind: m.Kind, text: m.Content}
			steps = append(steps, step{kind: stepSend, id: m.ID, text: m.Content})

		case models.KindGeneratingImage:
			text := progressText(m)
			switch {
			case prev == nil:
				r.sent[m.ID] = &rendered{kind: m.Kind, text: text}
				steps = append(steps, step{kind: stepSend, id: m.ID, text: text})
			case prev.text != text:
				prev.text = text
				steps = append(steps, step{kind: stepEdit, id: m.ID, chatID: prev.chatID, text: text})
			}

		case models.KindGeneratedImage:
			if prev != nil && prev.kind == models.KindGeneratedImage {
				continue
			}
			if prev != nil && prev.chatID != 0 {
				steps = append(steps, step{kind: stepDelete, id: m.ID, chatID: prev.chatID})
			}
			r.sent[m.ID] = &rendered{kind: m.Kind}
			steps = append(steps, step{kind: stepPhotos, id: m.ID, text: caption(m), urls: m.ImageURLs})
		}
	}

	for id, prev := range r.sent {
		if present[id] {
			continue
		}
		if prev.chatID != 0 {
			steps = append(steps, step{kind: stepDelete, id: id, chatID: prev.chatID})
		}
		delete(r.sent, id)
	}
	return steps
}

// bind records the chat message that now shows id.
func (r *renderer) bind(id string, chatID int) {
	if st, ok := r.sent[id]; ok {
		st.chatID = chatID
	}
}

// progressText rounds to tens so estimated progress does not flood edits.
func progressText(m models.Message) string {
	p := m.Progress / 10 * 10
	if m.ProgressEstimated {
		return fmt.Sprintf("🎨 Generating… ~%d%%", p)
	}
	return fmt.Sprintf("🎨 Generating… %d%%", p)
}

func caption(m models.Message) string {
	var b strings.Builder
	if rd := m.ResizeData; rd != nil {
		fmt.Fprintf(&b, "Upscaled %dx%d → %dx%d", rd.OriginalWidth, rd.OriginalHeight, rd.Width, rd.Height)
		if rd.Upscaler != "" {
			fmt.Fprintf(&b, " (%s)", rd.Upscaler)
		}
		b.WriteString("\n")
	}
	if gd := m.GenerationData; gd != nil {
		fmt.Fprintf(&b, "%s\nmodel: %s", gd.Prompt, gd.Model)
		if len(gd.Loras) > 0 {
			fmt.Fprintf(&b, "\nloras: %d", len(gd.Loras))
		}
		b.WriteString("\n")
	}
	b.WriteString("/remix N · /upscale N")
	return b.String()
}
