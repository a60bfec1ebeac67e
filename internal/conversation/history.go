package conversation

import "github.com/xaenox/acet/internal/models"

// History converts settled messages into interpreter history entries.
// Placeholders and image sets carry no useful text and are skipped.
func History(messages []models.Message) []models.HistoryEntry {
	out := make([]models.HistoryEntry, 0, len(messages))
	for _, m := range messages {
		if m.Kind != models.KindText || m.Content == "" {
			continue
		}
		out = append(out, models.HistoryEntry{
			Content: m.Content,
			IsUser:  m.IsUser,
			Type:    m.Kind,
		})
	}
	return out
}

// LastUserText returns the newest plain text message the user typed.
// Requests that point at an image are skipped.
func LastUserText(messages []models.Message) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.IsUser && m.Kind == models.KindText && len(m.ImageURLs) == 0 {
			return m.ID, true
		}
	}
	return "", false
}

// LastImageSet returns the newest completed image set.
func LastImageSet(messages []models.Message) (models.Message, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Kind == models.KindGeneratedImage && len(m.ImageURLs) > 0 {
			return m, true
		}
	}
	return models.Message{}, false
}
