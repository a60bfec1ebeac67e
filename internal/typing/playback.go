// Package typing reveals assistant text into a conversation one rune at a time.
package typing

import (
	"context"
	"sync"
	"time"

	"github.com/xaenox/acet/internal/conversation"
	"github.com/xaenox/acet/internal/models"
)

// DefaultInterval is the per-character reveal period.
const DefaultInterval = 20 * time.Millisecond

// Engine plays text into a store. Concurrent plays on different ids are
// independent; nothing de-duplicates them.
type Engine struct {
	store    *conversation.Store
	interval time.Duration
}

// NewEngine returns an engine revealing one rune per interval. A zero or
// negative interval writes the whole text at once.
func NewEngine(store *conversation.Store, interval time.Duration) *Engine {
	return &Engine{store: store, interval: interval}
}

// Playback is a handle on one running reveal.
type Playback struct {
	done      chan struct{}
	mu        sync.Mutex
	completed bool
}

// Done is closed when the playback finishes or is cancelled.
func (p *Playback) Done() <-chan struct{} { return p.done }

// Completed reports whether the full text was revealed.
func (p *Playback) Completed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed
}

// Wait blocks until the playback ends and reports whether it completed.
func (p *Playback) Wait() bool {
	<-p.done
	return p.Completed()
}

// Play inserts an empty typing placeholder owned by messageID and reveals
// fullText into it. onComplete runs exactly once after the kind has been
// switched to text. Cancelling ctx stops the reveal and never calls
// onComplete; the revealed part is kept as text, and a message with nothing
// revealed is removed.
func (e *Engine) Play(ctx context.Context, fullText, messageID string, onComplete func()) (*Playback, error) {
	err := e.store.Append(models.Message{
		ID:   messageID,
		Kind: models.KindTyping,
	})
	if err != nil {
		return nil, err
	}

	p := &Playback{done: make(chan struct{})}
	go e.run(ctx, p, []rune(fullText), messageID, onComplete)
	return p, nil
}

func (e *Engine) run(ctx context.Context, p *Playback, text []rune, id string, onComplete func()) {
	defer close(p.done)

	if e.interval > 0 && len(text) > 0 {
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		for i := 1; i <= len(text); i++ {
			select {
			case <-ctx.Done():
				e.settle(id)
				return
			case <-ticker.C:
			}
			revealed := string(text[:i])
			e.store.ReplaceWhere(conversation.ByID(id), func(m models.Message) models.Message {
				m.Content = revealed
				return m
			})
		}
	} else if ctx.Err() != nil {
		e.settle(id)
		return
	}

	full := string(text)
	e.store.ReplaceWhere(conversation.ByID(id), func(m models.Message) models.Message {
		m.Content = full
		m.Kind = models.KindText
		return m
	})

	p.mu.Lock()
	p.completed = true
	p.mu.Unlock()

	if onComplete != nil {
		onComplete()
	}
}

// settle ends a cancelled reveal so no message is left typing.
func (e *Engine) settle(id string) {
	e.store.RemoveWhere(func(m models.Message) bool {
		return m.ID == id && m.Kind == models.KindTyping && m.Content == ""
	})
	e.store.ReplaceWhere(conversation.ByID(id), func(m models.Message) models.Message {
		if m.Kind == models.KindTyping {
			m.Kind = models.KindText
		}
		return m
	})
}
