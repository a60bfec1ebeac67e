// Package glossary keeps a local, reconciled view of the remote glossary.
package glossary

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/acet/internal/api"
	"github.com/xaenox/acet/internal/models"
	"github.com/xaenox/acet/internal/storage"
)

const (
	DefaultInterval = 30 * time.Second
	retryBase       = 2 * time.Second
	maxBackoff      = 2 * time.Minute
)

var ErrUnknownTerm = errors.New("term not in view")

// exclusion hides a term text until the server no longer returns it.
type exclusion struct {
	id       int64
	failures int
	due      time.Time
}

// View is the server snapshot minus pending exclusions, plus UI state.
type View struct {
	remote api.GlossaryStore
	logger *zap.Logger
	now    func() time.Time

	reload  chan struct{}
	reloads int

	mu        sync.RWMutex
	terms     []models.GlossaryTerm
	loaded    bool
	lastErr   error
	pending   map[string]*exclusion
	openCats  map[string]bool
	openTerms map[int64]bool

	subMu sync.Mutex
	subs  []chan struct{}
}

func NewView(remote api.GlossaryStore, logger *zap.Logger) *View {
	return &View{
		remote:    remote,
		logger:    logger,
		now:       time.Now,
		reload:    make(chan struct{}, 1),
		pending:   make(map[string]*exclusion),
		openCats:  make(map[string]bool),
		openTerms: make(map[int64]bool),
	}
}

// Bump requests an out-of-band reload.
func (v *View) Bump() {
	v.mu.Lock()
	v.reloads++
	v.mu.Unlock()
	select {
	case v.reload <- struct{}{}:
	default:
	}
}

// Reloads returns how many times Bump was called.
func (v *View) Reloads() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.reloads
}

// Changes signals after every reload, deletion or toggle.
func (v *View) Changes() <-chan struct{} {
	ch := make(chan struct{}, 1)
	v.subMu.Lock()
	v.subs = append(v.subs, ch)
	v.subMu.Unlock()
	return ch
}

func (v *View) notify() {
	v.subMu.Lock()
	defer v.subMu.Unlock()
	for _, ch := range v.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Start reloads at a fixed interval and on every Bump until ctx ends. Each
// tick also runs Sync. It returns immediately.
func (v *View) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			v.refresh(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				v.Sync(ctx)
			case <-v.reload:
			}
		}
	}()
}

func (v *View) refresh(ctx context.Context) {
	if err := v.Reload(ctx); err != nil && ctx.Err() == nil {
		v.logger.Warn("Failed to reload glossary", zap.Error(err))
	}
}

// Reload replaces the server snapshot.
func (v *View) Reload(ctx context.Context) error {
	terms, err := v.remote.ListTerms(ctx)
	v.mu.Lock()
	if err != nil {
		v.lastErr = err
		v.mu.Unlock()
		v.notify()
		return fmt.Errorf("list terms: %w", err)
	}
	v.terms = terms
	v.loaded = true
	v.lastErr = nil
	v.mu.Unlock()
	v.notify()
	return nil
}

// Loaded reports whether a snapshot was ever fetched.
func (v *View) Loaded() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.loaded
}

// Err returns the error of the last reload, if it failed.
func (v *View) Err() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.lastErr
}

// Terms returns the visible terms, newest first as served.
func (v *View) Terms() []models.GlossaryTerm {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.visible()
}

func (v *View) visible() []models.GlossaryTerm {
	out := make([]models.GlossaryTerm, 0, len(v.terms))
	for _, t := range v.terms {
		if _, hidden := v.pending[t.Term]; hidden {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Groups returns the visible terms grouped by category.
func (v *View) Groups() []models.CategoryGroup {
	return storage.GroupByCategory(v.Terms())
}

// Term looks up a visible term by id.
func (v *View) Term(id int64) (models.GlossaryTerm, bool) {
	for _, t := range v.Terms() {
		if t.ID == id {
			return t, true
		}
	}
	return models.GlossaryTerm{}, false
}

func (v *View) ToggleCategory(category string) bool {
	v.mu.Lock()
	open := !v.openCats[category]
	v.openCats[category] = open
	v.mu.Unlock()
	v.notify()
	return open
}

func (v *View) ToggleTerm(id int64) bool {
	v.mu.Lock()
	open := !v.openTerms[id]
	v.openTerms[id] = open
	v.mu.Unlock()
	v.notify()
	return open
}

func (v *View) CategoryOpen(category string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.openCats[category]
}

func (v *View) TermOpen(id int64) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.openTerms[id]
}

// Delete hides every term sharing the text of term id, then asks the
// server to delete by text and falls back to delete by id. The term stays
// hidden whatever the server answers; Sync retries failed deletions.
func (v *View) Delete(ctx context.Context, id int64) error {
	v.mu.Lock()
	var text string
	for _, t := range v.terms {
		if t.ID == id {
			text = t.Term
			break
		}
	}
	if text == "" {
		v.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownTerm, id)
	}
	ex, ok := v.pending[text]
	if !ok {
		ex = &exclusion{id: id}
		v.pending[text] = ex
	}
	v.mu.Unlock()
	v.notify()

	return v.attempt(ctx, text, ex.id)
}

// attempt runs both server deletion strategies and books the outcome.
func (v *View) attempt(ctx context.Context, text string, id int64) error {
	err := v.deleteRemote(ctx, text, id)

	v.mu.Lock()
	defer v.mu.Unlock()
	ex, ok := v.pending[text]
	if !ok {
		return err
	}
	if err != nil {
		ex.failures++
		ex.due = v.now().Add(calculateBackoff(ex.failures, retryBase))
		v.logger.Warn("Failed to delete glossary term",
			zap.Error(err),
			zap.String("term", text),
			zap.Int("failures", ex.failures))
		return err
	}
	ex.failures = 0
	ex.due = v.now().Add(retryBase)
	return nil
}

func (v *View) deleteRemote(ctx context.Context, text string, id int64) error {
	n, textErr := v.remote.DeleteTermByText(ctx, text)
	if textErr == nil && n > 0 {
		return nil
	}
	n, idErr := v.remote.DeleteTermByID(ctx, id)
	if idErr == nil && n > 0 {
		return nil
	}
	if textErr == nil && idErr == nil {
		return fmt.Errorf("delete %q: nothing deleted", text)
	}
	return errors.Join(textErr, idErr)
}

// Sync reconciles pending exclusions with the latest snapshot: exclusions
// whose text the server no longer returns are dropped and due ones are
// retried.
func (v *View) Sync(ctx context.Context) {
	type retry struct {
		text string
		id   int64
	}
	var due []retry

	v.mu.Lock()
	present := make(map[string]bool, len(v.terms))
	for _, t := range v.terms {
		present[t.Term] = true
	}
	now := v.now()
	for text, ex := range v.pending {
		if v.loaded && !present[text] {
			delete(v.pending, text)
			continue
		}
		if !now.Before(ex.due) {
			due = append(due, retry{text: text, id: ex.id})
		}
	}
	v.mu.Unlock()

	for _, r := range due {
		if ctx.Err() != nil {
			return
		}
		_ = v.attempt(ctx, r.text, r.id)
	}
	v.notify()
}

// Pending returns the texts currently hidden, sorted.
func (v *View) Pending() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, 0, len(v.pending))
	for text := range v.pending {
		out = append(out, text)
	}
	sort.Strings(out)
	return out
}

// Reset drops every pending exclusion so the view mirrors the server again.
func (v *View) Reset() {
	v.mu.Lock()
	v.pending = make(map[string]*exclusion)
	v.mu.Unlock()
	v.notify()
}

func calculateBackoff(failures int, base time.Duration) time.Duration {
	if failures < 0 {
		failures = 0
	}
	d := base
	for i := 0; i < failures; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
