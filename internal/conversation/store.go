// Package conversation holds the ordered message list of one chat session.
package conversation

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xaenox/acet/internal/models"
)

// ErrDuplicateID is returned when a message identity is already present.
var ErrDuplicateID = errors.New("duplicate message id")

// Predicate selects messages.
type Predicate func(models.Message) bool

// Updater derives a replacement for a selected message.
type Updater func(models.Message) models.Message

// Reducer derives the next sequence from the latest one.
type Reducer func([]models.Message) []models.Message

// ByID selects the message with the given identity.
func ByID(id string) Predicate {
	return func(m models.Message) bool { return m.ID == id }
}

// Store keeps the sequence and swaps it wholesale on every mutation.
type Store struct {
	mu       sync.RWMutex
	messages []models.Message

	idMu   sync.Mutex
	lastID int64

	subMu   sync.Mutex
	subs    map[int]chan struct{}
	nextSub int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{subs: make(map[int]chan struct{})}
}

// NewID returns an identity derived from the creation time plus a role tag.
// Identities are strictly increasing within a store.
func (s *Store) NewID(role string) string {
	s.idMu.Lock()
	ts := time.Now().UnixNano()
	if ts <= s.lastID {
		ts = s.lastID + 1
	}
	s.lastID = ts
	s.idMu.Unlock()
	return fmt.Sprintf("%d-%s", ts, role)
}

// Update applies reducer to the latest snapshot and installs the result.
func (s *Store) Update(reducer Reducer) {
	s.mu.Lock()
	next := reducer(cloneMessages(s.messages))
	s.messages = next
	s.mu.Unlock()
	s.notify()
}

// Append adds message at the end of the sequence.
func (s *Store) Append(message models.Message) error {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	var err error
	s.Update(func(current []models.Message) []models.Message {
		for _, m := range current {
			if m.ID == message.ID {
				err = fmt.Errorf("%w: %s", ErrDuplicateID, message.ID)
				return current
			}
		}
		return append(current, message.Clone())
	})
	return err
}

// ReplaceWhere replaces each matching message with updater(message) and
// returns how many were replaced.
func (s *Store) ReplaceWhere(match Predicate, updater Updater) int {
	replaced := 0
	s.Update(func(current []models.Message) []models.Message {
		next := make([]models.Message, len(current))
		for i, m := range current {
			if match(m) {
				updated := updater(m)
				updated.ID = m.ID
				next[i] = updated
				replaced++
				continue
			}
			next[i] = m
		}
		return next
	})
	return replaced
}

// RemoveWhere drops each matching message and returns how many were removed.
func (s *Store) RemoveWhere(match Predicate) int {
	removed := 0
	s.Update(func(current []models.Message) []models.Message {
		next := make([]models.Message, 0, len(current))
		for _, m := range current {
			if match(m) {
				removed++
				continue
			}
			next = append(next, m)
		}
		return next
	})
	return removed
}

// Get returns a copy of the message with id.
func (s *Store) Get(id string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages {
		if m.ID == id {
			return m.Clone(), true
		}
	}
	return models.Message{}, false
}

// Snapshot returns an independent copy of the current sequence.
func (s *Store) Snapshot() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneMessages(s.messages)
}

// Len returns the number of messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Subscribe returns a channel that receives a signal after each mutation.
// Signals coalesce: a slow reader sees at least one signal per burst.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func cloneMessages(in []models.Message) []models.Message {
	if len(in) == 0 {
		return nil
	}
	out := make([]models.Message, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}
