package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xaenox/acet/internal/models"
)

type MemoryStorage struct {
	mu     sync.RWMutex
	terms  map[int64]models.GlossaryTerm
	nextID int64
	now    func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		terms:  make(map[int64]models.GlossaryTerm),
		nextID: 1,
		now:    time.Now,
	}
}

func (s *MemoryStorage) AddTerm(ctx context.Context, term *models.GlossaryTerm) error {
	if err := normalize(term); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.terms {
		if t.Term == term.Term {
			return fmt.Errorf("%w: %q", ErrDuplicateTerm, term.Term)
		}
	}

	term.ID = s.nextID
	term.CreatedAt = s.now()
	s.nextID++
	s.terms[term.ID] = *term
	return nil
}

func (s *MemoryStorage) ListTerms(ctx context.Context) ([]models.GlossaryTerm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	terms := make([]models.GlossaryTerm, 0, len(s.terms))
	for _, t := range s.terms {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if !terms[i].CreatedAt.Equal(terms[j].CreatedAt) {
			return terms[i].CreatedAt.After(terms[j].CreatedAt)
		}
		return terms[i].ID > terms[j].ID
	})
	return terms, nil
}

func (s *MemoryStorage) GetTerm(ctx context.Context, id int64) (*models.GlossaryTerm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.terms[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (s *MemoryStorage) DeleteByText(ctx context.Context, term string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, t := range s.terms {
		if t.Term == term {
			delete(s.terms, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStorage) DeleteByID(ctx context.Context, id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.terms[id]; !ok {
		return 0, nil
	}
	delete(s.terms, id)
	return 1, nil
}

func (s *MemoryStorage) Close() error {
	return nil
}
