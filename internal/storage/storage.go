package storage

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/xaenox/acet/internal/models"
)

var (
	ErrNotFound      = errors.New("term not found")
	ErrDuplicateTerm = errors.New("term already exists")
	ErrEmptyTerm     = errors.New("term is empty")
)

// Storage persists glossary terms.
type Storage interface {
	// AddTerm inserts the term and fills its ID and CreatedAt.
	AddTerm(ctx context.Context, term *models.GlossaryTerm) error
	// ListTerms returns every term, most recent first.
	ListTerms(ctx context.Context) ([]models.GlossaryTerm, error)
	GetTerm(ctx context.Context, id int64) (*models.GlossaryTerm, error)
	// DeleteByText removes every term whose text matches and returns the count.
	DeleteByText(ctx context.Context, term string) (int64, error)
	DeleteByID(ctx context.Context, id int64) (int64, error)
	Close() error
}

// Categories groups the stored terms by category.
func Categories(ctx context.Context, s Storage) ([]models.CategoryGroup, error) {
	terms, err := s.ListTerms(ctx)
	if err != nil {
		return nil, err
	}
	return GroupByCategory(terms), nil
}

// GroupByCategory buckets terms by category name, keeping their order
// inside each bucket. Buckets are sorted by name.
func GroupByCategory(terms []models.GlossaryTerm) []models.CategoryGroup {
	index := make(map[string]int)
	var groups []models.CategoryGroup
	for _, t := range terms {
		cat := t.Category
		if cat == "" {
			cat = models.DefaultCategory
		}
		i, ok := index[cat]
		if !ok {
			i = len(groups)
			index[cat] = i
			groups = append(groups, models.CategoryGroup{Category: cat})
		}
		groups[i].Terms = append(groups[i].Terms, t)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return strings.ToLower(groups[i].Category) < strings.ToLower(groups[j].Category)
	})
	return groups
}

func normalize(term *models.GlossaryTerm) error {
	term.Term = strings.TrimSpace(term.Term)
	if term.Term == "" {
		return ErrEmptyTerm
	}
	term.Category = strings.TrimSpace(term.Category)
	if term.Category == "" {
		term.Category = models.DefaultCategory
	}
	return nil
}
