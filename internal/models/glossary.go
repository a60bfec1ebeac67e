package models

import "time"

// DefaultCategory is used when no category could be parsed.
const DefaultCategory = "Uncategorized"

// GlossaryTerm is a persisted vocabulary entry.
type GlossaryTerm struct {
	ID          int64     `json:"id"`
	Term        string    `json:"term"`
	Explanation string    `json:"explanation"`
	Category    string    `json:"category"`
	CreatedAt   time.Time `json:"created_at"`
}

// CategoryGroup is a grouped-by-category read of the glossary.
type CategoryGroup struct {
	Category string         `json:"category"`
	Terms    []GlossaryTerm `json:"terms"`
}
