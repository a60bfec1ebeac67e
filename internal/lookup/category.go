package lookup

import (
	"regexp"
	"strings"

	"github.com/xaenox/acet/internal/models"
)

var (
	// A line holding only the tag and at most one word, optionally wrapped in
	// markdown emphasis.
	lineTag = regexp.MustCompile(`(?i)^\s*[*_]*category[*_]*\s*:[*_]*\s*([\p{L}\p{N}_-]*)[*_.\s]*$`)
	// A tag closing the last line of the response.
	trailingTag = regexp.MustCompile(`(?i)\s*[*_]*\bcategory[*_]*\s*:[*_]*\s*([\p{L}\p{N}_-]+)[*_.\s]*$`)
)

// ParseCategory extracts the category tag from an explanation and returns
// the text with every tag line removed. The first tag wins. A tag must
// start a line or end the response and name a single word; mentions inside
// a sentence and tags followed by several words are text.
func ParseCategory(text string) (string, string) {
	category := ""
	found := false

	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		m := lineTag.FindStringSubmatch(line)
		if m == nil {
			kept = append(kept, line)
			continue
		}
		if !found {
			category = cleanCategory(m[1])
			found = true
		}
	}

	if !found {
		last := len(kept) - 1
		for last >= 0 && strings.TrimSpace(kept[last]) == "" {
			last--
		}
		if last >= 0 {
			if loc := trailingTag.FindStringSubmatchIndex(kept[last]); loc != nil {
				category = cleanCategory(kept[last][loc[2]:loc[3]])
				kept[last] = kept[last][:loc[0]]
				found = true
			}
		}
	}

	if !found {
		return text, models.DefaultCategory
	}
	if category == "" {
		category = models.DefaultCategory
	}
	return strings.TrimSpace(strings.Join(kept, "\n")), category
}

func cleanCategory(raw string) string {
	return strings.Trim(raw, " \t*_.`\"'")
}
