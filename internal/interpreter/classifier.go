package interpreter

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

const (
	TypeText         = "txt"
	TypeTextToImage  = "txt2img"
	TypeImageToImage = "img2img"

	MaxImages = 10
)

// Intent is what the user asked for.
type Intent struct {
	Type      string
	NumImages int
}

// KeywordClassifier guesses intent from phrasing when the LLM is unavailable.
type KeywordClassifier struct {
	imageVerbs []string
	imageNouns []string
}

func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		imageVerbs: []string{"draw", "paint", "generate", "create", "make", "render", "sketch", "show me", "imagine"},
		imageNouns: []string{"image", "picture", "photo", "drawing", "painting", "illustration", "wallpaper", "portrait", "art"},
	}
}

var countPattern = regexp.MustCompile(`\b(\d+|two|three|four|five|six|seven|eight|nine|ten)\s+(?:images?|pictures?|photos?|drawings?|paintings?|variations?|versions?)\b`)

var wordCounts = map[string]int{
	"two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

func (c *KeywordClassifier) Classify(text string, hasImages bool) Intent {
	lower := strings.ToLower(text)
	words := wordSet(lower)

	verb := containsAny(lower, words, c.imageVerbs)
	noun := containsAny(lower, words, c.imageNouns)
	if !(verb && noun) && !strings.HasPrefix(lower, "draw ") && !strings.HasPrefix(lower, "paint ") {
		return Intent{Type: TypeText}
	}

	intent := Intent{Type: TypeTextToImage, NumImages: countImages(lower)}
	if hasImages {
		intent.Type = TypeImageToImage
	}
	return intent
}

func countImages(lower string) int {
	m := countPattern.FindStringSubmatch(lower)
	if m == nil {
		return 1
	}
	if n, ok := wordCounts[m[1]]; ok {
		return n
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 1
	}
	return ClampImages(n)
}

// ClampImages bounds an image count to [1, MaxImages].
func ClampImages(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxImages {
		return MaxImages
	}
	return n
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		set[w] = true
		set[strings.TrimSuffix(w, "s")] = true
	}
	return set
}

func containsAny(s string, words map[string]bool, candidates []string) bool {
	for _, c := range candidates {
		if strings.Contains(c, " ") {
			if strings.Contains(s, c) {
				return true
			}
			continue
		}
		if words[c] {
			return true
		}
	}
	return false
}
