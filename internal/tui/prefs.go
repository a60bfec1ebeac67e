package tui

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// Prefs are the terminal UI settings kept between runs.
type Prefs struct {
	Style        string `toml:"style"`
	ShowGlossary bool   `toml:"show_glossary"`
	Markdown     bool   `toml:"markdown"`
}

const (
	defaultPrefsPath = "~/.config/acet/prefs.toml"
	defaultStyle     = "dark"
)

var styles = []string{"dark", "light", "dracula", "notty", "auto"}

func DefaultPrefs() Prefs {
	return Prefs{Style: defaultStyle, ShowGlossary: true, Markdown: true}
}

func DefaultPrefsPath() string {
	return defaultPrefsPath
}

// LoadPrefs reads path, falling back to defaults when the file is missing
// or unreadable.
func LoadPrefs(path string) Prefs {
	prefs := DefaultPrefs()
	resolved, err := expandPath(path)
	if err != nil {
		return prefs
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return prefs
	}
	if err := toml.Unmarshal(data, &prefs); err != nil {
		return DefaultPrefs()
	}
	if !validStyle(prefs.Style) {
		prefs.Style = defaultStyle
	}
	return prefs
}

// SavePrefs writes p to path, creating directories as needed.
func SavePrefs(path string, p Prefs) error {
	resolved, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("create prefs dir: %w", err)
	}

	data, err := toml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal prefs: %w", err)
	}
	if err := os.WriteFile(resolved, data, 0o644); err != nil {
		return fmt.Errorf("write prefs: %w", err)
	}
	return nil
}

func nextStyle(current string) string {
	for i, s := range styles {
		if s == current {
			return styles[(i+1)%len(styles)]
		}
	}
	return defaultStyle
}

func validStyle(style string) bool {
	for _, s := range styles {
		if s == style {
			return true
		}
	}
	return false
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		trimmed = defaultPrefsPath
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	if trimmed == "" {
		return "", errors.New("path is empty")
	}
	return filepath.Abs(trimmed)
}
