package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/xaenox/acet/internal/models"
)

const (
	minWrap     = 20
	cursorGlyph = "▌"
)

// markdownFunc renders assistant text for the terminal.
type markdownFunc func(string) string

func newMarkdown(style string, width int) markdownFunc {
	if width < minWrap {
		width = minWrap
	}
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	if style == "auto" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle(style))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return nil
	}
	return func(text string) string {
		out, err := r.Render(text)
		if err != nil {
			return text
		}
		return strings.Trim(out, "\n")
	}
}

// renderContext carries what message rendering needs from the model.
type renderContext struct {
	styles  Styles
	md      markdownFunc
	bar     progress.Model
	spinner string
}

func renderConversation(messages []models.Message, rc renderContext) string {
	if len(messages) == 0 {
		return rc.styles.Muted.Render("Say something, or /help for commands.")
	}
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		parts = append(parts, renderMessage(m, rc))
	}
	return strings.Join(parts, "\n\n")
}

func renderMessage(m models.Message, rc renderContext) string {
	if m.IsUser {
		return rc.styles.User.Render("you") + "\n" + renderUser(m, rc.styles)
	}

	var body string
	switch m.Kind {
	case models.KindLoading:
		body = rc.spinner + " thinking…"
	case models.KindTyping:
		body = m.Content + cursorGlyph
	case models.KindGeneratingImage:
		body = renderProgress(m, rc)
	case models.KindGeneratedImage:
		body = renderImageSet(m, rc.styles)
	default:
		body = m.Content
		if rc.md != nil {
			body = rc.md(m.Content)
		}
	}
	return rc.styles.Assistant.Render("acet") + "\n" + body
}

func renderUser(m models.Message, st Styles) string {
	lines := []string{m.Content}
	for _, f := range m.Files {
		lines = append(lines, st.Muted.Render("📎 "+f.Name))
	}
	for _, u := range m.ImageURLs {
		lines = append(lines, st.Muted.Render("↳ "+u))
	}
	return strings.Join(lines, "\n")
}

func renderProgress(m models.Message, rc renderContext) string {
	label := fmt.Sprintf("%d%%", m.Progress)
	if m.ProgressEstimated {
		label = "~" + label
	}
	return fmt.Sprintf("%s Generating %s %s", rc.spinner, rc.bar.ViewAs(float64(m.Progress)/100), label)
}

func renderImageSet(m models.Message, st Styles) string {
	var b strings.Builder
	if rd := m.ResizeData; rd != nil {
		fmt.Fprintf(&b, "Upscaled %dx%d → %dx%d", rd.OriginalWidth, rd.OriginalHeight, rd.Width, rd.Height)
		if rd.Upscaler != "" {
			fmt.Fprintf(&b, " (%s)", rd.Upscaler)
		}
		b.WriteString("\n")
	}
	for i, u := range m.ImageURLs {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, u)
	}
	if gd := m.GenerationData; gd != nil {
		meta := "prompt: " + gd.Prompt + "\nmodel: " + gd.Model
		if len(gd.Loras) > 0 {
			meta += fmt.Sprintf("\nloras: %d", len(gd.Loras))
		}
		b.WriteString(st.Muted.Render(meta))
		b.WriteString("\n")
	}
	b.WriteString(st.Muted.Render("/remix N · /upscale N"))
	return b.String()
}

type rowKind int

const (
	rowCategory rowKind = iota
	rowTerm
)

// row is one selectable line of the glossary panel.
type row struct {
	kind     rowKind
	category string
	count    int
	term     models.GlossaryTerm
}

// expansion reports which categories and terms are expanded.
type expansion interface {
	CategoryOpen(category string) bool
	TermOpen(id int64) bool
}

func glossaryRows(groups []models.CategoryGroup, exp expansion) []row {
	var rows []row
	for _, g := range groups {
		rows = append(rows, row{kind: rowCategory, category: g.Category, count: len(g.Terms)})
		if !exp.CategoryOpen(g.Category) {
			continue
		}
		for _, t := range g.Terms {
			rows = append(rows, row{kind: rowTerm, category: g.Category, term: t})
		}
	}
	return rows
}

type panelState struct {
	rows     []row
	selected int
	focused  bool
	loaded   bool
	pending  int
	width    int
}

func renderGlossary(ps panelState, exp expansion, st Styles) string {
	width := ps.width
	if width < minWrap {
		width = minWrap
	}

	var lines []string
	lines = append(lines, st.Category.Render("Glossary"))
	switch {
	case !ps.loaded:
		lines = append(lines, st.Muted.Render("loading…"))
	case len(ps.rows) == 0:
		lines = append(lines, st.Muted.Render("empty, try /lookup <term>"))
	}

	for i, r := range ps.rows {
		var line string
		if r.kind == rowCategory {
			marker := "▸"
			if exp.CategoryOpen(r.category) {
				marker = "▾"
			}
			line = fmt.Sprintf("%s %s (%d)", marker, r.category, r.count)
		} else {
			line = fmt.Sprintf("  • %s", r.term.Term)
		}
		if ps.focused && i == ps.selected {
			line = st.Selected.Render(line)
		}
		lines = append(lines, line)

		if r.kind == rowTerm && exp.TermOpen(r.term.ID) {
			explanation := lipgloss.NewStyle().Width(width - 8).Render(r.term.Explanation)
			for _, l := range strings.Split(explanation, "\n") {
				lines = append(lines, "    "+st.Muted.Render(l))
			}
			if !r.term.CreatedAt.IsZero() {
				lines = append(lines, "    "+st.Status.Render("added "+humanize.Time(r.term.CreatedAt)))
			}
		}
	}

	if ps.pending > 0 {
		lines = append(lines, "", st.Status.Render(fmt.Sprintf("%d deletion(s) pending", ps.pending)))
	}

	panel := st.Panel
	if ps.focused {
		panel = st.PanelFocus
	}
	return panel.Width(width).Render(strings.Join(lines, "\n"))
}
