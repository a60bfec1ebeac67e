package tui

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/xaenox/acet/internal/api"
	"github.com/xaenox/acet/internal/conversation"
	"github.com/xaenox/acet/internal/glossary"
	"github.com/xaenox/acet/internal/models"
	"github.com/xaenox/acet/internal/orchestrator"
)

const helpText = `Commands
  /lookup <term>          explain a term and add it to the glossary
  /attach <path> [text]   send an image or audio file with a question
  /rerun                  send your last message again
  /remix [N] [strength]   remix image N of the last set
  /upscale [N] [scale]    upscale image N of the last set
  /delete <id>            delete a glossary term
  /sync                   retry pending deletions
  /reset                  drop pending deletions
  /glossary               show or hide the glossary panel
  /theme                  cycle the markdown style
  /markdown               toggle markdown rendering
  /dismiss                clear the error banner
  /quit                   exit

Keys
  tab        switch between input and glossary
  enter      toggle the selected category or term
  d          delete the selected term
  r          reload the glossary
  pgup/pgdn  scroll the conversation
  esc        dismiss the error banner`

// splitCommand separates "/name args" into its parts. Plain text returns
// ok false.
func splitCommand(line string) (name, args string, ok bool) {
	if !strings.HasPrefix(line, "/") {
		return "", "", false
	}
	name, args, _ = strings.Cut(strings.TrimPrefix(line, "/"), " ")
	return strings.ToLower(name), strings.TrimSpace(args), true
}

func (m Model) submit(line string) (tea.Model, tea.Cmd) {
	name, args, ok := splitCommand(line)
	if !ok {
		m.status = ""
		return m, m.send(line, nil)
	}

	switch name {
	case "help":
		m.showHelp = true
	case "quit", "exit":
		return m, tea.Quit
	case "lookup":
		if args == "" {
			m.status = "Usage: /lookup <term>"
			return m, nil
		}
		return m, m.runLookup(args)
	case "attach":
		if args == "" {
			m.status = "Usage: /attach <path> [text]"
			return m, nil
		}
		return m, m.attach(args)
	case "rerun":
		return m, m.rerun()
	case "remix":
		return m, m.remix(args)
	case "upscale":
		return m, m.upscale(args)
	case "delete":
		id, err := strconv.ParseInt(args, 10, 64)
		if err != nil {
			m.status = "Usage: /delete <id>"
			return m, nil
		}
		return m, m.deleteTerm(id)
	case "sync":
		return m, m.syncGlossary()
	case "reset":
		m.glossary.Reset()
		m.status = "Glossary view reset to the server state."
	case "glossary":
		m.prefs.ShowGlossary = !m.prefs.ShowGlossary
		if !m.prefs.ShowGlossary && m.focus == focusGlossary {
			m.toggleFocus()
		}
		m.savePrefs()
		m.layout()
	case "theme":
		m.prefs.Style = nextStyle(m.prefs.Style)
		m.status = "Style: " + m.prefs.Style
		m.savePrefs()
		m.layout()
	case "markdown":
		m.prefs.Markdown = !m.prefs.Markdown
		m.savePrefs()
		m.layout()
	case "dismiss":
		m.dismissBanner()
	default:
		m.status = fmt.Sprintf("Unknown command /%s. Use /help to see available commands.", name)
	}
	return m, nil
}

func (m *Model) savePrefs() {
	if err := SavePrefs(m.prefsPath, m.prefs); err != nil {
		m.logger.Warn("Failed to save prefs", zap.Error(err), zap.String("path", m.prefsPath))
	}
}

func (m Model) send(text string, files []models.Attachment) tea.Cmd {
	ctx, orch := m.ctx, m.orch
	return func() tea.Msg {
		if _, err := orch.Send(ctx, text, files); err != nil {
			return resultMsg{err: fmt.Errorf("send message: %w", err)}
		}
		return nil
	}
}

func (m Model) runLookup(term string) tea.Cmd {
	ctx, svc := m.ctx, m.lookup
	return func() tea.Msg {
		if _, err := svc.Lookup(ctx, term); err != nil {
			return resultMsg{err: fmt.Errorf("look up %q: %w", term, err)}
		}
		return resultMsg{status: fmt.Sprintf("Added %q to the glossary.", term)}
	}
}

// attach reads "<path> [text]" and sends the file as an attachment.
func (m Model) attach(args string) tea.Cmd {
	path, text, _ := strings.Cut(args, " ")
	text = strings.TrimSpace(text)
	ctx, orch := m.ctx, m.orch
	return func() tea.Msg {
		file, err := readAttachment(path)
		if err != nil {
			return resultMsg{err: err}
		}
		if text == "" && strings.HasPrefix(file.ContentType, "image/") {
			text = "Describe this image."
		}
		if _, err := orch.Send(ctx, text, []models.Attachment{file}); err != nil {
			return resultMsg{err: fmt.Errorf("send attachment: %w", err)}
		}
		return nil
	}
}

func readAttachment(path string) (models.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("read attachment: %w", err)
	}
	return models.Attachment{
		Name:        filepath.Base(path),
		ContentType: http.DetectContentType(data),
		Data:        data,
	}, nil
}

func (m Model) rerun() tea.Cmd {
	id, ok := conversation.LastUserText(m.messages)
	if !ok {
		return status("Nothing to rerun yet.")
	}
	ctx, orch := m.ctx, m.orch
	return func() tea.Msg {
		if _, err := orch.Rerun(ctx, id); err != nil {
			return resultMsg{err: fmt.Errorf("rerun: %w", err)}
		}
		return nil
	}
}

func (m Model) remix(args string) tea.Cmd {
	set, ok := conversation.LastImageSet(m.messages)
	if !ok {
		return status("Generate some images first.")
	}
	index, strength, err := orchestrator.ParseImageArgs(args, len(set.ImageURLs))
	if err != nil {
		return status("Usage: /remix [N] [strength]: " + err.Error())
	}
	ctx, orch := m.ctx, m.orch
	return func() tea.Msg {
		if _, err := orch.Remix(ctx, set.ID, set.ImageURLs[index], strength); err != nil {
			return resultMsg{err: fmt.Errorf("remix: %w", err)}
		}
		return nil
	}
}

func (m Model) upscale(args string) tea.Cmd {
	set, ok := conversation.LastImageSet(m.messages)
	if !ok {
		return status("Generate some images first.")
	}
	index, scale, err := orchestrator.ParseImageArgs(args, len(set.ImageURLs))
	if err != nil {
		return status("Usage: /upscale [N] [scale]: " + err.Error())
	}
	opts := api.DefaultUpscale()
	if scale > 0 {
		opts.ScaleFactor = scale
	}
	ctx, orch := m.ctx, m.orch
	return func() tea.Msg {
		if _, err := orch.Upscale(ctx, set.ID, set.ImageURLs[index], opts); err != nil {
			return resultMsg{err: fmt.Errorf("upscale: %w", err)}
		}
		return nil
	}
}

func (m Model) deleteTerm(id int64) tea.Cmd {
	ctx, view := m.ctx, m.glossary
	return func() tea.Msg {
		term, known := view.Term(id)
		err := view.Delete(ctx, id)
		switch {
		case errors.Is(err, glossary.ErrUnknownTerm):
			return resultMsg{status: fmt.Sprintf("No glossary term with id %d.", id)}
		case err != nil:
			return resultMsg{status: "Hidden. The server did not confirm the deletion yet; /sync retries it."}
		case known:
			return resultMsg{status: fmt.Sprintf("Deleted %q.", term.Term)}
		}
		return resultMsg{status: "Deleted."}
	}
}

func (m Model) syncGlossary() tea.Cmd {
	ctx, view := m.ctx, m.glossary
	return func() tea.Msg {
		if err := view.Reload(ctx); err != nil {
			return resultMsg{err: fmt.Errorf("reload glossary: %w", err)}
		}
		view.Sync(ctx)
		if pending := view.Pending(); len(pending) > 0 {
			return resultMsg{status: "Still pending: " + strings.Join(pending, ", ")}
		}
		return resultMsg{status: "Glossary is in sync."}
	}
}

func (m Model) reloadGlossary() tea.Cmd {
	ctx, view := m.ctx, m.glossary
	return func() tea.Msg {
		if err := view.Reload(ctx); err != nil {
			return resultMsg{err: fmt.Errorf("reload glossary: %w", err)}
		}
		return nil
	}
}

func status(text string) tea.Cmd {
	return func() tea.Msg {
		return resultMsg{status: text}
	}
}
