// Package tui is the terminal chat front end.
package tui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/xaenox/acet/internal/conversation"
	"github.com/xaenox/acet/internal/glossary"
	"github.com/xaenox/acet/internal/lookup"
	"github.com/xaenox/acet/internal/models"
	"github.com/xaenox/acet/internal/orchestrator"
)

type focus int

const (
	focusInput focus = iota
	focusGlossary
)

// Options configures the UI.
type Options struct {
	Context      context.Context
	Store        *conversation.Store
	Orchestrator *orchestrator.Orchestrator
	Lookup       *lookup.Service
	Glossary     *glossary.View
	PrefsPath    string
	Logger       *zap.Logger
}

// Model is the root application state for Bubble Tea.
type Model struct {
	ctx       context.Context
	store     *conversation.Store
	orch      *orchestrator.Orchestrator
	lookup    *lookup.Service
	glossary  *glossary.View
	prefsPath string
	prefs     Prefs
	logger    *zap.Logger
	styles    Styles

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	bar      progress.Model
	md       markdownFunc

	width    int
	height   int
	ready    bool
	focus    focus
	showHelp bool

	messages []models.Message
	rows     []row
	selected int
	banner   string
	status   string

	storeCh     <-chan struct{}
	glossaryCh  <-chan struct{}
	unsubscribe func()
}

type (
	storeChangedMsg    struct{}
	glossaryChangedMsg struct{}
	errorMsg           string

	// resultMsg reports the outcome of a command run off the UI loop.
	resultMsg struct {
		status string
		err    error
	}
)

// New creates the model and subscribes it to the store and glossary.
func New(opts Options) Model {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	prefsPath := opts.PrefsPath
	if prefsPath == "" {
		prefsPath = DefaultPrefsPath()
	}

	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask, draw, or /help"
	ti.CharLimit = 4096
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(colorAccent)

	storeCh, unsubscribe := opts.Store.Subscribe()

	return Model{
		ctx:         ctx,
		store:       opts.Store,
		orch:        opts.Orchestrator,
		lookup:      opts.Lookup,
		glossary:    opts.Glossary,
		prefsPath:   prefsPath,
		prefs:       LoadPrefs(prefsPath),
		logger:      logger,
		styles:      defaultStyles(),
		input:       ti,
		viewport:    viewport.New(80, 20),
		spinner:     sp,
		bar:         progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage(), progress.WithWidth(20)),
		messages:    opts.Store.Snapshot(),
		storeCh:     storeCh,
		glossaryCh:  opts.Glossary.Changes(),
		unsubscribe: unsubscribe,
	}
}

// Close releases the store subscription.
func (m Model) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
		waitForSignal(m.storeCh, storeChangedMsg{}),
		waitForSignal(m.glossaryCh, glossaryChangedMsg{}),
		waitForError(m.orch.Errors()),
		m.reloadGlossary(),
	)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.layout()
		return m, nil

	case storeChangedMsg:
		m.messages = m.store.Snapshot()
		m.refreshViewport()
		return m, waitForSignal(m.storeCh, storeChangedMsg{})

	case glossaryChangedMsg:
		m.refreshGlossary()
		return m, waitForSignal(m.glossaryCh, glossaryChangedMsg{})

	case errorMsg:
		m.banner = string(msg)
		m.layout()
		return m, waitForError(m.orch.Errors())

	case resultMsg:
		if msg.err != nil {
			m.logger.Warn("Failed to run command", zap.Error(msg.err))
			m.status = "⚠️ " + msg.err.Error()
		} else {
			m.status = msg.status
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if hasPlaceholder(m.messages) {
			m.refreshViewport()
		}
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	if m.showHelp {
		return m.renderHelp()
	}

	main := m.viewport.View()
	if m.prefs.ShowGlossary {
		main = lipgloss.JoinHorizontal(lipgloss.Top, main, m.renderPanel())
	}

	var parts []string
	if m.banner != "" {
		parts = append(parts, m.styles.Banner.Render("⚠️ "+m.banner+"  (esc to dismiss)"))
	}
	parts = append(parts, main, m.styles.Status.Render(m.status), m.input.View())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showHelp {
		m.showHelp = false
		return m, nil
	}

	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit

	case "esc":
		m.dismissBanner()
		return m, nil

	case "tab":
		if m.prefs.ShowGlossary {
			m.toggleFocus()
		}
		return m, nil

	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	if m.focus == focusGlossary {
		return m.handleGlossaryKey(msg)
	}

	if msg.Type == tea.KeyEnter {
		line := strings.TrimSpace(m.input.Value())
		m.input.Reset()
		if line == "" {
			return m, nil
		}
		return m.submit(line)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleGlossaryKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}
	case "down", "j":
		if m.selected < len(m.rows)-1 {
			m.selected++
		}
	case "enter", " ":
		if r, ok := m.selectedRow(); ok {
			if r.kind == rowCategory {
				m.glossary.ToggleCategory(r.category)
			} else {
				m.glossary.ToggleTerm(r.term.ID)
			}
			m.refreshGlossary()
		}
	case "d", "delete":
		if r, ok := m.selectedRow(); ok && r.kind == rowTerm {
			return m, m.deleteTerm(r.term.ID)
		}
	case "r":
		return m, m.reloadGlossary()
	}
	return m, nil
}

func (m *Model) toggleFocus() {
	if m.focus == focusInput {
		m.focus = focusGlossary
		m.input.Blur()
		return
	}
	m.focus = focusInput
	m.input.Focus()
}

func (m *Model) dismissBanner() {
	m.orch.DismissError()
	m.banner = ""
	m.layout()
}

func (m Model) selectedRow() (row, bool) {
	if m.selected < 0 || m.selected >= len(m.rows) {
		return row{}, false
	}
	return m.rows[m.selected], true
}

func (m *Model) panelWidth() int {
	if !m.prefs.ShowGlossary {
		return 0
	}
	return m.width / 3
}

// layout sizes the viewport and markdown renderer to the window.
func (m *Model) layout() {
	if !m.ready {
		return
	}
	chatWidth := m.width - m.panelWidth()
	height := m.height - 2
	if m.banner != "" {
		height--
	}
	if height < 1 {
		height = 1
	}
	m.viewport.Width = chatWidth
	m.viewport.Height = height
	m.input.Width = m.width - len(m.input.Prompt) - 1
	m.bar.Width = min(30, chatWidth/3)

	m.md = nil
	if m.prefs.Markdown {
		m.md = newMarkdown(m.prefs.Style, chatWidth-2)
	}
	m.refreshViewport()
	m.refreshGlossary()
}

func (m *Model) refreshViewport() {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(renderConversation(m.messages, renderContext{
		styles:  m.styles,
		md:      m.md,
		bar:     m.bar,
		spinner: m.spinner.View(),
	}))
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m *Model) refreshGlossary() {
	m.rows = glossaryRows(m.glossary.Groups(), m.glossary)
	if m.selected >= len(m.rows) {
		m.selected = max(0, len(m.rows)-1)
	}
}

func (m Model) renderPanel() string {
	return renderGlossary(panelState{
		rows:     m.rows,
		selected: m.selected,
		focused:  m.focus == focusGlossary,
		loaded:   m.glossary.Loaded(),
		pending:  len(m.glossary.Pending()),
		width:    m.panelWidth() - 4,
	}, m.glossary, m.styles)
}

func (m Model) renderHelp() string {
	return m.styles.Panel.Render(helpText) + "\n" + m.styles.Muted.Render("press any key")
}

func hasPlaceholder(messages []models.Message) bool {
	for _, msg := range messages {
		if msg.Kind.IsPlaceholder() {
			return true
		}
	}
	return false
}

func waitForSignal(ch <-chan struct{}, msg tea.Msg) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return msg
	}
}

func waitForError(ch <-chan string) tea.Cmd {
	return func() tea.Msg {
		text, ok := <-ch
		if !ok {
			return nil
		}
		return errorMsg(text)
	}
}
