package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/wippyai/svn-ffi/engine"
	"github.com/wippyai/svn-ffi/pool"
	"github.com/wippyai/svn-ffi/svn"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true)

	hunkStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	addedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	removedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// colorize styles the lines of a unified diff.
func colorize(diff string) string {
	lines := strings.SplitAfter(diff, "\n")
	var b strings.Builder
	for _, line := range lines {
		if line == "" {
			continue
		}
		text, nl := strings.CutSuffix(line, "\n")
		switch {
		case strings.HasPrefix(text, "---"), strings.HasPrefix(text, "+++"):
			b.WriteString(headerStyle.Render(text))
		case strings.HasPrefix(text, "@@"):
			b.WriteString(hunkStyle.Render(text))
		case strings.HasPrefix(text, "+"):
			b.WriteString(addedStyle.Render(text))
		case strings.HasPrefix(text, "-"):
			b.WriteString(removedStyle.Render(text))
		default:
			b.WriteString(text)
		}
		if nl {
			b.WriteString("\n")
		}
	}
	return b.String()
}

var spaceModes = []svn.IgnoreSpace{svn.IgnoreSpaceNone, svn.IgnoreSpaceChange, svn.IgnoreSpaceAll}

var spaceModeNames = map[svn.IgnoreSpace]string{
	svn.IgnoreSpaceNone:   "none",
	svn.IgnoreSpaceChange: "change",
	svn.IgnoreSpaceAll:    "all",
}

type interactiveModel struct {
	err      error
	original string
	modified string
	opts     svn.FileOptions
	uopts    svn.UnifiedOptions
	view     viewport.Model
	ready    bool
	loaded   bool

	// running is set while a diff is in flight; pending asks for one more
	// run with the options current when it finishes.
	running bool
	pending bool
}

type diffMsg struct {
	err     error
	text    string
	changed bool
}

func newInteractiveModel(original, modified string, opts *svn.FileOptions, uopts svn.UnifiedOptions) *interactiveModel {
	return &interactiveModel{
		original: original,
		modified: modified,
		opts:     *opts,
		uopts:    uopts,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.diff()
}

// rediff starts a diff, or queues one behind the diff in flight. Runs never
// overlap, so only one goroutine touches the root pool at a time.
func (m *interactiveModel) rediff() tea.Cmd {
	if m.running {
		m.pending = true
		return nil
	}
	return m.diff()
}

// diff recomputes the diff with the current options. Each run gets a pool of
// its own, destroyed once the text is copied out.
func (m *interactiveModel) diff() tea.Cmd {
	m.running = true
	original, modified, opts, uopts := m.original, m.modified, m.opts, m.uopts
	return func() tea.Msg {
		ctx := context.Background()
		p, err := pool.Create(ctx, svn.RootPool())
		if err != nil {
			return diffMsg{err: err}
		}
		defer func() {
			if err := p.Destroy(ctx); err != nil {
				engine.Logger().Warn("diff pool destroy failed", zap.Error(err))
			}
		}()

		d, err := svn.FileDiff(ctx, p, original, modified, &opts)
		if err != nil {
			return diffMsg{err: err}
		}
		changed, err := d.Changed(ctx)
		if err != nil {
			return diffMsg{err: err}
		}
		text, err := d.Unified(ctx, uopts)
		if err != nil {
			return diffMsg{err: err}
		}
		return diffMsg{text: text, changed: changed}
	}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit

		case "w":
			for i, mode := range spaceModes {
				if mode == m.opts.IgnoreSpace {
					m.opts.IgnoreSpace = spaceModes[(i+1)%len(spaceModes)]
					break
				}
			}
			return m, m.rediff()

		case "e":
			m.opts.IgnoreEOLStyle = !m.opts.IgnoreEOLStyle
			return m, m.rediff()
		}

	case tea.WindowSizeMsg:
		// title and help lines
		height := max(msg.Height-4, 1)
		if !m.ready {
			m.view = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.view.Width = msg.Width
			m.view.Height = height
		}

	case diffMsg:
		m.err = msg.err
		m.loaded = true
		m.running = false
		if msg.err == nil {
			text := colorize(msg.text)
			if !msg.changed {
				text = helpStyle.Render("Files are identical.")
			}
			m.view.SetContent(text)
			m.view.GotoTop()
		}
		if m.pending {
			m.pending = false
			return m, m.diff()
		}
	}

	var cmd tea.Cmd
	m.view, cmd = m.view.Update(msg)
	return m, cmd
}

func (m *interactiveModel) View() string {
	if !m.ready || !m.loaded {
		return "Computing diff..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("svndiff"))
	b.WriteString(" ")
	b.WriteString(m.original)
	b.WriteString(" → ")
	b.WriteString(m.modified)
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	} else {
		b.WriteString(m.view.View())
	}
	b.WriteString("\n")

	eol := "off"
	if m.opts.IgnoreEOLStyle {
		eol = "on"
	}
	b.WriteString(helpStyle.Render(fmt.Sprintf(
		"↑/↓ scroll • w whitespace: %s • e ignore eol: %s • q quit",
		spaceModeNames[m.opts.IgnoreSpace], eol)))
	return b.String()
}

func runInteractive(original, modified string, opts *svn.FileOptions, uopts svn.UnifiedOptions) error {
	p := tea.NewProgram(newInteractiveModel(original, modified, opts, uopts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
