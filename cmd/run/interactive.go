package main

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/script-runtime/runtime"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	outputStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const historyLimit = 200

type replEntry struct {
	input  string
	output []string
	failed bool
}

type replModel struct {
	err     error
	in      *runtime.Instance
	printed *bytes.Buffer
	input   textinput.Model
	history []replEntry
	chunkNo int
	busy    bool
}

type startedMsg struct {
	err     error
	in      *runtime.Instance
	printed *bytes.Buffer
}

type evaluatedMsg struct {
	entry replEntry
}

func newReplModel() *replModel {
	ti := textinput.New()
	ti.Prompt = promptStyle.Render("> ")
	ti.Placeholder = `x = 1  --  print(x + 1)`
	ti.Width = 72
	ti.Focus()
	return &replModel{input: ti}
}

func (m *replModel) Init() tea.Cmd {
	return m.start
}

func (m *replModel) start() tea.Msg {
	log, err := buildLogger()
	if err != nil {
		return startedMsg{err: err}
	}
	in, err := runtime.New(instanceOptions(log)...)
	if err != nil {
		return startedMsg{err: err}
	}
	printed := &bytes.Buffer{}
	in.State().SetOutput(printed)
	return startedMsg{in: in, printed: printed}
}

func (m *replModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d":
			if m.in != nil {
				m.in.Close()
			}
			return m, tea.Quit

		case "ctrl+l":
			m.history = nil
			return m, nil

		case "enter":
			// one evaluation at a time: the instance is single-threaded
			line := strings.TrimSpace(m.input.Value())
			if line == "" || m.in == nil || m.busy {
				return m, nil
			}
			m.input.Reset()
			if line == ":reset" {
				m.in.Close()
				m.in = nil
				m.history = nil
				m.chunkNo = 0
				return m, m.start
			}
			m.busy = true
			return m, m.evaluate(line)
		}

	case startedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, tea.Quit
		}
		m.in = msg.in
		m.printed = msg.printed

	case evaluatedMsg:
		m.busy = false
		m.history = append(m.history, msg.entry)
		if len(m.history) > historyLimit {
			m.history = m.history[len(m.history)-historyLimit:]
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// evaluate runs one input line against the live instance. A line that
// parses as an expression has its value displayed; anything else runs as a
// statement chunk. Output written by print is shown either way.
func (m *replModel) evaluate(line string) tea.Cmd {
	return func() tea.Msg {
		m.chunkNo++
		name := fmt.Sprintf("repl:%d", m.chunkNo)
		entry := replEntry{input: line}

		h, err := m.in.Compile("return "+line, name)
		if err == nil {
			results, callErr := m.in.Call(h, nil, 1)
			m.in.Release(h)
			err = callErr
			if callErr == nil && len(results) == 1 && !results[0].IsNil() {
				entry.output = append(entry.output, resultStyle.Render(results[0].String()))
			}
		} else {
			err = m.in.Run(line, name)
		}

		for _, l := range splitOutput(m.printed) {
			entry.output = append(entry.output, outputStyle.Render(l))
		}
		if err != nil {
			entry.failed = true
			entry.output = append(entry.output, errorStyle.Render(err.Error()))
		}
		return evaluatedMsg{entry: entry}
	}
}

func splitOutput(buf *bytes.Buffer) []string {
	s := strings.TrimRight(buf.String(), "\n")
	buf.Reset()
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func (m *replModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n", m.err))
	}
	if m.in == nil {
		return "Starting interpreter..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Script REPL"))
	b.WriteString("\n\n")

	for _, e := range m.history {
		b.WriteString(promptStyle.Render("> "))
		b.WriteString(e.input)
		b.WriteString("\n")
		for _, l := range e.output {
			b.WriteString(l)
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("enter eval • :reset fresh instance • ctrl+l clear • ctrl+c quit"))
	return b.String()
}

func runInteractive() error {
	m := newReplModel()
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return err
	}
	return m.err
}
