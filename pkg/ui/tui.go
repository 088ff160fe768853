// Package ui provides the interactive terminal front end for a task store.
package ui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/cexll/taskdeck/pkg/tasks"
)

// Option configures the TUI.
type Option func(*Model)

// WithTitle sets the header line.
func WithTitle(title string) Option {
	return func(m *Model) {
		if strings.TrimSpace(title) != "" {
			m.title = title
		}
	}
}

// WithStats toggles the stats footer.
func WithStats(show bool) Option {
	return func(m *Model) { m.showStats = show }
}

// WithFilter selects the initial filter.
func WithFilter(f tasks.Filter) Option {
	return func(m *Model) {
		if f.Valid() {
			m.filter = f
		}
	}
}

// Run starts the TUI and blocks until the user quits or ctx is done.
func Run(ctx context.Context, store *tasks.TaskStore, opts ...Option) error {
	m := New(store, opts...)
	defer m.Close()
	program := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := program.Run()
	return err
}

type mode int

const (
	modeInput mode = iota
	modeList
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	headingStyle = lipgloss.NewStyle().Bold(true)
	activeFilter = lipgloss.NewStyle().Bold(true).Underline(true)
	doneStyle    = lipgloss.NewStyle().Strikethrough(true).Faint(true)
	hintStyle    = lipgloss.NewStyle().Faint(true)
)

// Model is the bubbletea model. The store is the only source of task state;
// the model keeps just the filter, cursor and input buffer.
type Model struct {
	store     *tasks.TaskStore
	title     string
	showStats bool
	filter    tasks.Filter
	mode      mode
	input     []rune
	cursor    int
	view      []tasks.Task
	stats     tasks.Stats

	changes chan tasks.Change
	cancel  func()
}

type changeMsg tasks.Change

// New builds a model subscribed to store changes. Call Close when done.
func New(store *tasks.TaskStore, opts ...Option) *Model {
	m := &Model{
		store:     store,
		title:     "ToDo App",
		showStats: true,
		filter:    tasks.FilterAll,
		changes:   make(chan tasks.Change, 16),
	}
	for _, opt := range opts {
		opt(m)
	}
	// Own mutations refresh synchronously in Update; the channel only has to
	// wake the loop for changes made elsewhere, so a full buffer can drop.
	m.cancel = store.Subscribe(func(c tasks.Change) {
		select {
		case m.changes <- c:
		default:
		}
	})
	m.refresh()
	return m
}

// Close detaches the model from the store.
func (m *Model) Close() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Model) Init() tea.Cmd {
	return waitForChange(m.changes)
}

func waitForChange(ch <-chan tasks.Change) tea.Cmd {
	return func() tea.Msg {
		c, ok := <-ch
		if !ok {
			return nil
		}
		return changeMsg(c)
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case changeMsg:
		m.refresh()
		return m, waitForChange(m.changes)
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		if m.mode == modeInput {
			return m.updateInput(msg)
		}
		return m.updateList(msg)
	}
	return m, nil
}

func (m *Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		m.store.Add(string(m.input))
		m.input = m.input[:0]
		m.refresh()
	case tea.KeyBackspace:
		if len(m.input) > 0 {
			m.input = m.input[:len(m.input)-1]
		}
	case tea.KeyEsc:
		m.mode = modeList
	case tea.KeyTab:
		m.setFilter(m.filter.Next())
	case tea.KeyUp, tea.KeyDown:
		m.mode = modeList
		m.moveCursor(msg.Type == tea.KeyDown)
	case tea.KeySpace:
		m.input = append(m.input, ' ')
	case tea.KeyRunes:
		m.input = append(m.input, msg.Runes...)
	}
	return m, nil
}

func (m *Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "i", "a", "esc":
		m.mode = modeInput
	case "up", "k":
		m.moveCursor(false)
	case "down", "j":
		m.moveCursor(true)
	case " ", "x", "enter":
		if task, ok := m.selected(); ok {
			m.store.Toggle(task.ID)
			m.refresh()
		}
	case "d", "delete", "backspace":
		if task, ok := m.selected(); ok {
			m.store.Remove(task.ID)
			m.refresh()
		}
	case "c":
		m.store.ClearCompleted()
		m.refresh()
	case "tab":
		m.setFilter(m.filter.Next())
	case "1":
		m.setFilter(tasks.FilterAll)
	case "2":
		m.setFilter(tasks.FilterActive)
	case "3":
		m.setFilter(tasks.FilterCompleted)
	}
	return m, nil
}

func (m *Model) setFilter(f tasks.Filter) {
	m.filter = f
	m.cursor = 0
	m.refresh()
}

func (m *Model) moveCursor(down bool) {
	if down && m.cursor < len(m.view)-1 {
		m.cursor++
	}
	if !down && m.cursor > 0 {
		m.cursor--
	}
}

func (m *Model) selected() (tasks.Task, bool) {
	if m.cursor < 0 || m.cursor >= len(m.view) {
		return tasks.Task{}, false
	}
	return m.view[m.cursor], true
}

func (m *Model) refresh() {
	all := m.store.Tasks()
	m.view = m.filter.Apply(all)
	m.stats = tasks.CountStats(all)
	if m.cursor >= len(m.view) {
		m.cursor = len(m.view) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")

	prompt := "  "
	if m.mode == modeInput {
		prompt = "> "
	}
	input := string(m.input)
	if input == "" && m.mode == modeInput {
		input = hintStyle.Render("What needs to be done?")
	}
	b.WriteString(prompt + input + "\n\n")

	b.WriteString(m.renderFilters())
	b.WriteString("\n\n")

	if len(m.view) == 0 {
		b.WriteString(hintStyle.Render("Nothing here yet."))
		b.WriteString("\n")
	} else {
		b.WriteString(headingStyle.Render(fmt.Sprintf("%s (%d)", m.filter.Title(), len(m.view))))
		b.WriteString("\n")
		for i, task := range m.view {
			cursor := "  "
			if m.mode == modeList && i == m.cursor {
				cursor = "> "
			}
			check := "[ ]"
			text := task.Text
			if task.Completed {
				check = "[x]"
				text = doneStyle.Render(text)
			}
			b.WriteString(fmt.Sprintf("%s%s %s\n", cursor, check, text))
		}
	}

	if m.showStats {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("Total: %d  Active: %d  Completed: %d", m.stats.Total, m.stats.Active, m.stats.Completed))
		if m.stats.Completed > 0 {
			b.WriteString(hintStyle.Render("  (c: clear completed)"))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(hintStyle.Render(m.help()))
	return b.String()
}

func (m *Model) renderFilters() string {
	filters := []tasks.Filter{tasks.FilterAll, tasks.FilterActive, tasks.FilterCompleted}
	parts := make([]string, 0, len(filters))
	for i, f := range filters {
		label := fmt.Sprintf("%d:%s", i+1, f)
		if f == m.filter {
			label = activeFilter.Render(label)
		}
		parts = append(parts, label)
	}
	return strings.Join(parts, "  ")
}

func (m *Model) help() string {
	if m.mode == modeInput {
		return "enter add • tab filter • esc list • ctrl+c quit"
	}
	return "space toggle • d delete • c clear completed • 1/2/3 filter • i input • q quit"
}
