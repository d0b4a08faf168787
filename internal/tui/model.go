// Package tui renders live run progress in the terminal for `skein run
// -watch`, driven by the lifecycle events published on the bus.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/skein-dev/skein/internal/events"
)

type taskLine struct {
	id     string
	status string
	reason string
}

// Model is the bubbletea model for the run watcher.
type Model struct {
	pipeline string
	spinner  spinner.Model
	events   <-chan events.Event

	order []string
	tasks map[string]*taskLine

	runStatus string
	done      bool
}

// New creates a watcher for the given task ids, receiving lifecycle events
// from ch. Task ids are rendered in document declaration order.
func New(pipelineName string, taskIDs []string, ch <-chan events.Event) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	tasks := make(map[string]*taskLine, len(taskIDs))
	for _, id := range taskIDs {
		tasks[id] = &taskLine{id: id, status: "pending"}
	}

	return Model{
		pipeline: pipelineName,
		spinner:  sp,
		events:   ch,
		order:    taskIDs,
		tasks:    tasks,
	}
}

type eventMsg struct{ event events.Event }

type eventsClosedMsg struct{}

func waitForEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg{event: e}
	}
}

// Init starts the spinner and the event pump.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events))
}

// Update applies events and key presses.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventsClosedMsg:
		return m, tea.Quit

	case eventMsg:
		m.apply(msg.event)
		if m.done {
			return m, tea.Quit
		}
		return m, waitForEvent(m.events)
	}

	return m, nil
}

func (m *Model) apply(e events.Event) {
	switch e := e.(type) {
	case events.TaskStartedEvent:
		m.line(e.ID).status = "running"
	case events.TaskSucceededEvent:
		m.line(e.ID).status = "succeeded"
	case events.TaskFailedEvent:
		line := m.line(e.ID)
		line.status = "failed"
		if e.Err != nil {
			line.reason = e.Err.Error()
		}
	case events.TaskSkippedEvent:
		line := m.line(e.ID)
		line.status = "skipped"
		line.reason = e.Reason
	case events.RunFinishedEvent:
		m.runStatus = e.OverallStatus
		m.done = true
	}
}

func (m *Model) line(id string) *taskLine {
	if l, ok := m.tasks[id]; ok {
		return l
	}
	l := &taskLine{id: id, status: "pending"}
	m.tasks[id] = l
	m.order = append(m.order, id)
	return l
}

// View renders one line per task plus a header and footer.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("skein · %s", m.pipeline)))
	b.WriteString("\n\n")

	for _, id := range m.order {
		line := m.tasks[id]
		b.WriteString("  ")
		b.WriteString(m.glyph(line.status))
		b.WriteString(" ")
		b.WriteString(line.id)
		if line.reason != "" {
			b.WriteString("  ")
			b.WriteString(errStyle.Render(line.reason))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.done {
		b.WriteString(footerStyle.Render(fmt.Sprintf("run %s", m.runStatus)))
	} else {
		b.WriteString(footerStyle.Render("q to quit"))
	}
	b.WriteString("\n")
	return b.String()
}

func (m Model) glyph(status string) string {
	switch status {
	case "running":
		return runningStyle.Render(m.spinner.View())
	case "succeeded":
		return succeededStyle.Render("✓")
	case "failed":
		return failedStyle.Render("✗")
	case "skipped":
		return skippedStyle.Render("↷")
	default:
		return pendingStyle.Render("·")
	}
}
