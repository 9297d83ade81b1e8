package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/example/latentwalk/api-go/internal/client"
	"github.com/example/latentwalk/api-go/internal/events"
	"github.com/example/latentwalk/api-go/internal/model"
)

var (
	watchTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	watchMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	watchErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	watchOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
)

var errWatchAborted = errors.New("watch aborted")

type eventMsg events.Event

type streamEndMsg struct{ err error }

type watchModel struct {
	jobID   string
	bar     progress.Model
	last    events.Event
	err     error
	aborted bool
}

func newWatchModel(jobID string) watchModel {
	return watchModel{
		jobID: jobID,
		bar:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(48)),
	}
}

func (m watchModel) Init() tea.Cmd {
	return nil
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.aborted = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.bar.Width = max(10, min(msg.Width-4, 72))
	case eventMsg:
		ev := events.Event(msg)
		if ev.FramesDone < m.last.FramesDone && !ev.Terminal() {
			return m, nil
		}
		m.last = ev
		if ev.Terminal() {
			return m, tea.Quit
		}
	case streamEndMsg:
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(watchTitleStyle.Render("latent walk " + m.jobID))
	b.WriteString("\n")
	b.WriteString(m.bar.ViewAs(m.last.Progress))
	b.WriteString("\n")

	status := m.last.Status
	if status == "" {
		status = model.JobQueued
	}
	counts := fmt.Sprintf("%s  %d/%d frames", statusLabel(status), m.last.FramesDone, m.last.TotalFrames)
	switch {
	case m.err != nil:
		b.WriteString(watchErrorStyle.Render(m.err.Error()))
	case status == model.JobDone:
		b.WriteString(watchOKStyle.Render(counts + "  " + m.last.Message))
	case status == model.JobError:
		b.WriteString(watchErrorStyle.Render(counts + "  " + m.last.Message))
	default:
		b.WriteString(watchMutedStyle.Render(counts + "  (q to stop watching)"))
	}
	b.WriteString("\n")
	return b.String()
}

// watchInteractive renders a progress bar fed by the job's event stream.
func watchInteractive(ctx context.Context, c *client.Client, id string, out io.Writer) (events.Event, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newWatchModel(id), tea.WithOutput(out), tea.WithContext(ctx))
	go func() {
		err := c.Watch(ctx, id, pollInterval, func(ev events.Event) error {
			p.Send(eventMsg(ev))
			return nil
		})
		p.Send(streamEndMsg{err: err})
	}()

	final, err := p.Run()
	if err != nil {
		return events.Event{}, err
	}
	m := final.(watchModel)
	if m.aborted {
		return m.last, errWatchAborted
	}
	return m.last, m.err
}
