package main

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jwebster45206/combat-tracker/internal/apiclient"
	"github.com/jwebster45206/combat-tracker/pkg/combat"
)

type contextMsg struct {
	context *combat.Context
	err     error
}

type submitMsg struct {
	line     string
	response string
	err      error
}

type streamMsg struct {
	event apiclient.StreamEvent
}

type streamClosedMsg struct {
	err error
}

func (m ConsoleUI) refreshContext() tea.Cmd {
	return func() tea.Msg {
		cc, err := m.client.CombatContext(context.Background(), m.config.SessionID)
		return contextMsg{cc, err}
	}
}

func (m ConsoleUI) submit(line string, raw map[string]any) tea.Cmd {
	return func() tea.Msg {
		res, err := m.client.Submit(context.Background(), m.config.SessionID, raw)
		if err != nil {
			return submitMsg{line: line, err: err}
		}
		out := "applied"
		if res.Duplicate {
			out = "already applied"
		}
		return submitMsg{line: line, response: out}
	}
}

// listen starts the event stream once and returns the command that waits
// for its next frame.
func (m ConsoleUI) listen() tea.Cmd {
	go func() {
		err := m.client.Stream(m.streamCtx, m.config.SessionID, m.stream)
		m.streamErr <- err
	}()
	return m.waitForStream()
}

func (m ConsoleUI) waitForStream() tea.Cmd {
	return func() tea.Msg {
		select {
		case ev := <-m.stream:
			return streamMsg{ev}
		case err := <-m.streamErr:
			return streamClosedMsg{err}
		}
	}
}
