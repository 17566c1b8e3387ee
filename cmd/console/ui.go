package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/jwebster45206/combat-tracker/internal/apiclient"
	"github.com/jwebster45206/combat-tracker/pkg/combat"
	"github.com/muesli/reflow/wordwrap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const PlaceHolderText = "dmg 2 7 slashing"

// ConsoleUI is the BubbleTea model for the GM console.
// https://github.com/charmbracelet/bubbletea
type ConsoleUI struct {
	config       *ConsoleConfig
	client       *apiclient.Client
	context      *combat.Context
	logViewport  viewport.Model
	metaViewport viewport.Model
	textarea     textarea.Model
	ready        bool
	width        int
	height       int
	err          error

	// Log lines, unwrapped; they are wrapped on every render.
	lines []logLine

	streamCtx  context.Context
	stopStream context.CancelFunc
	stream     chan apiclient.StreamEvent
	streamErr  chan error

	showQuitModal bool
}

type logLine struct {
	style lipgloss.Style
	text  string
}

var (
	logPanelStyle = lipgloss.NewStyle().
			PaddingTop(1).
			PaddingLeft(2)

	metaPanelStyle = lipgloss.NewStyle().
			PaddingTop(1).
			PaddingRight(2)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")). // pink
			Bold(true)

	currentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("205")).
			Bold(true)

	appliedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")) // green

	commandStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")) // teal

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")) // red

	downedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Strikethrough(true)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // dark grey

	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2).
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("255"))

	modalTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			Align(lipgloss.Center)

	separatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

var titleCaser = cases.Title(language.English)

func NewConsoleUI(cfg *ConsoleConfig, client *apiclient.Client) ConsoleUI {
	ta := textarea.New()
	ta.Placeholder = PlaceHolderText
	ta.Prompt = promptStyle.Render(":: ")
	ta.CharLimit = 200
	ta.SetWidth(50)
	ta.SetHeight(1)
	ta.ShowLineNumbers = false
	ta.Blur()

	logVp := viewport.New(50, 20)
	logVp.MouseWheelEnabled = true

	ctx, cancel := context.WithCancel(context.Background())
	return ConsoleUI{
		config:       cfg,
		client:       client,
		textarea:     ta,
		logViewport:  logVp,
		metaViewport: viewport.New(30, 20),
		streamCtx:    ctx,
		stopStream:   cancel,
		stream:       make(chan apiclient.StreamEvent, 16),
		streamErr:    make(chan error, 1),
		lines: []logLine{
			{titleStyle, "COMBAT TRACKER"},
			{promptStyle, "Session " + cfg.SessionID + ". Press : for the command line, help for commands."},
		},
	}
}

func (m ConsoleUI) Init() tea.Cmd {
	return tea.Batch(m.refreshContext(), m.listen())
}

func (m ConsoleUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.showQuitModal {
		return m.updateQuitModal(msg)
	}

	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.MouseMsg:
		m.logViewport, vpCmd = m.logViewport.Update(msg)
		return m, vpCmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		logWidth := int(float64(m.width)*0.6) - 2
		metaWidth := m.width - logWidth - 4

		m.logViewport.Width = logWidth - 2
		m.logViewport.Height = m.height - 5
		m.metaViewport.Width = metaWidth - 2
		m.metaViewport.Height = m.height - 2
		m.textarea.SetWidth(logWidth - 4)
		m.ready = true
		m.writeLog()
		m.metaViewport.SetContent(m.writeTurnOrder())

	case tea.KeyMsg:
		if m.textarea.Focused() {
			return m.updateCommandLine(msg)
		}
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			m.showQuitModal = true
			return m, nil
		case ":", "enter":
			m.textarea.Focus()
			return m, textarea.Blink
		case "n":
			return m.run("next", map[string]any{"type": "turn_advance"})
		case "r":
			return m.run("round", map[string]any{"type": "round_start"})
		case "e":
			return m.run("end", map[string]any{"type": "combat_end"})
		case "y":
			if err := clipboard.WriteAll(m.config.SessionID); err != nil {
				m.appendLine(errorStyle, "Copy failed: "+err.Error())
			} else {
				m.appendLine(promptStyle, "Copied session id "+m.config.SessionID)
			}
			return m, nil
		}

	case submitMsg:
		if msg.err != nil {
			m.appendLine(errorStyle, msg.line+": "+msg.err.Error())
			return m, nil
		}
		m.appendLine(commandStyle, msg.line+": "+msg.response)
		return m, m.refreshContext()

	case contextMsg:
		if msg.err != nil {
			m.err = msg.err
			m.appendLine(errorStyle, "Failed to load combat: "+msg.err.Error())
			return m, nil
		}
		m.err = nil
		m.context = msg.context
		m.metaViewport.SetContent(m.writeTurnOrder())

	case streamMsg:
		if line := describeStreamEvent(msg.event); line.text != "" {
			m.appendLine(line.style, line.text)
		}
		// Another producer may have changed state; pull the new context.
		return m, tea.Batch(m.refreshContext(), m.waitForStream())

	case streamClosedMsg:
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			m.appendLine(errorStyle, "Live updates stopped: "+msg.err.Error())
		}
		return m, nil
	}

	m.textarea, tiCmd = m.textarea.Update(msg)
	m.logViewport, vpCmd = m.logViewport.Update(msg)
	return m, tea.Batch(tiCmd, vpCmd)
}

func (m ConsoleUI) updateCommandLine(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		m.showQuitModal = true
		return m, nil
	case tea.KeyEsc:
		m.textarea.Reset()
		m.textarea.Blur()
		return m, nil
	case tea.KeyEnter:
		line := strings.TrimSpace(m.textarea.Value())
		m.textarea.Reset()
		if line == "" {
			return m, nil
		}
		raw, err := parseCommand(line)
		if errors.Is(err, errHelp) {
			m.appendLine(promptStyle, commandHelp)
			return m, nil
		}
		if err != nil {
			m.appendLine(errorStyle, err.Error())
			return m, nil
		}
		return m.run(line, raw)
	}

	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	return m, cmd
}

func (m ConsoleUI) run(line string, raw map[string]any) (tea.Model, tea.Cmd) {
	m.appendLine(promptStyle, "> "+line)
	return m, m.submit(line, raw)
}

func (m *ConsoleUI) appendLine(style lipgloss.Style, text string) {
	m.lines = append(m.lines, logLine{style, text})
	m.writeLog()
}

// writeLog rewraps every line for the current viewport width.
func (m *ConsoleUI) writeLog() {
	width := m.logViewport.Width - 2
	if width < 20 {
		width = 20
	}
	var content strings.Builder
	for _, l := range m.lines {
		content.WriteString(l.style.Render(wordwrap.String(l.text, width)))
		content.WriteString("\n")
	}
	m.logViewport.SetContent(content.String())
	m.logViewport.GotoBottom()
}

func (m ConsoleUI) writeTurnOrder() string {
	var content strings.Builder
	content.WriteString(titleStyle.Render("COMBAT") + "\n\n")

	cc := m.context
	if cc == nil {
		content.WriteString(promptStyle.Render("Loading...") + "\n")
		return content.String()
	}

	if cc.IsActive {
		content.WriteString(fmt.Sprintf("Round %d\n\n", cc.CurrentRound))
	} else {
		content.WriteString("Not in combat\n\n")
	}

	conditions := make(map[string][]string)
	for _, c := range cc.Conditions {
		key := c.CharacterID.String()
		conditions[key] = append(conditions[key], titleCaser.String(c.Name))
	}
	effects := make(map[string][]string)
	for _, e := range cc.Effects {
		key := e.CharacterID.String()
		effects[key] = append(effects[key], titleCaser.String(e.Name))
	}

	if len(cc.TurnOrder) > 0 {
		content.WriteString("Initiative:\n")
		for _, cb := range cc.TurnOrder {
			name := cb.CharacterName
			if name == "" {
				name = cb.CharacterID.String()
			}
			row := fmt.Sprintf("%2d  %-14s", cb.InitiativeValue, truncate(name, 14))
			if cb.CurrentHP != nil && cb.MaxHP != nil {
				row += fmt.Sprintf(" %3d/%-3d", *cb.CurrentHP, *cb.MaxHP)
			}
			switch {
			case cb.IsCurrent:
				row = currentStyle.Render("▶ " + row)
			case cb.CurrentHP != nil && *cb.CurrentHP == 0:
				row = "  " + downedStyle.Render(row)
			default:
				row = "  " + row
			}
			content.WriteString(row + "\n")
			for _, tag := range append(conditions[cb.CharacterID.String()], effects[cb.CharacterID.String()]...) {
				content.WriteString(promptStyle.Render("      • "+tag) + "\n")
			}
		}
		content.WriteString("\n")
	}

	content.WriteString("Roster:\n")
	for _, c := range cc.Characters {
		name := c.Name
		if name == "" {
			name = c.ID.String()
		}
		content.WriteString(fmt.Sprintf("• [%s] %s %d/%d\n", c.ID, name, c.CurrentHP, c.MaxHP))
	}

	content.WriteString("\n")
	content.WriteString("Keys:\n")
	content.WriteString("• n: Next turn\n")
	content.WriteString("• r: New round\n")
	content.WriteString("• e: End combat\n")
	content.WriteString("• y: Copy session id\n")
	content.WriteString("• :: Command line\n")
	content.WriteString("• q: Quit\n")

	return content.String()
}

func describeStreamEvent(ev apiclient.StreamEvent) logLine {
	switch ev.Type {
	case "event.applied":
		t, _ := ev.Data["type"].(string)
		line := "• " + strings.ReplaceAll(t, "_", " ")
		if id, ok := ev.Data["characterId"]; ok {
			line += fmt.Sprintf(" [%v]", id)
		}
		if src, ok := ev.Data["sourceTextSegment"].(string); ok && src != "" {
			line += fmt.Sprintf(" %q", src)
		}
		return logLine{appliedStyle, line}
	case "event.rejected":
		t, _ := ev.Data["type"].(string)
		reason, _ := ev.Data["error"].(string)
		return logLine{errorStyle, fmt.Sprintf("✗ %s rejected: %s", t, reason)}
	}
	return logLine{}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func (m ConsoleUI) updateQuitModal(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEnter:
			m.stopStream()
			return m, tea.Quit
		default:
			switch msg.String() {
			case "y", "Y":
				m.stopStream()
				return m, tea.Quit
			case "n", "N", "esc":
				m.showQuitModal = false
				return m, nil
			}
		}

	case streamMsg:
		// Keep draining while the modal is open.
		return m, m.waitForStream()
	}

	return m, nil
}

func (m ConsoleUI) renderQuitModal() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var content strings.Builder
	content.WriteString(modalTitleStyle.Render("Quit Console?"))
	content.WriteString("\n\n")
	content.WriteString("The session keeps running on the server.")
	content.WriteString("\n\n")
	content.WriteString(promptStyle.Render("Press Y to quit, N to continue"))

	modal := modalStyle.Width(50).Render(content.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal, lipgloss.WithWhitespaceChars(" "))
}

func (m ConsoleUI) View() string {
	if m.showQuitModal {
		return m.renderQuitModal()
	}
	if !m.ready {
		return "\n  Initializing..."
	}

	logWidth := int(float64(m.width)*0.6) - 2
	metaWidth := m.width - logWidth - 4

	input := m.textarea.View()
	if !m.textarea.Focused() {
		input = promptStyle.Render("press : to enter a command")
	}

	logPanel := logPanelStyle.Width(logWidth).Height(m.height - 2).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.logViewport.View(),
			separatorStyle.Render(strings.Repeat("─", logWidth-4)),
			input,
		),
	)
	metaPanel := metaPanelStyle.Width(metaWidth).Height(m.height - 2).Render(
		m.metaViewport.View(),
	)

	return lipgloss.JoinHorizontal(lipgloss.Top, logPanel, metaPanel)
}
