package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		// header(1) + footer(1) + input box(3) + chat pane border(2)
		vpWidth := msg.Width - 4
		vpHeight := msg.Height - 7
		if vpWidth < 1 {
			vpWidth = 1
		}
		if vpHeight < 1 {
			vpHeight = 1
		}
		if m.viewport.Width == 0 || m.viewport.Height == 0 {
			m.viewport = viewport.New(vpWidth, vpHeight)
		} else {
			m.viewport.Width = vpWidth
			m.viewport.Height = vpHeight
		}
		m.input.Width = msg.Width - 6
		m.refreshViewport()
		return m, nil

	case ServerEventMsg:
		cmd := m.handleEvent(msg.Event)
		return m, tea.Batch(cmd, listenForEvents(m.conn))

	case EventsClosedMsg:
		m.connected = false
		return m, nil

	case SendErrorMsg:
		m.errorMessage = "Send failed: " + msg.Err.Error()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleKeyPress processes keyboard input
func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit

	case "enter":
		text := m.input.Value()
		if strings.TrimSpace(text) == "/quit" {
			return m, tea.Quit
		}
		if !m.connected {
			m.errorMessage = "Not connected"
			return m, nil
		}
		m.input.Reset()
		m.errorMessage = ""
		m.statusMessage = ""
		m.follow = true
		return m, sendCmd(m.conn, text)

	case "pgup":
		m.viewport.HalfViewUp()
		m.follow = m.viewport.AtBottom()
		return m, nil

	case "pgdown":
		m.viewport.HalfViewDown()
		m.follow = m.viewport.AtBottom()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}
