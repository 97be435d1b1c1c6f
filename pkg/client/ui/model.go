package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gen2brain/beeep"

	"github.com/aeolun/lanchat/pkg/client"
)

// maxLines bounds the scrollback kept in memory
const maxLines = 1000

// NotifyFunc raises a desktop notification
type NotifyFunc func(title, message string) error

// Model is the terminal chat client
type Model struct {
	conn     client.ConnectionInterface
	username string
	version  string

	width    int
	height   int
	viewport viewport.Model
	input    textinput.Model

	lines     []Line
	connected bool
	follow    bool // keep the viewport pinned to the newest line

	statusMessage string
	errorMessage  string

	notify NotifyFunc
}

// NewModel creates a model for an already connected session
func NewModel(conn client.ConnectionInterface, username, version string) Model {
	input := textinput.New()
	input.Placeholder = "Type a message or /help"
	input.CharLimit = 4096
	input.Prompt = "> "
	input.Focus()

	return Model{
		conn:      conn,
		username:  username,
		version:   version,
		input:     input,
		connected: conn.IsConnected(),
		follow:    true,
		notify:    desktopNotify,
	}
}

// SetNotifier replaces the desktop notifier; nil disables notifications
func (m *Model) SetNotifier(fn NotifyFunc) {
	m.notify = fn
}

func desktopNotify(title, message string) error {
	return beeep.Notify(title, message, "")
}

// Init starts listening for server events
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, listenForEvents(m.conn))
}

// ServerEventMsg wraps one event from the connection
type ServerEventMsg struct {
	Event client.Event
}

// EventsClosedMsg is sent once the event channel is drained
type EventsClosedMsg struct{}

// SendErrorMsg reports a failed write
type SendErrorMsg struct {
	Err error
}

// listenForEvents waits for the next connection event
func listenForEvents(conn client.ConnectionInterface) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-conn.Events()
		if !ok {
			return EventsClosedMsg{}
		}
		return ServerEventMsg{Event: ev}
	}
}

// sendCmd writes one line off the update loop
func sendCmd(conn client.ConnectionInterface, text string) tea.Cmd {
	return func() tea.Msg {
		if err := conn.Send(text); err != nil {
			return SendErrorMsg{Err: err}
		}
		return nil
	}
}

// notifyCmd raises a notification off the update loop
func notifyCmd(fn NotifyFunc, title, message string) tea.Cmd {
	if fn == nil {
		return nil
	}
	return func() tea.Msg {
		_ = fn(title, message)
		return nil
	}
}

// appendLine adds a line to the scrollback and refreshes the viewport
func (m *Model) appendLine(l Line) {
	m.lines = append(m.lines, l)
	if len(m.lines) > maxLines {
		m.lines = m.lines[len(m.lines)-maxLines:]
	}
	m.refreshViewport()
}

func (m *Model) refreshViewport() {
	if m.viewport.Width == 0 {
		return
	}
	m.viewport.SetContent(m.buildChatContent())
	if m.follow {
		m.viewport.GotoBottom()
	}
}

// handleEvent turns a connection event into scrollback and status updates
func (m *Model) handleEvent(ev client.Event) tea.Cmd {
	switch ev.Kind {
	case client.EventMessage:
		line := parseLine(ev.Text)
		m.appendLine(line)
		if line.Kind == LineChat && line.Author != m.username && mentions(line.Text, m.username) {
			return notifyCmd(m.notify, "Mentioned by "+line.Author, line.Text)
		}

	case client.EventDownload:
		if ev.Err != nil {
			m.errorMessage = fmt.Sprintf("Download of %s failed: %v", ev.File, ev.Err)
			m.appendLine(Line{Kind: LineError, Text: m.errorMessage})
			return nil
		}
		m.statusMessage = fmt.Sprintf("Saved %s (%s)", ev.Path, formatBytes(uint64(ev.Size)))
		m.appendLine(Line{Kind: LineSystem, Text: m.statusMessage})

	case client.EventDisconnected:
		m.connected = false
		text := "Disconnected from server"
		if ev.Err != nil {
			text = fmt.Sprintf("Disconnected: %v", ev.Err)
		}
		m.errorMessage = text
		m.appendLine(Line{Kind: LineError, Text: text})
	}
	return nil
}
