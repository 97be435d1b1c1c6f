package ui

import (
	"fmt"
	"strings"

	"github.com/76creates/stickers/flexbox"
	"github.com/charmbracelet/lipgloss"
)

// View renders the current state
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	layout := flexbox.New(m.width, m.height)

	headerRow := layout.NewRow().AddCells(
		flexbox.NewCell(1, 1).SetContent(m.renderHeader()),
	)

	// Chat pane takes what the header, input box and footer leave
	contentHeight := m.height - 5
	if contentHeight < 1 {
		contentHeight = 1
	}
	contentRow := layout.NewRow().AddCells(
		flexbox.NewCell(1, contentHeight).SetContent(
			ChatPaneStyle.Width(m.width - 2).Render(m.viewport.View()),
		),
	)

	inputRow := layout.NewRow().AddCells(
		flexbox.NewCell(1, 3).SetContent(
			InputStyle.Width(m.width - 2).Render(m.input.View()),
		),
	)

	footerRow := layout.NewRow().AddCells(
		flexbox.NewCell(1, 1).SetContent(m.renderFooter()),
	)

	layout.AddRows([]*flexbox.Row{headerRow, contentRow, inputRow, footerRow})

	return layout.Render()
}

func (m Model) renderHeader() string {
	left := HeaderStyle.Render("LanChat " + m.version)

	status := "Disconnected"
	if m.connected {
		status = fmt.Sprintf("%s @ %s  ↑%s ↓%s",
			m.username,
			m.conn.GetAddress(),
			formatBytes(m.conn.GetBytesSent()),
			formatBytes(m.conn.GetBytesReceived()),
		)
	}
	right := StatusStyle.Render(status)

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right
}

func (m Model) renderFooter() string {
	content := ShortcutKeyStyle.Render("[Enter]") + " " + ShortcutDescStyle.Render("send") + "  " +
		ShortcutKeyStyle.Render("[PgUp/PgDn]") + " " + ShortcutDescStyle.Render("scroll") + "  " +
		ShortcutKeyStyle.Render("[/quit]") + " " + ShortcutDescStyle.Render("exit")

	if m.statusMessage != "" {
		content += "  " + ServerReplyStyle.Render(m.statusMessage)
	}
	if m.errorMessage != "" {
		content += "  " + ErrorStyle.Render(m.errorMessage)
	}

	return FooterStyle.MaxWidth(m.width).Render(content)
}

// buildChatContent renders the scrollback, wrapped to the viewport width
func (m Model) buildChatContent() string {
	var sb strings.Builder
	wrap := lipgloss.NewStyle().Width(m.viewport.Width)
	for i, l := range m.lines {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(wrap.Render(renderLine(l, m.username)))
	}
	return sb.String()
}
