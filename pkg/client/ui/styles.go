package ui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	// Color scheme
	PrimaryColor   = lipgloss.Color("39")  // Blue
	SecondaryColor = lipgloss.Color("213") // Pink
	SuccessColor   = lipgloss.Color("42")  // Green
	ErrorColor     = lipgloss.Color("196") // Red
	WarningColor   = lipgloss.Color("214") // Orange
	MutedColor     = lipgloss.Color("243") // Gray
	BorderColor    = lipgloss.Color("238") // Dark gray

	BaseStyle = lipgloss.NewStyle()

	HeaderStyle = BaseStyle.
			Bold(true).
			Foreground(PrimaryColor).
			Padding(0, 1)

	StatusStyle = BaseStyle.
			Foreground(MutedColor).
			Padding(0, 1)

	FooterStyle = BaseStyle.
			Foreground(MutedColor).
			Padding(0, 1)

	ShortcutKeyStyle = BaseStyle.
				Foreground(PrimaryColor).
				Bold(true)

	ShortcutDescStyle = BaseStyle.
				Foreground(lipgloss.Color("252"))

	ChatPaneStyle = BaseStyle.
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderColor).
			Padding(0, 1)

	InputStyle = BaseStyle.
			Border(lipgloss.RoundedBorder()).
			BorderForeground(PrimaryColor).
			Padding(0, 1)

	// Line styles
	MessageAuthorStyle = BaseStyle.
				Foreground(SecondaryColor)

	OwnAuthorStyle = BaseStyle.
			Foreground(PrimaryColor).
			Bold(true)

	MessageContentStyle = BaseStyle.
				Foreground(lipgloss.Color("252"))

	MentionStyle = BaseStyle.
			Foreground(WarningColor).
			Bold(true)

	SystemStyle = BaseStyle.
			Foreground(MutedColor).
			Italic(true)

	ServerReplyStyle = BaseStyle.
				Foreground(SuccessColor)

	ErrorStyle = BaseStyle.
			Foreground(ErrorColor).
			Bold(true)
)
