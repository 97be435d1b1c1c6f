package server

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aeolun/lanchat/pkg/protocol"
)

const (
	cmdFiles    = "/files"
	cmdDownload = "/download"
	cmdHistory  = "/history"
)

// knownCommands bounds the command label set in metrics
var knownCommands = map[string]bool{
	cmdFiles:    true,
	cmdDownload: true,
	cmdHistory:  true,
}

const (
	DownloadConfirmation = protocol.DownloadConfirmation
	FileNotFoundPrefix   = protocol.FileNotFoundPrefix
	DownloadUsage        = protocol.DownloadUsage
	HistoryUsage         = "Invalid command. Usage: /history [count]"
	NoHistoryReply       = "No chat history found."
	MessageTooLongReply  = "Message too long, not sent."
)

// dispatch runs one command. Any failure is reported to this client only;
// the session stays active.
//
// Arguments are separated by runs of whitespace, so "/download  a.txt"
// (two spaces) downloads a.txt instead of being rejected for an empty
// argument.
func (s *Session) dispatch(line string) {
	name, rest, _ := strings.Cut(line, " ")
	args := strings.Fields(rest)

	s.metrics.RecordCommand(name)

	var err error
	switch name {
	case cmdFiles:
		err = s.handleFiles()
	case cmdDownload:
		err = s.handleDownload(args)
	case cmdHistory:
		err = s.handleHistory(args)
	default:
		s.reply("Unknown command: " + name)
		return
	}

	if err == nil {
		return
	}

	var cmdErr *CommandError
	switch {
	case errors.As(err, &cmdErr):
		s.log.Warn().Str("command", name).Str("reason", cmdErr.Reason).Msg("Command failed")
		s.reply(cmdErr.Reason)
	case errors.Is(err, ErrCatalogMiss):
		s.log.Warn().Err(err).Msg("File not found")
	case errors.Is(err, protocol.ErrTextTooLong):
		s.log.Warn().Str("command", name).Msg("Reply exceeds frame size")
		s.reply("Reply too long to send.")
	default:
		// Connection problems end the session from the receive loop
		s.log.Error().Err(err).Str("command", name).Msg("Command failed")
	}
}

// handleFiles sends the catalog listing as a single frame
func (s *Session) handleFiles() error {
	var b strings.Builder
	b.WriteString("Available files:\n")
	for _, name := range s.catalog.List() {
		b.WriteString(name)
		b.WriteString("\n")
	}
	return s.conn.SendText(b.String())
}

// handleDownload streams a catalog file as raw bytes followed by a confirmation frame
func (s *Session) handleDownload(args []string) error {
	if len(args) != 1 {
		return &CommandError{Command: cmdDownload, Reason: DownloadUsage}
	}
	name := args[0]

	ref, ok := s.catalog.Lookup(name)
	if !ok {
		if err := s.conn.SendText(FileNotFoundPrefix + name); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrCatalogMiss, name)
	}

	f, err := os.Open(ref.Path)
	if err != nil {
		// Catalog is a startup snapshot; the file may have gone since
		return &CommandError{Command: cmdDownload, Reason: protocol.ReadFailedPrefix + name}
	}
	defer f.Close()

	n, err := s.conn.SendPayload(f, DownloadConfirmation)
	s.metrics.RecordDownload(n)
	if errors.Is(err, ErrPayloadRead) {
		s.log.Warn().Err(err).Str("file", name).Int64("bytes", n).Msg("Download aborted")
		return &CommandError{Command: cmdDownload, Reason: protocol.ReadFailedPrefix + name}
	}
	if err != nil {
		return err
	}

	s.log.Info().Str("file", name).Int64("bytes", n).Msg("File downloaded")
	return nil
}

// handleHistory sends the tail of this session's own history
func (s *Session) handleHistory(args []string) error {
	if len(args) > 1 {
		return &CommandError{Command: cmdHistory, Reason: HistoryUsage}
	}

	arg := ""
	if len(args) == 1 {
		arg = args[0]
	}
	count, err := ParseHistoryCount(arg)
	if err != nil {
		return err
	}

	if s.history.Len(s.username) == 0 {
		return s.conn.SendText(NoHistoryReply)
	}

	var b strings.Builder
	b.WriteString("Chat history:\n")
	for _, entry := range s.history.Tail(s.username, count) {
		b.WriteString(entry)
		b.WriteString("\n")
	}
	return s.conn.SendText(b.String())
}
