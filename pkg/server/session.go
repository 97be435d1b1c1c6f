package server

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/aeolun/lanchat/pkg/protocol"
)

// SessionState is a session's position in its lifecycle
type SessionState int32

const (
	StateConnecting SessionState = iota // accepted, username not read yet
	StateActive                         // registered, relaying messages
	StateClosing                        // deregistering and announcing departure
	StateClosed                         // terminal
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// helpLines is sent to every client after the welcome banner
var helpLines = []string{
	"Available commands:",
	"1. /files - View available files",
	"2. /download <filename> - Download a file",
	"3. /history <count> - View chat history (optional count)",
}

// SessionDeps are the shared structures a session works against. The
// server owns them and hands the same instances to every session.
type SessionDeps struct {
	Registry *Registry
	History  *History
	Catalog  *Catalog
	Metrics  *Metrics
	Log      zerolog.Logger

	Transport        string // "tcp", "ssh" or "websocket"
	MessageRateLimit int    // chat messages per minute, 0 disables
	MaxMessageLength int    // bytes, 0 disables
}

// Session is one connected client
type Session struct {
	ID string

	username string // set once by the handshake, read-only afterwards
	conn     *Conn
	state    atomic.Int32
	started  atomic.Bool
	limiter  *rate.Limiter

	registry *Registry
	history  *History
	catalog  *Catalog
	metrics  *Metrics
	log      zerolog.Logger

	maxMessageLength int
	closeOnce        sync.Once
}

// NewSession creates a session in the Connecting state
func NewSession(raw net.Conn, deps SessionDeps) *Session {
	id := uuid.NewString()
	sess := &Session{
		ID:               id,
		conn:             NewConn(raw),
		registry:         deps.Registry,
		history:          deps.History,
		catalog:          deps.Catalog,
		metrics:          deps.Metrics,
		maxMessageLength: deps.MaxMessageLength,
		log:              deps.Log.With().Str("session", id).Str("transport", deps.Transport).Logger(),
	}
	if deps.MessageRateLimit > 0 {
		perSecond := rate.Limit(float64(deps.MessageRateLimit) / 60)
		sess.limiter = rate.NewLimiter(perSecond, deps.MessageRateLimit)
	}
	if sess.catalog == nil {
		sess.catalog = NewCatalog()
	}
	sess.metrics.RecordSessionCreated(deps.Transport)
	return sess
}

// Username returns the name chosen at handshake ("" while connecting)
func (s *Session) Username() string {
	return s.username
}

// State returns the current lifecycle state
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Deliver sends one text frame to this session's client
func (s *Session) Deliver(message string) error {
	return s.conn.SendText(message)
}

// Run drives the session until its connection ends. A clean disconnect
// returns nil. A session can only be run once.
func (s *Session) Run() error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrSessionClosed
	}
	defer s.close()

	// The first frame is always the username; no validation or uniqueness check
	username, err := s.conn.ReceiveText()
	if err != nil {
		return s.endError(err)
	}
	s.username = username
	s.log = s.log.With().Str("username", username).Logger()

	if err := s.activate(); err != nil {
		return s.endError(err)
	}

	for {
		message, err := s.conn.ReceiveText()
		if err != nil {
			return s.endError(err)
		}
		s.handleMessage(message)
	}
}

// activate sends the welcome banner, registers the session and announces it
func (s *Session) activate() error {
	s.state.Store(int32(StateActive))

	if err := s.conn.SendText("Welcome, " + s.username + "!"); err != nil {
		return err
	}
	for _, line := range helpLines {
		if err := s.conn.SendText(line); err != nil {
			return err
		}
	}

	s.registry.Register(s)
	s.registry.Broadcast(s.username + " joined the chat.")
	s.log.Info().Msg("Client joined the chat")
	return nil
}

func (s *Session) handleMessage(message string) {
	if protocol.IsCommand(message) {
		s.dispatch(message)
		return
	}

	// The broadcast frame carries the "username: " prefix as well
	tooLong := len(s.username)+2+len(message) > protocol.MaxTextSize
	if tooLong || (s.maxMessageLength > 0 && len(message) > s.maxMessageLength) {
		s.reply(MessageTooLongReply)
		return
	}

	if s.limiter != nil && !s.limiter.Allow() {
		s.metrics.RecordRateLimited()
		s.reply("Rate limit exceeded, message not sent.")
		return
	}

	s.history.Append(s.username, message)
	s.registry.Broadcast(s.username + ": " + message)
	s.log.Info().Str("message", message).Msg("Message received")
}

// reply sends a text frame to this client only. A failed write is left for
// the receive loop to detect.
func (s *Session) reply(text string) {
	if err := s.conn.SendText(text); err != nil {
		s.log.Debug().Err(err).Msg("Reply failed")
	}
}

// endError logs why the session is ending and maps a clean EOF to nil
func (s *Session) endError(err error) error {
	if errors.Is(err, ErrEndOfStream) {
		s.log.Info().Msg("Client disconnected")
		return nil
	}
	s.log.Error().Err(err).Msg("Session connection error")
	return err
}

// close deregisters, announces the departure to the remaining sessions and
// releases the connection. It runs at most once per session.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosing))

		if s.registry.Deregister(s) {
			s.registry.Broadcast(s.username + " left the chat.")
			s.log.Info().Msg("Client left the chat")
		}

		if err := s.conn.Close(); err != nil {
			s.log.Debug().Err(err).Msg("Close failed")
		}

		s.metrics.RecordSessionDisconnected()
		s.state.Store(int32(StateClosed))
	})
}

// Close tears the session down from outside its own goroutine, e.g. on
// server shutdown. The receive loop then fails and Run returns.
func (s *Session) Close() error {
	return s.conn.Close()
}
