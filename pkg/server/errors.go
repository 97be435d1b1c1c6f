package server

import (
	"errors"
	"fmt"
)

var (
	// ErrEndOfStream indicates the peer closed the connection cleanly between frames
	ErrEndOfStream = errors.New("end of stream")
	// ErrCatalogMiss indicates a requested file is not in the catalog
	ErrCatalogMiss = errors.New("file not found in catalog")
	// ErrSessionClosed indicates an attempt to run a session that already ran
	ErrSessionClosed = errors.New("session already used")
	// ErrPayloadRead indicates the local file failed while a payload was being streamed
	ErrPayloadRead = errors.New("payload read failed")
)

// ConnectionError is an I/O failure on a session's connection. It is local
// to that session and ends it.
type ConnectionError struct {
	Op  string // "read" or "write"
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// CommandError is a malformed command invocation. It fails only that command.
type CommandError struct {
	Command string
	Reason  string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, e.Reason)
}

// StartupFailure aborts server startup (listener bind or catalog scan)
type StartupFailure struct {
	Stage string
	Err   error
}

func (e *StartupFailure) Error() string {
	return fmt.Sprintf("startup failed (%s): %v", e.Stage, e.Err)
}

func (e *StartupFailure) Unwrap() error {
	return e.Err
}
