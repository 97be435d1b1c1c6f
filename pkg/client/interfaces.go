package client

// ConnectionInterface defines what the UI needs from a connection.
// This allows for mocking in tests while the real Connection implements all these methods.
type ConnectionInterface interface {
	Send(text string) error
	Events() <-chan Event
	GetAddress() string
	IsConnected() bool
	GetBytesSent() uint64
	GetBytesReceived() uint64
}
