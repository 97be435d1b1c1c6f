package server

import (
	"context"
	"net"
	"syscall"
)

// listenTCP binds addr with SO_REUSEADDR so a restarted server can rebind at once
func listenTCP(addr string) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = setSocketOptions(fd)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}
	return lc.Listen(context.Background(), "tcp", addr)
}
