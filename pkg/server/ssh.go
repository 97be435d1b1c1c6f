package server

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHServerVersion is the banner the SSH transport advertises
const SSHServerVersion = "SSH-2.0-LanChat"

// startSSHServer starts the SSH transport when an SSH port is configured.
// Each "session" channel carries the same framed text stream as TCP.
func (s *Server) startSSHServer() error {
	if s.config.SSHPort <= 0 {
		s.log.Debug().Int("ssh_port", s.config.SSHPort).Msg("SSH server disabled")
		return nil
	}

	hostKey, err := s.loadOrGenerateHostKey()
	if err != nil {
		return fmt.Errorf("failed to load host key: %w", err)
	}

	// No authentication; the chat has no accounts
	config := &ssh.ServerConfig{
		NoClientAuth: true,
	}
	config.ServerVersion = SSHServerVersion
	config.AddHostKey(hostKey)

	addr := fmt.Sprintf(":%d", s.config.SSHPort)
	listener, err := listenTCP(addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.sshListener = listener
	s.log.Info().Str("addr", listener.Addr().String()).Msg("SSH server listening")

	s.wg.Add(1)
	go s.acceptSSHLoop(listener, config)

	return nil
}

// SSHAddr returns the SSH listener address, or nil when disabled
func (s *Server) SSHAddr() net.Addr {
	if s.sshListener == nil {
		return nil
	}
	return s.sshListener.Addr()
}

// acceptSSHLoop accepts incoming SSH connections
func (s *Server) acceptSSHLoop(listener net.Listener, config *ssh.ServerConfig) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				s.log.Error().Err(err).Msg("SSH accept error")
				continue
			}
		}

		go s.handleSSHConnection(conn, config)
	}
}

// handleSSHConnection performs the handshake and serves each session channel
func (s *Server) handleSSHConnection(conn net.Conn, config *ssh.ServerConfig) {
	defer conn.Close()

	if !s.trackSSHConn(conn) {
		return
	}
	defer s.untrackSSHConn(conn)

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		s.log.Warn().Err(err).Msg("SSH handshake failed")
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			s.log.Warn().Err(err).Msg("Could not accept SSH channel")
			continue
		}

		go handleSSHChannelRequests(requests)

		s.log.Info().Str("remote", sshConn.RemoteAddr().String()).Msg("New SSH client connected")
		go s.runSession(&sshChannelConn{
			channel:    channel,
			localAddr:  sshConn.LocalAddr(),
			remoteAddr: sshConn.RemoteAddr(),
		}, "ssh")
	}
}

func handleSSHChannelRequests(requests <-chan *ssh.Request) {
	for req := range requests {
		switch req.Type {
		case "shell", "pty-req", "env", "window-change":
			if req.WantReply {
				req.Reply(true, nil)
			}
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// sshChannelConn wraps ssh.Channel to implement net.Conn
type sshChannelConn struct {
	channel    ssh.Channel
	localAddr  net.Addr
	remoteAddr net.Addr
}

func (c *sshChannelConn) Read(b []byte) (int, error)         { return c.channel.Read(b) }
func (c *sshChannelConn) Write(b []byte) (int, error)        { return c.channel.Write(b) }
func (c *sshChannelConn) Close() error                       { return c.channel.Close() }
func (c *sshChannelConn) LocalAddr() net.Addr                { return c.localAddr }
func (c *sshChannelConn) RemoteAddr() net.Addr               { return c.remoteAddr }
func (c *sshChannelConn) SetDeadline(t time.Time) error      { return nil }
func (c *sshChannelConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *sshChannelConn) SetWriteDeadline(t time.Time) error { return nil }

// loadOrGenerateHostKey loads the SSH host key or generates one if it doesn't exist
func (s *Server) loadOrGenerateHostKey() (ssh.Signer, error) {
	keyPath, err := expandHome(s.config.SSHHostKeyPath)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(keyPath) == "" {
		return nil, fmt.Errorf("ssh host key path is empty; set [server].ssh_host_key or remove it to use the default (%s)", DefaultConfig().SSHHostKeyPath)
	}

	keyBytes, err := os.ReadFile(keyPath)
	if err == nil {
		key, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse host key: %w", err)
		}
		s.log.Info().Str("path", keyPath).Msg("Loaded SSH host key")
		return key, nil
	}

	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read host key: %w", err)
	}

	s.log.Info().Str("path", keyPath).Msg("Generating new SSH host key")

	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(privateKey, "lanchat host key")
	if err != nil {
		return nil, fmt.Errorf("failed to encode key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}

	if err := os.WriteFile(keyPath, pem.EncodeToMemory(block), 0600); err != nil {
		return nil, fmt.Errorf("failed to write host key: %w", err)
	}

	return ssh.NewSignerFromKey(privateKey)
}
