package client

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/aeolun/lanchat/pkg/transport"
)

type dialConfig struct {
	display string
	dial    func() (net.Conn, error)
	warning string
}

const (
	defaultTCPPort          = "8888"
	defaultSSHPort          = "2222"
	defaultHTTPPort         = "8080"
	lanChatSSHVersionPrefix = "SSH-2.0-LanChat"
	dialTimeout             = 10 * time.Second
)

func parseServerAddress(raw string) (*dialConfig, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("server address is empty")
	}

	scheme := "tcp"
	user := ""
	hostPort := trimmed
	if strings.Contains(trimmed, "://") {
		u, err := url.Parse(trimmed)
		if err != nil {
			return nil, fmt.Errorf("invalid server address %q: %w", raw, err)
		}

		if u.Scheme != "" {
			scheme = strings.ToLower(u.Scheme)
		}

		if u.User != nil {
			user = u.User.Username()
		}

		if u.Host != "" {
			hostPort = u.Host
		} else if u.Path != "" {
			hostPort = u.Path
		}

		hostPort = strings.TrimPrefix(hostPort, "//")
	}

	switch scheme {
	case "tcp", "":
		host, port, err := splitHostPortWithDefault(hostPort, defaultTCPPort)
		if err != nil {
			return nil, err
		}

		address := net.JoinHostPort(host, port)
		return &dialConfig{
			display: address,
			dial: func() (net.Conn, error) {
				return net.DialTimeout("tcp", address, dialTimeout)
			},
		}, nil

	case "ssh":
		host, port, err := splitHostPortWithDefault(hostPort, defaultSSHPort)
		if err != nil {
			return nil, err
		}

		if user == "" {
			user = defaultSSHUser()
		}

		verifier := newHostKeyVerifier(knownHostPaths())
		address := net.JoinHostPort(host, port)

		return &dialConfig{
			display: fmt.Sprintf("ssh://%s@%s", user, address),
			dial: func() (net.Conn, error) {
				return dialSSH(user, address, verifier)
			},
			warning: verifier.warning,
		}, nil

	case "ws", "wss":
		host, port, err := splitHostPortWithDefault(hostPort, defaultHTTPPort)
		if err != nil {
			return nil, err
		}

		address := net.JoinHostPort(host, port)
		useTLS := scheme == "wss"
		return &dialConfig{
			display: fmt.Sprintf("%s://%s%s", scheme, address, transport.WebSocketPath),
			dial: func() (net.Conn, error) {
				return transport.DialWebSocket(address, useTLS)
			},
		}, nil

	default:
		return nil, fmt.Errorf("unsupported server scheme %q", scheme)
	}
}

func splitHostPortWithDefault(hostPort, defaultPort string) (string, string, error) {
	hostPort = strings.TrimSpace(hostPort)
	if hostPort == "" {
		return "", "", errors.New("missing host in server address")
	}

	host, port, err := net.SplitHostPort(hostPort)
	if err == nil {
		return host, port, nil
	}

	var addrErr *net.AddrError
	if errors.As(err, &addrErr) && strings.Contains(strings.ToLower(addrErr.Err), "missing port") {
		host = hostPort
		if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
			host = strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")
		}
		return host, defaultPort, nil
	}

	return "", "", err
}

func defaultSSHUser() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	if user := os.Getenv("USERNAME"); user != "" {
		return user
	}
	return "anonymous"
}

// hostKeyVerifier checks server keys against known_hosts. Unknown hosts
// are trusted on first use and recorded; a changed key is refused.
type hostKeyVerifier struct {
	mu       sync.Mutex
	paths    []string
	callback ssh.HostKeyCallback
	accepted map[string]ssh.PublicKey
	warning  string
}

func newHostKeyVerifier(paths []string) *hostKeyVerifier {
	v := &hostKeyVerifier{
		paths:    paths,
		accepted: make(map[string]ssh.PublicKey),
	}

	var existing []string
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			existing = append(existing, path)
		}
	}
	if len(existing) > 0 {
		if cb, err := knownhosts.New(existing...); err == nil {
			v.callback = cb
		}
	}

	if v.callback == nil {
		v.warning = "no known_hosts file found; the SSH host key will be trusted on first use"
	}
	return v
}

func (v *hostKeyVerifier) check(hostname string, remote net.Addr, key ssh.PublicKey) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if prev, ok := v.accepted[hostname]; ok {
		if string(prev.Marshal()) == string(key.Marshal()) {
			return nil
		}
		return fmt.Errorf("ssh host key for %s changed during this session (now %s)", hostname, ssh.FingerprintSHA256(key))
	}

	if v.callback != nil {
		err := v.callback(hostname, remote, key)
		if err == nil {
			return nil
		}

		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) || len(keyErr.Want) > 0 {
			return fmt.Errorf("ssh host key verification failed for %s: the server presented key %s which does not match known_hosts. This could indicate a man-in-the-middle attack: %w", hostname, ssh.FingerprintSHA256(key), err)
		}
	}

	v.accepted[hostname] = key
	return nil
}

// persist appends newly trusted keys to the first known_hosts path
func (v *hostKeyVerifier) persist(serverVersion string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.accepted) == 0 || len(v.paths) == 0 {
		return nil
	}

	path := v.paths[0]
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	for host, key := range v.accepted {
		line := knownhosts.Line([]string{knownhosts.Normalize(host)}, key)
		comment := fmt.Sprintf("LanChat server banner=%s added=%s", serverVersion, time.Now().Format(time.RFC3339))
		if _, err := fmt.Fprintf(f, "%s %s\n", line, comment); err != nil {
			return err
		}
	}
	return nil
}

func knownHostPaths() []string {
	if env := os.Getenv("SSH_KNOWN_HOSTS"); env != "" {
		var paths []string
		for _, p := range strings.Split(env, string(os.PathListSeparator)) {
			if p = strings.TrimSpace(p); p != "" {
				paths = append(paths, p)
			}
		}
		return paths
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{filepath.Join(home, ".ssh", "known_hosts")}
}

// dialSSH opens a "session" channel and returns it as a net.Conn. The
// server accepts the "none" auth method, so no keys are offered.
func dialSSH(user, address string, verifier *hostKeyVerifier) (net.Conn, error) {
	netConn, err := net.DialTimeout("tcp", address, dialTimeout)
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            user,
		HostKeyCallback: verifier.check,
		Timeout:         dialTimeout,
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(netConn, address, config)
	if err != nil {
		netConn.Close()
		return nil, err
	}

	serverBanner := string(clientConn.ServerVersion())
	if !strings.HasPrefix(serverBanner, lanChatSSHVersionPrefix) {
		clientConn.Close()
		return nil, fmt.Errorf("ssh handshake completed but remote server advertised %q; expected a LanChat server (banner prefix %q)", serverBanner, lanChatSSHVersionPrefix)
	}

	if err := verifier.persist(serverBanner); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not record SSH host key: %v\n", err)
	}

	sshClient := ssh.NewClient(clientConn, chans, reqs)
	session, err := sshClient.NewSession()
	if err != nil {
		sshClient.Close()
		return nil, err
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		sshClient.Close()
		return nil, err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		sshClient.Close()
		return nil, err
	}
	if err := session.Shell(); err != nil {
		sshClient.Close()
		return nil, err
	}

	return &sshClientConn{
		stdin:      stdin,
		stdout:     stdout,
		session:    session,
		client:     sshClient,
		localAddr:  netConn.LocalAddr(),
		remoteAddr: netConn.RemoteAddr(),
	}, nil
}

type sshClientConn struct {
	stdin      io.WriteCloser
	stdout     io.Reader
	session    *ssh.Session
	client     *ssh.Client
	localAddr  net.Addr
	remoteAddr net.Addr
	once       sync.Once
}

func (c *sshClientConn) Read(b []byte) (int, error) {
	return c.stdout.Read(b)
}

func (c *sshClientConn) Write(b []byte) (int, error) {
	return c.stdin.Write(b)
}

func (c *sshClientConn) Close() error {
	var err error
	c.once.Do(func() {
		c.stdin.Close()
		c.session.Close()
		err = c.client.Close()
	})
	return err
}

func (c *sshClientConn) LocalAddr() net.Addr                { return c.localAddr }
func (c *sshClientConn) RemoteAddr() net.Addr               { return c.remoteAddr }
func (c *sshClientConn) SetDeadline(t time.Time) error      { return nil }
func (c *sshClientConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *sshClientConn) SetWriteDeadline(t time.Time) error { return nil }
