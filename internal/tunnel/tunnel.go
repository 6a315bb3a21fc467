package tunnel

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/Kamar-Folarin/kashflow-sync/internal/config"
	"github.com/Kamar-Folarin/kashflow-sync/internal/errors"
)

// portAttempts is how many consecutive local ports are tried after the
// configured one.
const portAttempts = 10

const dialTimeout = 15 * time.Second

// Tunnel forwards connections accepted on a local port to the database
// host through an SSH client.
type Tunnel struct {
	client   *ssh.Client
	listener net.Listener
	dst      string
	logger   *logrus.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Open connects to the SSH server and starts listening locally
func Open(ctx context.Context, cfg *config.SSHConfig, logger *logrus.Logger) (*Tunnel, error) {
	if !cfg.Enabled() {
		return nil, errors.NewValidationError("ssh host is not configured", nil)
	}

	hostKeyCallback, err := hostKeyCallback(cfg.HostKey)
	if err != nil {
		return nil, err
	}
	if cfg.HostKey == "" {
		logger.Warn("SSH_HOST_KEY not set; the tunnel host key is not verified")
	}

	clientConfig := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(cfg.Password)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         dialTimeout,
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to reach ssh server %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open ssh connection to %s: %w", addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	listener, err := listen(cfg.LocalHost, cfg.LocalPort)
	if err != nil {
		client.Close()
		return nil, err
	}

	t := &Tunnel{
		client:   client,
		listener: listener,
		dst:      net.JoinHostPort(cfg.DstHost, strconv.Itoa(cfg.DstPort)),
		logger:   logger,
	}

	t.wg.Add(1)
	go t.serve()

	logger.WithFields(logrus.Fields{
		"ssh_host": cfg.Host,
		"local":    listener.Addr().String(),
		"remote":   t.dst,
	}).Info("SSH tunnel established")
	return t, nil
}

func hostKeyCallback(line string) (ssh.HostKeyCallback, error) {
	if strings.TrimSpace(line) == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
	if err != nil {
		return nil, errors.NewValidationError("invalid SSH_HOST_KEY", err)
	}
	return ssh.FixedHostKey(key), nil
}

// listen binds the first free port in base..base+portAttempts. A zero base
// lets the kernel choose.
func listen(host string, base int) (net.Listener, error) {
	if base == 0 {
		return net.Listen("tcp", net.JoinHostPort(host, "0"))
	}
	var lastErr error
	for port := base; port <= base+portAttempts; port++ {
		l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			return l, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("failed to bind a local tunnel port in %d-%d: %w", base, base+portAttempts, lastErr)
}

// LocalAddr returns the host:port the tunnel listens on
func (t *Tunnel) LocalAddr() string {
	return t.listener.Addr().String()
}

// LocalPort returns the port the tunnel listens on
func (t *Tunnel) LocalPort() int {
	if addr, ok := t.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

func (t *Tunnel) serve() {
	defer t.wg.Done()
	for {
		local, err := t.listener.Accept()
		if err != nil {
			return
		}
		t.wg.Add(1)
		go t.forward(local)
	}
}

func (t *Tunnel) forward(local net.Conn) {
	defer t.wg.Done()
	defer local.Close()

	remote, err := t.client.Dial("tcp", t.dst)
	if err != nil {
		t.logger.WithError(err).WithField("remote", t.dst).Error("Failed to open tunnel channel")
		return
	}
	defer remote.Close()

	done := make(chan struct{}, 2)
	pipe := func(dst io.Writer, src io.Reader) {
		io.Copy(dst, src)
		done <- struct{}{}
	}
	go pipe(remote, local)
	go pipe(local, remote)
	<-done
}

// Close stops accepting connections and closes the SSH client
func (t *Tunnel) Close() error {
	t.closeOnce.Do(func() {
		lerr := t.listener.Close()
		cerr := t.client.Close()
		t.wg.Wait()
		if lerr != nil {
			t.closeErr = lerr
		} else if cerr != nil && cerr != io.EOF {
			t.closeErr = cerr
		}
	})
	return t.closeErr
}

// RewriteDSN points a PostgreSQL connection string at the tunnel. Both URL
// and key=value forms are accepted.
func RewriteDSN(dsn, host string, port int) (string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", errors.NewValidationError("invalid DB_CONNECTION_STRING", err)
		}
		u.Host = net.JoinHostPort(host, strconv.Itoa(port))
		return u.String(), nil
	}
	// lib/pq keeps the last value of a repeated key.
	return strings.TrimSpace(fmt.Sprintf("%s host=%s port=%d", dsn, host, port)), nil
}
