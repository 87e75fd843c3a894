package sshx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/alfaoz/socksup/internal/hostexec"
)

type Target struct {
	Host     string
	Port     int
	User     string
	Password string
}

type HostKeyMode int

const (
	// HostKeyAcceptNew trusts unknown hosts and records them, but rejects changed keys.
	HostKeyAcceptNew HostKeyMode = iota
	HostKeyStrict
	HostKeyInsecureIgnore
)

type ConnectOptions struct {
	KnownHostsPath string
	HostKeyMode    HostKeyMode
	Timeout        time.Duration
}

func DefaultConnectOptions() ConnectOptions {
	opts := ConnectOptions{HostKeyMode: HostKeyAcceptNew, Timeout: 20 * time.Second}
	if home, err := os.UserHomeDir(); err == nil {
		opts.KnownHostsPath = filepath.Join(home, ".ssh", "known_hosts")
	}
	return opts
}

// Client is a provisioning host reached over SSH. Commands run in fresh
// sessions; files go through SFTP.
type Client struct {
	sshClient *ssh.Client
	target    Target
}

func ConnectWithOptions(t Target, opts ConnectOptions) (*Client, error) {
	if t.Port == 0 {
		t.Port = 22
	}
	if opts.Timeout == 0 {
		opts.Timeout = 20 * time.Second
	}
	hostKeyCallback, err := hostKeyCallback(opts)
	if err != nil {
		return nil, err
	}
	cfg := &ssh.ClientConfig{
		User:            t.User,
		Auth:            []ssh.AuthMethod{ssh.Password(t.Password)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         opts.Timeout,
	}
	addr := net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
	c, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, err
	}
	return &Client{sshClient: c, target: t}, nil
}

func hostKeyCallback(opts ConnectOptions) (ssh.HostKeyCallback, error) {
	if opts.HostKeyMode == HostKeyInsecureIgnore {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if opts.KnownHostsPath == "" {
		if opts.HostKeyMode == HostKeyStrict {
			return nil, errors.New("strict host key checking requires a known_hosts path")
		}
		return ssh.InsecureIgnoreHostKey(), nil
	}

	if _, err := os.Stat(opts.KnownHostsPath); errors.Is(err, os.ErrNotExist) {
		if opts.HostKeyMode == HostKeyStrict {
			return nil, fmt.Errorf("known_hosts not found: %s", opts.KnownHostsPath)
		}
		if err := os.MkdirAll(filepath.Dir(opts.KnownHostsPath), 0o700); err != nil {
			return nil, fmt.Errorf("prepare known_hosts dir: %w", err)
		}
		if err := os.WriteFile(opts.KnownHostsPath, nil, 0o600); err != nil {
			return nil, fmt.Errorf("create known_hosts: %w", err)
		}
	}

	check, err := knownhosts.New(opts.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts: %w", err)
	}
	if opts.HostKeyMode == HostKeyStrict {
		return check, nil
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := check(hostname, remote, key)
		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) && len(keyErr.Want) == 0 {
			return appendKnownHost(opts.KnownHostsPath, hostname, key)
		}
		return err
	}, nil
}

func appendKnownHost(path, hostname string, key ssh.PublicKey) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open known_hosts: %w", err)
	}
	defer f.Close()
	line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
	_, err = fmt.Fprintln(f, line)
	return err
}

func (c *Client) Name() string { return c.target.Host }

func (c *Client) Close() error {
	if c == nil || c.sshClient == nil {
		return nil
	}
	return c.sshClient.Close()
}

func (c *Client) Run(ctx context.Context, command string) (string, error) {
	session, err := c.sshClient.NewSession()
	if err != nil {
		return "", err
	}
	defer session.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = session.Signal(ssh.SIGTERM)
		_ = session.Close()
	})
	defer stop()

	out, err := session.CombinedOutput(command)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return string(out), ctxErr
	}
	return string(out), err
}

func (c *Client) WriteFile(_ context.Context, remotePath string, content []byte, mode os.FileMode) error {
	sftpClient, err := sftp.NewClient(c.sshClient)
	if err != nil {
		return err
	}
	defer sftpClient.Close()

	if err := sftpClient.MkdirAll(path.Dir(remotePath)); err != nil {
		return err
	}
	f, err := sftpClient.Create(remotePath)
	if err != nil {
		return err
	}
	return hostexec.WriteWithMode(f, content, mode)
}

func (c *Client) ReadFile(_ context.Context, remotePath string) ([]byte, error) {
	sftpClient, err := sftp.NewClient(c.sshClient)
	if err != nil {
		return nil, err
	}
	defer sftpClient.Close()

	f, err := sftpClient.Open(remotePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Dial opens a connection from the remote host, tunnelled over SSH.
func (c *Client) Dial(network, addr string) (net.Conn, error) {
	return c.sshClient.Dial(network, addr)
}
