// Package verify checks a running proxy end to end by authenticating
// through it, the way a client would.
package verify

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/net/proxy"
)

// DialFunc dials a network address. Typically backed by ssh.Client.Dial so
// the probe originates on the provisioned host.
type DialFunc func(network, addr string) (net.Conn, error)

func (d DialFunc) Dial(network, addr string) (net.Conn, error) { return d(network, addr) }

type Credentials struct {
	User     string
	Password string
}

// Prober authenticates against the SOCKS5 and HTTP listeners.
type Prober struct {
	Dial    DialFunc
	Timeout time.Duration
	// Target is the address requested through the proxy. It must be
	// reachable from the proxy host.
	Target string
}

func NewProber(dial DialFunc) *Prober {
	if dial == nil {
		dial = net.Dial
	}
	return &Prober{Dial: dial, Timeout: 10 * time.Second, Target: "api.ipify.org:443"}
}

// SOCKS5 performs a username/password handshake and a CONNECT to Target.
func (p *Prober) SOCKS5(ctx context.Context, host string, port int, creds Credentials) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	dialer, err := proxy.SOCKS5("tcp", addr, &proxy.Auth{User: creds.User, Password: creds.Password}, p.Dial)
	if err != nil {
		return fmt.Errorf("socks5 dialer: %w", err)
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	cd, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return fmt.Errorf("socks5 dialer does not support contexts")
	}
	conn, err := cd.DialContext(ctx, "tcp", p.Target)
	if err != nil {
		return fmt.Errorf("socks5 connect via %s: %w", addr, err)
	}
	return conn.Close()
}

// HTTPConnect issues an authenticated CONNECT for Target.
func (p *Prober) HTTPConnect(ctx context.Context, host string, port int, creds Credentials) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := p.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	token := base64.StdEncoding.EncodeToString([]byte(creds.User + ":" + creds.Password))
	req := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\nProxy-Authorization: Basic %s\r\n\r\n", p.Target, p.Target, token)
	if _, err := conn.Write([]byte(req)); err != nil {
		return fmt.Errorf("write CONNECT: %w", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), &http.Request{Method: http.MethodConnect})
	if err != nil {
		return fmt.Errorf("read CONNECT response: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("CONNECT via %s: %s", addr, resp.Status)
	}
	return nil
}

func (p *Prober) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.Timeout)
}
