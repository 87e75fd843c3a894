// Package prompt holds the interactive forms shown on a terminal.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/alfaoz/socksup/internal/config"
	"github.com/alfaoz/socksup/internal/targets"
)

var ErrCancelled = errors.New("cancelled by user")

// Confirm asks a yes/no question; any error counts as "no".
func Confirm(question string) bool {
	val := false
	if err := huh.NewConfirm().Title(question).Affirmative("Yes").Negative("No").Value(&val).Run(); err != nil {
		return false
	}
	return val
}

// InstallArgs collects socks port, username and password, starting from
// the given positional values, and returns them in positional order.
func InstallArgs(initial []string) ([]string, error) {
	raw := make([]string, 3)
	copy(raw, initial)
	port := fallback(raw[0], strconv.Itoa(config.DefaultSocksPort))
	user := fallback(raw[1], config.DefaultUsername)
	pass := raw[2]

	group := huh.NewGroup(
		huh.NewInput().Title("SOCKS5 port").
			Description("The HTTPS proxy listens on the next port.").
			Value(&port).Validate(ValidatePort),
		huh.NewInput().Title("Proxy username").Value(&user).Validate(config.CheckUsername),
		huh.NewInput().Title("Proxy password").EchoMode(huh.EchoModePassword).
			Value(&pass).Validate(config.CheckPassword),
	)
	if err := huh.NewForm(group).Run(); err != nil {
		return nil, wrap(err)
	}
	return []string{strings.TrimSpace(port), user, pass}, nil
}

// ValidatePort checks a typed port string.
func ValidatePort(s string) error {
	port, err := config.ParsePort(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	return config.CheckPort(port)
}

// TargetForm edits a saved SSH destination.
func TargetForm(existing targets.Target) (targets.Target, error) {
	host := existing.Host
	sshPort := strconv.Itoa(nonZero(existing.SSHPort, 22))
	sshUser := fallback(existing.SSHUser, "root")
	socksPort := ""
	if existing.SocksPort > 0 {
		socksPort = strconv.Itoa(existing.SocksPort)
	}
	noFW := existing.NoFirewallChange

	group := huh.NewGroup(
		huh.NewInput().Title("Host/IP").Value(&host).Validate(required("host")),
		huh.NewInput().Title("SSH port").Value(&sshPort).Validate(validSSHPort),
		huh.NewInput().Title("SSH user").Value(&sshUser).Validate(required("ssh user")),
		huh.NewInput().Title("Default SOCKS5 port (blank for 1080)").Value(&socksPort).Validate(optionalPort),
		huh.NewConfirm().Title("Skip firewall changes by default?").Value(&noFW),
	)
	if err := huh.NewForm(group).Run(); err != nil {
		return targets.Target{}, wrap(err)
	}

	t := targets.Target{
		Name:             existing.Name,
		Host:             strings.TrimSpace(host),
		SSHUser:          strings.TrimSpace(sshUser),
		NoFirewallChange: noFW,
	}
	t.SSHPort, _ = strconv.Atoi(strings.TrimSpace(sshPort))
	t.SocksPort, _ = strconv.Atoi(strings.TrimSpace(socksPort))
	return t, nil
}

func required(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

func validSSHPort(s string) error {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || p <= 0 || p > config.MaxPort {
		return fmt.Errorf("invalid ssh port %q", s)
	}
	return nil
}

func optionalPort(s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return ValidatePort(s)
}

// IsCancelled reports whether err came from the user aborting a form.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, huh.ErrUserAborted) || errors.Is(err, context.Canceled)
}

func wrap(err error) error {
	if IsCancelled(err) {
		return ErrCancelled
	}
	return err
}

func fallback(v, d string) string {
	if strings.TrimSpace(v) == "" {
		return d
	}
	return v
}

func nonZero(v, d int) int {
	if v <= 0 {
		return d
	}
	return v
}
