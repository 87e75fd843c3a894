package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/alfaoz/socksup/internal/version"
)

const (
	DefaultSocksPort = 1080
	DefaultUsername  = "proxy_user"
	DefaultPassword  = "proxy_pass"

	MinPort           = 1024
	MaxPort           = 65535
	MinUsernameLength = 3
	MinPasswordLength = 6
)

// ErrInvalidArgument is wrapped by every validation failure.
var ErrInvalidArgument = errors.New("invalid argument")

// Paths is the fixed on-host install layout.
type Paths struct {
	BuildDir    string
	Binary      string
	ConfigDir   string
	ConfigFile  string
	LogDir      string
	LogFile     string
	PIDFile     string
	ServiceName string
	UnitFile    string
	Manager     string
}

func DefaultPaths() Paths {
	return Paths{
		BuildDir:    "/opt/3proxy-build",
		Binary:      "/usr/local/bin/3proxy",
		ConfigDir:   "/etc/3proxy",
		ConfigFile:  "/etc/3proxy/3proxy.cfg",
		LogDir:      "/var/log/3proxy",
		LogFile:     "/var/log/3proxy/3proxy.log",
		PIDFile:     "/var/run/3proxy.pid",
		ServiceName: "3proxy.service",
		UnitFile:    "/etc/systemd/system/3proxy.service",
		Manager:     "/usr/local/bin/3proxyctl",
	}
}

// Config is built once per run and passed by value to every step.
type Config struct {
	SocksPort     int
	HTTPSPort     int
	Username      string
	Password      string
	OSVersionID   string
	Arch          string
	DaemonVersion string
	Paths         Paths
}

type Option func(*Config)

func WithDaemonVersion(v string) Option {
	return func(c *Config) {
		if strings.TrimSpace(v) != "" {
			c.DaemonVersion = strings.TrimSpace(v)
		}
	}
}

func WithPaths(p Paths) Option {
	return func(c *Config) { c.Paths = p }
}

// Build applies defaults to up to three positional values
// (socksPort, username, password) and validates the result.
func Build(args []string, opts ...Option) (Config, error) {
	if len(args) > 3 {
		return Config{}, fmt.Errorf("%w: expected at most 3 arguments, got %d", ErrInvalidArgument, len(args))
	}
	raw := make([]string, 3)
	copy(raw, args)

	cfg := Config{
		SocksPort:     DefaultSocksPort,
		Username:      DefaultUsername,
		Password:      DefaultPassword,
		DaemonVersion: version.DefaultDaemonVersion,
		Paths:         DefaultPaths(),
	}

	if v := strings.TrimSpace(raw[0]); v != "" {
		port, err := ParsePort(v)
		if err != nil {
			return Config{}, err
		}
		cfg.SocksPort = port
	}
	if raw[1] != "" {
		cfg.Username = raw[1]
	}
	if raw[2] != "" {
		cfg.Password = raw[2]
	}
	cfg.HTTPSPort = cfg.SocksPort + 1

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := CheckPort(c.SocksPort); err != nil {
		return err
	}
	if c.HTTPSPort != c.SocksPort+1 {
		return fmt.Errorf("%w: https port %d must be socks port + 1", ErrInvalidArgument, c.HTTPSPort)
	}
	if err := CheckUsername(c.Username); err != nil {
		return err
	}
	return CheckPassword(c.Password)
}

// ParsePort reads a port written as plain decimal digits. Signs, spaces
// and other notations are rejected.
func ParsePort(s string) (int, error) {
	if s == "" || len(s) > 5 || strings.TrimLeft(s, "0123456789") != "" {
		return 0, fmt.Errorf("%w: port %q is not a number", ErrInvalidArgument, s)
	}
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: port %q is not a number", ErrInvalidArgument, s)
	}
	return port, nil
}

// CheckPort validates a SOCKS port; its HTTPS neighbour must fit too.
func CheckPort(port int) error {
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("%w: port %d must be between %d and %d", ErrInvalidArgument, port, MinPort, MaxPort)
	}
	if port+1 > MaxPort {
		return fmt.Errorf("%w: https port %d (socks port + 1) exceeds %d", ErrInvalidArgument, port+1, MaxPort)
	}
	return nil
}

func CheckUsername(v string) error {
	if utf8.RuneCountInString(v) < MinUsernameLength {
		return fmt.Errorf("%w: username must be at least %d characters", ErrInvalidArgument, MinUsernameLength)
	}
	if !safeCredential(v) {
		return fmt.Errorf("%w: username must not contain whitespace, ':', '#' or '\"'", ErrInvalidArgument)
	}
	return nil
}

func CheckPassword(v string) error {
	if utf8.RuneCountInString(v) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidArgument, MinPasswordLength)
	}
	if !safeCredential(v) {
		return fmt.Errorf("%w: password must not contain whitespace, ':', '#' or '\"'", ErrInvalidArgument)
	}
	return nil
}

// WithEnvironment returns a copy carrying the detected platform details.
func (c Config) WithEnvironment(osVersionID, arch string) Config {
	c.OSVersionID = osVersionID
	c.Arch = arch
	return c
}

func (c Config) Ports() []int {
	return []int{c.SocksPort, c.HTTPSPort}
}

// credentials land verbatim in a "users name:CL:pass" line
func safeCredential(v string) bool {
	return !strings.ContainsAny(v, " \t\r\n:#\"")
}
