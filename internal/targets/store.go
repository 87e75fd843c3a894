// Package targets stores named SSH destinations as small KEY=VALUE files so
// repeated installs need only --target.
package targets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/alfaoz/socksup/internal/hostinfo"
)

const (
	DefaultDirSuffix = ".socksup/targets"
	fileExt          = ".target"
)

var ErrNotFound = errors.New("target not found")

type Target struct {
	Name             string
	Host             string
	SSHPort          int
	SSHUser          string
	SocksPort        int
	NoFirewallChange bool
}

type Store struct {
	Dir string
}

// NewStore opens dir, defaulting to ~/.socksup/targets, and creates it 0700.
func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		dir = filepath.Join(home, DefaultDirSuffix)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("ensure targets dir: %w", err)
	}
	return &Store{Dir: dir}, nil
}

// SanitizeName lowercases raw and collapses anything outside [a-z0-9._-]
// into single dashes.
func SanitizeName(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	var b strings.Builder
	lastDash := false
	for _, r := range raw {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' || r == '_':
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.Trim(b.String(), "-.")
}

func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("read targets dir: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if name, ok := strings.CutSuffix(entry.Name(), fileExt); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.Dir, name+fileExt)
}

func (s *Store) Load(name string) (Target, error) {
	name = SanitizeName(name)
	if name == "" {
		return Target{}, errors.New("invalid target name")
	}
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return Target{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return Target{}, fmt.Errorf("read target file: %w", err)
	}

	vals := hostinfo.ParseKeyValues(string(data))
	t := Target{
		Name:             name,
		Host:             vals.Get("HOST"),
		SSHPort:          positiveOr(vals.Int("SSH_PORT"), 22),
		SSHUser:          vals.Get("SSH_USER"),
		SocksPort:        positiveOr(vals.Int("SOCKS_PORT"), 0),
		NoFirewallChange: vals.Bool("NO_FIREWALL_CHANGE"),
	}
	if t.SSHUser == "" {
		t.SSHUser = "root"
	}
	if t.Host == "" {
		return Target{}, fmt.Errorf("target %q missing HOST", name)
	}
	return t, nil
}

func (s *Store) Save(t Target) (Target, error) {
	t.Name = SanitizeName(t.Name)
	t.Host = strings.TrimSpace(t.Host)
	t.SSHUser = strings.TrimSpace(t.SSHUser)
	if t.Name == "" {
		return Target{}, errors.New("target name is required")
	}
	if t.Host == "" {
		return Target{}, errors.New("target host is required")
	}
	if t.SSHPort <= 0 {
		t.SSHPort = 22
	}
	if t.SSHUser == "" {
		t.SSHUser = "root"
	}

	noFW := "0"
	if t.NoFirewallChange {
		noFW = "1"
	}
	lines := []string{
		"HOST=" + t.Host,
		"SSH_PORT=" + strconv.Itoa(t.SSHPort),
		"SSH_USER=" + t.SSHUser,
	}
	if t.SocksPort > 0 {
		lines = append(lines, "SOCKS_PORT="+strconv.Itoa(t.SocksPort))
	}
	lines = append(lines, "NO_FIREWALL_CHANGE="+noFW, "")

	if err := os.WriteFile(s.path(t.Name), []byte(strings.Join(lines, "\n")), 0o600); err != nil {
		return Target{}, fmt.Errorf("write target file: %w", err)
	}
	return t, nil
}

// Delete removes a saved target; deleting a missing one is not an error.
func (s *Store) Delete(name string) error {
	name = SanitizeName(name)
	if name == "" {
		return errors.New("invalid target name")
	}
	if err := os.Remove(s.path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete target: %w", err)
	}
	return nil
}

func positiveOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
