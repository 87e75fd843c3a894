package render

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// LintResult summarizes the directives found in a daemon config.
type LintResult struct {
	Users      []string
	SocksPorts []int
	ProxyPorts []int
	Daemon     bool
	Problems   []string
}

func (r LintResult) OK() bool { return len(r.Problems) == 0 }

// Lint parses a 3proxy config and reports missing or malformed directives.
// It covers only the subset of the grammar that socksup writes.
func Lint(text string) (LintResult, error) {
	var res LintResult
	s := bufio.NewScanner(strings.NewReader(text))
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "daemon":
			res.Daemon = true
		case "users":
			if len(fields) < 2 {
				res.Problems = append(res.Problems, fmt.Sprintf("line %d: users without entries", lineNo))
				continue
			}
			for _, entry := range fields[1:] {
				parts := strings.SplitN(entry, ":", 3)
				if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
					res.Problems = append(res.Problems, fmt.Sprintf("line %d: malformed user entry %q", lineNo, entry))
					continue
				}
				res.Users = append(res.Users, parts[0])
			}
		case "socks", "proxy":
			port, err := listenerPort(fields[1:])
			if err != nil {
				res.Problems = append(res.Problems, fmt.Sprintf("line %d: %s: %v", lineNo, fields[0], err))
				continue
			}
			if fields[0] == "socks" {
				res.SocksPorts = append(res.SocksPorts, port)
			} else {
				res.ProxyPorts = append(res.ProxyPorts, port)
			}
		}
	}
	if err := s.Err(); err != nil {
		return LintResult{}, fmt.Errorf("scan config: %w", err)
	}

	if len(res.Users) == 0 {
		res.Problems = append(res.Problems, "no users directive")
	}
	if len(res.SocksPorts) == 0 {
		res.Problems = append(res.Problems, "no socks listener")
	}
	if len(res.ProxyPorts) == 0 {
		res.Problems = append(res.Problems, "no proxy listener")
	}
	return res, nil
}

func listenerPort(args []string) (int, error) {
	for _, a := range args {
		if !strings.HasPrefix(a, "-p") {
			continue
		}
		port, err := strconv.Atoi(strings.TrimPrefix(a, "-p"))
		if err != nil || port < 1 || port > 65535 {
			return 0, fmt.Errorf("invalid port %q", a)
		}
		return port, nil
	}
	return 0, errors.New("missing -p<port>")
}
