package hostinfo

import (
	"bufio"
	"strconv"
	"strings"
)

type KeyValues map[string]string

// ParseKeyValues reads KEY=value lines as found in /etc/os-release,
// dropping comments and surrounding quotes.
func ParseKeyValues(output string) KeyValues {
	kv := KeyValues{}
	s := bufio.NewScanner(strings.NewReader(output))
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		kv[strings.TrimSpace(parts[0])] = unquote(strings.TrimSpace(parts[1]))
	}
	return kv
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

func (kv KeyValues) Get(key string) string {
	return kv[key]
}

func (kv KeyValues) Bool(key string) bool {
	v := strings.TrimSpace(strings.ToLower(kv[key]))
	return v == "1" || v == "true" || v == "yes"
}

func (kv KeyValues) Int(key string) int {
	v, _ := strconv.Atoi(strings.TrimSpace(kv[key]))
	return v
}

// ParseListeningPorts extracts local TCP ports from `ss -ltn` or
// `netstat -ltn` output. Header lines are skipped.
func ParseListeningPorts(output string) map[int]bool {
	ports := map[int]bool{}
	s := bufio.NewScanner(strings.NewReader(output))
	for s.Scan() {
		fields := strings.Fields(s.Text())
		if len(fields) < 4 {
			continue
		}
		var local string
		switch {
		case strings.HasPrefix(fields[0], "tcp"):
			// netstat: Proto Recv-Q Send-Q Local-Address Foreign-Address State
			local = fields[3]
		case fields[0] == "LISTEN":
			// ss: State Recv-Q Send-Q Local-Address:Port Peer-Address:Port
			local = fields[3]
		default:
			continue
		}
		if p, ok := portOf(local); ok {
			ports[p] = true
		}
	}
	return ports
}

func portOf(addr string) (int, bool) {
	i := strings.LastIndexAny(addr, ":.")
	if i < 0 || i == len(addr)-1 {
		return 0, false
	}
	p, err := strconv.Atoi(addr[i+1:])
	if err != nil || p <= 0 || p > 65535 {
		return 0, false
	}
	return p, true
}
