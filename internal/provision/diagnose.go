package provision

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/alfaoz/socksup/internal/config"
	"github.com/alfaoz/socksup/internal/hostexec"
	"github.com/alfaoz/socksup/internal/hostinfo"
	"github.com/alfaoz/socksup/internal/render"
)

// Diagnose gathers service status, recent journal and log lines, and a
// config self-test for an operator looking at a failed start.
func Diagnose(ctx context.Context, h hostexec.Host, cfg config.Config) []Diagnostic {
	svc := hostexec.Quote(cfg.Paths.ServiceName)
	status, _ := h.Run(ctx, "systemctl status "+svc+" --no-pager -l")
	journal, _ := h.Run(ctx, "journalctl -u "+svc+" -n 20 --no-pager")
	logTail, _ := h.Run(ctx, "tail -n 20 "+hostexec.Quote(cfg.Paths.LogFile))

	return []Diagnostic{
		{Title: "systemctl status", Output: status},
		{Title: "journalctl (last 20 lines)", Output: journal},
		{Title: "3proxy log (last 20 lines)", Output: logTail},
		{Title: "config self-test", Output: SelfTest(ctx, h, cfg)},
	}
}

// SelfTest re-reads the written config, compares it with what cfg renders
// to and lints it.
func SelfTest(ctx context.Context, h hostexec.Host, cfg config.Config) string {
	written, err := h.ReadFile(ctx, cfg.Paths.ConfigFile)
	if err != nil {
		return fmt.Sprintf("FAIL: cannot read %s: %v", cfg.Paths.ConfigFile, err)
	}

	var lines []string
	if want, err := render.DaemonConfig(cfg); err == nil && !bytes.Equal(want, written) {
		lines = append(lines, "WARN: config on disk differs from the expected rendering")
	}
	res, err := render.Lint(string(written))
	if err != nil {
		return "FAIL: " + err.Error()
	}
	for _, p := range res.Problems {
		lines = append(lines, "FAIL: "+p)
	}
	if res.OK() {
		lines = append(lines, fmt.Sprintf("OK: users=%s socks=%v proxy=%v", strings.Join(res.Users, ","), res.SocksPorts, res.ProxyPorts))
	}
	return strings.Join(lines, "\n")
}

// Status is the observed state of an installed daemon.
type Status struct {
	Active    bool
	Users     []string
	Ports     []int
	Listening map[int]bool
	Problems  []string
}

func (s Status) Healthy() bool {
	if !s.Active || len(s.Problems) > 0 || len(s.Ports) == 0 {
		return false
	}
	for _, p := range s.Ports {
		if !s.Listening[p] {
			return false
		}
	}
	return true
}

// Inspect reads the installed config back from the host and checks the
// service and its listeners without knowing the credentials.
func Inspect(ctx context.Context, h hostexec.Host, paths config.Paths) (Status, error) {
	written, err := h.ReadFile(ctx, paths.ConfigFile)
	if err != nil {
		return Status{}, fmt.Errorf("read %s: %w", paths.ConfigFile, err)
	}
	res, err := render.Lint(string(written))
	if err != nil {
		return Status{}, err
	}

	st := Status{Users: res.Users, Problems: res.Problems}
	st.Ports = append(append(st.Ports, res.SocksPorts...), res.ProxyPorts...)

	_, activeErr := h.Run(ctx, "systemctl is-active --quiet "+hostexec.Quote(paths.ServiceName))
	st.Active = activeErr == nil

	out, err := h.Run(ctx, "ss -ltnH 2>/dev/null || netstat -ltn")
	if err != nil {
		st.Problems = append(st.Problems, "cannot list listening sockets: "+err.Error())
	}
	st.Listening = hostinfo.ParseListeningPorts(out)
	return st, nil
}
