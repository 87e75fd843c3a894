package render

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/alfaoz/socksup/internal/config"
)

const daemonConfigTemplate = `daemon
pidfile {{.Paths.PIDFile}}
nserver 8.8.8.8
nserver 1.1.1.1
nscache 65536
timeouts 1 5 30 60 180 1800 15 60
log {{.Paths.LogFile}} D
logformat "- +_L%t.%. %N.%p %E %U %C:%c %R:%r %O %I %h %T"
rotate 30
users {{.Username}}:CL:{{.Password}}
auth strong
allow {{.Username}}
socks -p{{.SocksPort}}
proxy -p{{.HTTPSPort}}
`

const unitTemplate = `[Unit]
Description=3proxy SOCKS5/HTTPS proxy server
After=network-online.target
Wants=network-online.target

[Service]
Type=forking
PIDFile={{.Paths.PIDFile}}
ExecStart={{.Paths.Binary}} {{.Paths.ConfigFile}}
ExecReload=/bin/kill -HUP $MAINPID
Restart=on-failure
RestartSec=5
LimitNOFILE=65536

[Install]
WantedBy=multi-user.target
`

const managerTemplate = `#!/usr/bin/env bash
# 3proxy management helper installed by socksup.
set -uo pipefail

SERVICE="{{.Paths.ServiceName}}"
CONFIG="{{.Paths.ConfigFile}}"
LOG="{{.Paths.LogFile}}"
SOCKS_PORT="{{.SocksPort}}"
HTTPS_PORT="{{.HTTPSPort}}"

usage() {
  echo "Usage: $(basename "$0") {start|stop|restart|status|log|config|test}"
}

listening() {
  local port="$1"
  if command -v ss >/dev/null 2>&1; then
    ss -ltnH "( sport = :$port )" | grep -q .
    return $?
  fi
  netstat -ltn 2>/dev/null | awk '{print $4}' | grep -qE "[:.]${port}$"
}

case "${1:-}" in
  start|stop|restart)
    systemctl "$1" "$SERVICE"
    ;;
  status)
    systemctl status "$SERVICE" --no-pager -l
    ;;
  log)
    tail -n 50 -f "$LOG"
    ;;
  config)
    cat "$CONFIG"
    ;;
  test)
    rc=0
    systemctl is-active --quiet "$SERVICE" || { echo "service $SERVICE is not active"; rc=1; }
    for port in "$SOCKS_PORT" "$HTTPS_PORT"; do
      if listening "$port"; then
        echo "port $port: listening"
      else
        echo "port $port: NOT listening"
        rc=1
      fi
    done
    exit "$rc"
    ;;
  *)
    usage
    exit 1
    ;;
esac
`

var (
	daemonConfigTmpl = template.Must(template.New("3proxy.cfg").Parse(daemonConfigTemplate))
	unitTmpl         = template.Must(template.New("3proxy.service").Parse(unitTemplate))
	managerTmpl      = template.Must(template.New("3proxyctl").Parse(managerTemplate))
)

// DaemonConfig renders the 3proxy configuration file for cfg.
func DaemonConfig(cfg config.Config) ([]byte, error) {
	return execute(daemonConfigTmpl, cfg)
}

// Unit renders the systemd unit that supervises the daemon.
func Unit(cfg config.Config) ([]byte, error) {
	return execute(unitTmpl, cfg)
}

// Manager renders the companion management command.
func Manager(cfg config.Config) ([]byte, error) {
	return execute(managerTmpl, cfg)
}

func execute(t *template.Template, cfg config.Config) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, cfg); err != nil {
		return nil, fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.Bytes(), nil
}
