// Package provision drives a single, strictly ordered install of the 3proxy
// daemon onto a host. Each step either completes or aborts the whole run;
// completed steps are never rolled back.
package provision

import (
	"context"
	"fmt"
	"io"
	"net"
	"path"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/alfaoz/socksup/internal/config"
	"github.com/alfaoz/socksup/internal/fetch"
	"github.com/alfaoz/socksup/internal/hostexec"
	"github.com/alfaoz/socksup/internal/hostinfo"
	"github.com/alfaoz/socksup/internal/render"
	"github.com/alfaoz/socksup/internal/verify"
)

const (
	stepValidate  = "validate"
	stepDetect    = "detect-environment"
	stepPorts     = "check-ports"
	stepToolchain = "install-toolchain"
	stepBuild     = "fetch-and-build"
	stepConfig    = "write-config"
	stepService   = "install-service"
	stepFirewall  = "configure-firewall"
	stepStart     = "start-and-verify"
	stepReport    = "report"

	osReleasePath = "/etc/os-release"
)

// BuildPackages are the Debian packages needed to compile 3proxy.
var BuildPackages = []string{"build-essential", "gcc", "make", "tar", "wget", "curl", "net-tools"}

var externalIPServices = []string{"https://api.ipify.org", "https://ifconfig.me"}

// Archiver downloads a pinned daemon source archive.
type Archiver interface {
	Download(ctx context.Context, version, sha256 string) (fetch.Archive, error)
}

type Options struct {
	// AssumeYes auto-confirms the unsupported platform warning.
	AssumeYes bool
	// SkipDetect omits platform detection entirely.
	SkipDetect       bool
	NoFirewallChange bool
	DaemonSHA256     string
	// Probe authenticates through both listeners after start.
	Probe bool
}

// Summary is everything the operator needs to connect.
type Summary struct {
	Host          string
	ExternalIP    string
	SocksPort     int
	HTTPSPort     int
	Username      string
	Password      string
	Platform      hostinfo.Platform
	DaemonVersion string
	FirewallNote  string
	Probed        bool
	Warnings      []string
}

type Provisioner struct {
	Host    hostexec.Host
	Fetcher Archiver
	Log     logrus.FieldLogger
	// Confirm asks the operator a yes/no question. Nil means "no".
	Confirm func(prompt string) bool
	Options Options

	SettleDelay  time.Duration
	StartTimeout time.Duration
	PollInterval time.Duration
	Sleep        func(ctx context.Context, d time.Duration) error
	Now          func() time.Time

	state State
}

func New(h hostexec.Host, fetcher Archiver, log logrus.FieldLogger) *Provisioner {
	return &Provisioner{
		Host:         h,
		Fetcher:      fetcher,
		Log:          log,
		SettleDelay:  2 * time.Second,
		StartTimeout: 10 * time.Second,
		PollInterval: time.Second,
	}
}

// State reports the last milestone reached by Run.
func (p *Provisioner) State() State { return p.state }

type run struct {
	cfg      config.Config
	platform hostinfo.Platform
	summary  Summary
}

type step struct {
	name    string
	reached State
	fn      func(ctx context.Context, r *run) error
}

func (p *Provisioner) steps() []step {
	return []step{
		{stepDetect, StateEnvironmentChecked, p.detectEnvironment},
		{stepPorts, StatePortsFree, p.checkPortsAvailable},
		{stepToolchain, StateDependenciesInstalled, p.installBuildToolchain},
		{stepBuild, StateDaemonBuilt, p.fetchAndBuildDaemon},
		{stepConfig, StateConfigWritten, p.writeConfig},
		{stepService, StateServiceInstalled, p.installServiceUnit},
		{stepFirewall, StateFirewallConfigured, p.configureFirewall},
		{stepStart, StateServiceRunning, p.startAndVerify},
		{stepReport, StateReported, p.reportSummary},
	}
}

// Run provisions the host for cfg. It stops at the first failing step.
func (p *Provisioner) Run(ctx context.Context, cfg config.Config) (Summary, error) {
	p.state = StateInit
	if err := cfg.Validate(); err != nil {
		p.state = StateAborted
		return Summary{}, newError(KindInvalidArgument, stepValidate, err)
	}
	p.state = StateValidated

	r := &run{cfg: cfg}
	for _, s := range p.steps() {
		log := p.logger().WithField("step", s.name)
		if err := ctx.Err(); err != nil {
			p.state = StateAborted
			return r.summary, err
		}
		log.Info("running")
		started := p.now()
		if err := s.fn(ctx, r); err != nil {
			p.state = StateAborted
			log.WithError(err).Error("step failed")
			return r.summary, err
		}
		p.state = s.reached
		log.WithField("elapsed", p.now().Sub(started).Round(time.Millisecond)).Debugf("reached %s", s.reached)
	}
	return r.summary, nil
}

func (p *Provisioner) detectEnvironment(ctx context.Context, r *run) error {
	log := p.logger().WithField("step", stepDetect)
	if p.Options.SkipDetect {
		log.Info("platform detection skipped")
		return nil
	}

	osRelease, err := p.Host.ReadFile(ctx, osReleasePath)
	if err != nil {
		log.WithError(err).Warn("cannot read os-release")
	}
	arch, err := p.Host.Run(ctx, "uname -m")
	if err != nil {
		log.WithError(err).Warn("cannot read cpu architecture")
		arch = ""
	}

	r.platform = hostinfo.PlatformFromOSRelease(string(osRelease), arch)
	r.cfg = r.cfg.WithEnvironment(r.platform.VersionID, r.platform.Arch)
	r.summary.Platform = r.platform

	if r.platform.Supported() {
		log.Infof("detected %s", r.platform)
		return nil
	}

	warning := errorf(KindUnsupportedPlatform, stepDetect, "%s is not Debian or Ubuntu", r.platform)
	log.Warn(warning.Err.Error())
	r.summary.Warnings = append(r.summary.Warnings, warning.Err.Error())
	if p.Options.AssumeYes {
		return nil
	}
	if p.Confirm != nil && p.Confirm(fmt.Sprintf("Unsupported platform: %s. Continue anyway?", r.platform)) {
		return nil
	}
	return warning
}

func (p *Provisioner) checkPortsAvailable(ctx context.Context, r *run) error {
	listening, ok := p.listeningPorts(ctx)
	if !ok {
		msg := "cannot inspect listening sockets (neither ss nor netstat available); skipping port check"
		p.logger().WithField("step", stepPorts).Warn(msg)
		r.summary.Warnings = append(r.summary.Warnings, msg)
		return nil
	}
	var busy []string
	for _, port := range r.cfg.Ports() {
		if listening[port] {
			busy = append(busy, fmt.Sprint(port))
		}
	}
	if len(busy) > 0 {
		return errorf(KindPortInUse, stepPorts, "port %s already in use", strings.Join(busy, ", "))
	}
	return nil
}

// listeningPorts returns bound TCP ports, or false if no tool could list them.
func (p *Provisioner) listeningPorts(ctx context.Context) (map[int]bool, bool) {
	var cmd string
	switch {
	case hostexec.CommandExists(ctx, p.Host, "ss"):
		cmd = "ss -ltnH"
	case hostexec.CommandExists(ctx, p.Host, "netstat"):
		cmd = "netstat -ltn"
	default:
		return nil, false
	}
	out, err := p.Host.Run(ctx, cmd)
	if err != nil {
		p.logger().WithError(err).Warnf("%s failed", cmd)
		return nil, false
	}
	return hostinfo.ParseListeningPorts(out), true
}

func (p *Provisioner) installBuildToolchain(ctx context.Context, _ *run) error {
	log := p.logger().WithField("step", stepToolchain)
	pkgs := hostexec.Join(BuildPackages...)
	if _, err := p.Host.Run(ctx, "dpkg -s "+pkgs+" >/dev/null 2>&1"); err == nil {
		log.Info("build toolchain already installed")
		return nil
	}

	log.Infof("installing packages: %s", strings.Join(BuildPackages, " "))
	const env = "DEBIAN_FRONTEND=noninteractive "
	if _, err := hostexec.MustRun(ctx, p.Host, env+"apt-get update -y"); err != nil {
		return newError(KindDependencyInstall, stepToolchain, fmt.Errorf("apt-get update failed: %w", err))
	}
	if _, err := hostexec.MustRun(ctx, p.Host, env+"apt-get install -y --no-install-recommends "+pkgs); err != nil {
		return newError(KindDependencyInstall, stepToolchain, fmt.Errorf("apt-get install failed: %w", err))
	}
	return nil
}

func (p *Provisioner) fetchAndBuildDaemon(ctx context.Context, r *run) error {
	log := p.logger().WithField("step", stepBuild)
	if p.Fetcher == nil {
		return errorf(KindDownload, stepBuild, "no source fetcher configured")
	}

	arc, err := p.Fetcher.Download(ctx, r.cfg.DaemonVersion, p.Options.DaemonSHA256)
	if err != nil {
		return newError(KindDownload, stepBuild, err)
	}
	log.Infof("downloaded 3proxy %s (%d bytes, sha256 %s)", arc.Version, len(arc.Data), arc.SHA256)

	paths := r.cfg.Paths
	archivePath := path.Join(paths.BuildDir, "3proxy-"+arc.Version+".tar.gz")
	if _, err := hostexec.MustRun(ctx, p.Host, "rm -rf "+hostexec.Quote(paths.BuildDir)+" && mkdir -p "+hostexec.Quote(paths.BuildDir)); err != nil {
		return newError(KindDownload, stepBuild, fmt.Errorf("prepare build dir: %w", err))
	}
	if err := p.Host.WriteFile(ctx, archivePath, arc.Data, 0o644); err != nil {
		return newError(KindDownload, stepBuild, fmt.Errorf("upload source archive: %w", err))
	}
	if _, err := hostexec.MustRun(ctx, p.Host, "tar -xzf "+hostexec.Join(archivePath, "-C", paths.BuildDir)); err != nil {
		return newError(KindBuild, stepBuild, fmt.Errorf("extract: %w", err))
	}

	srcDir := path.Join(paths.BuildDir, arc.RootDir)
	makeCmd := "make -C " + hostexec.Quote(srcDir) + " -f Makefile.Linux"
	if p.isARM(ctx, r) {
		makeCmd += " " + hostexec.Quote("CC=gcc -fsigned-char")
	}
	log.Info("compiling")
	if _, err := hostexec.MustRun(ctx, p.Host, makeCmd); err != nil {
		return newError(KindBuild, stepBuild, fmt.Errorf("make: %w", err))
	}
	if _, err := hostexec.MustRun(ctx, p.Host, "install -m 0755 "+hostexec.Join(path.Join(srcDir, "bin", "3proxy"), paths.Binary)); err != nil {
		return newError(KindBuild, stepBuild, fmt.Errorf("install binary: %w", err))
	}
	r.summary.DaemonVersion = arc.Version
	return nil
}

func (p *Provisioner) isARM(ctx context.Context, r *run) bool {
	if r.platform.Arch == "" {
		// detection may have been skipped
		if arch, err := p.Host.Run(ctx, "uname -m"); err == nil {
			r.platform.Arch = strings.TrimSpace(arch)
		}
	}
	return r.platform.IsARM()
}

func (p *Provisioner) writeConfig(ctx context.Context, r *run) error {
	data, err := render.DaemonConfig(r.cfg)
	if err != nil {
		return newError(KindConfigWrite, stepConfig, err)
	}
	paths := r.cfg.Paths
	if _, err := hostexec.MustRun(ctx, p.Host, "mkdir -p "+hostexec.Join(paths.ConfigDir, paths.LogDir)); err != nil {
		return newError(KindConfigWrite, stepConfig, err)
	}
	if err := p.Host.WriteFile(ctx, paths.ConfigFile, data, 0o600); err != nil {
		return newError(KindConfigWrite, stepConfig, fmt.Errorf("write %s: %w", paths.ConfigFile, err))
	}
	return nil
}

func (p *Provisioner) installServiceUnit(ctx context.Context, r *run) error {
	paths := r.cfg.Paths
	unit, err := render.Unit(r.cfg)
	if err != nil {
		return newError(KindConfigWrite, stepService, err)
	}
	if err := p.Host.WriteFile(ctx, paths.UnitFile, unit, 0o644); err != nil {
		return newError(KindConfigWrite, stepService, fmt.Errorf("write %s: %w", paths.UnitFile, err))
	}
	manager, err := render.Manager(r.cfg)
	if err != nil {
		return newError(KindConfigWrite, stepService, err)
	}
	if err := p.Host.WriteFile(ctx, paths.Manager, manager, 0o755); err != nil {
		return newError(KindConfigWrite, stepService, fmt.Errorf("write %s: %w", paths.Manager, err))
	}

	if _, err := hostexec.MustRun(ctx, p.Host, "systemctl daemon-reload"); err != nil {
		return newError(KindServiceStart, stepService, err)
	}
	if _, err := hostexec.MustRun(ctx, p.Host, "systemctl enable "+hostexec.Quote(paths.ServiceName)); err != nil {
		return newError(KindServiceStart, stepService, err)
	}
	return nil
}

func (p *Provisioner) configureFirewall(ctx context.Context, r *run) error {
	r.summary.FirewallNote = p.openFirewall(ctx, r.cfg.Ports())
	p.logger().WithField("step", stepFirewall).Info(r.summary.FirewallNote)
	return nil
}

func (p *Provisioner) openFirewall(ctx context.Context, ports []int) string {
	list := joinPorts(ports)
	if p.Options.NoFirewallChange {
		return "Skipped firewall changes by request."
	}

	if hostexec.CommandExists(ctx, p.Host, "ufw") {
		status, _ := p.Host.Run(ctx, "ufw status")
		if firstLine(status) == "Status: active" {
			var failed []int
			for _, port := range ports {
				if _, err := p.Host.Run(ctx, fmt.Sprintf("ufw allow %d/tcp", port)); err != nil {
					failed = append(failed, port)
				}
			}
			if len(failed) > 0 {
				return fmt.Sprintf("UFW active, but failed to open TCP %s.", joinPorts(failed))
			}
			return fmt.Sprintf("Opened TCP %s via UFW.", list)
		}
	}

	if hostexec.CommandExists(ctx, p.Host, "firewall-cmd") {
		state, err := p.Host.Run(ctx, "firewall-cmd --state")
		if err == nil && strings.TrimSpace(state) == "running" {
			var failed []int
			for _, port := range ports {
				if _, err := p.Host.Run(ctx, fmt.Sprintf("firewall-cmd --permanent --add-port=%d/tcp", port)); err != nil {
					failed = append(failed, port)
				}
			}
			_, reloadErr := p.Host.Run(ctx, "firewall-cmd --reload")
			if len(failed) > 0 || reloadErr != nil {
				return fmt.Sprintf("firewalld running, but failed to open TCP %s.", list)
			}
			return fmt.Sprintf("Opened TCP %s via firewalld.", list)
		}
	}

	return fmt.Sprintf("Firewall not modified. Open TCP %s manually if blocked.", list)
}

func (p *Provisioner) startAndVerify(ctx context.Context, r *run) error {
	log := p.logger().WithField("step", stepStart)
	svc := hostexec.Quote(r.cfg.Paths.ServiceName)

	if _, err := hostexec.MustRun(ctx, p.Host, "systemctl restart "+svc); err != nil {
		return p.startFailure(ctx, r, err)
	}
	if err := p.sleep(ctx, p.SettleDelay); err != nil {
		return err
	}

	deadline := p.now().Add(p.StartTimeout)
	for {
		_, activeErr := p.Host.Run(ctx, "systemctl is-active --quiet "+svc)
		listening, _ := p.listeningPorts(ctx)
		bound := listening != nil && listening[r.cfg.SocksPort] && listening[r.cfg.HTTPSPort]
		if activeErr == nil && bound {
			break
		}
		if !p.now().Before(deadline) {
			reason := "service is not active"
			if activeErr == nil {
				reason = "service is active but ports are not listening"
			}
			return p.startFailure(ctx, r, fmt.Errorf("daemon not running after %s: %s", p.StartTimeout, reason))
		}
		if err := p.sleep(ctx, p.PollInterval); err != nil {
			return err
		}
	}
	log.Info("3proxy is running")

	if p.Options.Probe {
		p.probe(ctx, r)
	}
	return nil
}

func (p *Provisioner) startFailure(ctx context.Context, r *run, cause error) error {
	e := newError(KindServiceStart, stepStart, cause)
	e.Diagnostics = Diagnose(ctx, p.Host, r.cfg)
	return e
}

func (p *Provisioner) probe(ctx context.Context, r *run) {
	log := p.logger().WithField("step", stepStart)
	prober := verify.NewProber(p.Host.Dial)
	creds := verify.Credentials{User: r.cfg.Username, Password: r.cfg.Password}

	var failures []string
	if err := prober.SOCKS5(ctx, "127.0.0.1", r.cfg.SocksPort, creds); err != nil {
		failures = append(failures, "SOCKS5 probe: "+err.Error())
	}
	if err := prober.HTTPConnect(ctx, "127.0.0.1", r.cfg.HTTPSPort, creds); err != nil {
		failures = append(failures, "HTTPS probe: "+err.Error())
	}
	for _, f := range failures {
		log.Warn(f)
	}
	r.summary.Warnings = append(r.summary.Warnings, failures...)
	r.summary.Probed = len(failures) == 0
}

func (p *Provisioner) reportSummary(ctx context.Context, r *run) error {
	r.summary.Host = p.Host.Name()
	r.summary.ExternalIP = ExternalIP(ctx, p.Host)
	r.summary.SocksPort = r.cfg.SocksPort
	r.summary.HTTPSPort = r.cfg.HTTPSPort
	r.summary.Username = r.cfg.Username
	r.summary.Password = r.cfg.Password
	if r.summary.DaemonVersion == "" {
		r.summary.DaemonVersion = r.cfg.DaemonVersion
	}
	return nil
}

// ExternalIP asks public echo services for the host's IPv4 address, falling
// back to the first local address. It returns "UNKNOWN" when all fail.
func ExternalIP(ctx context.Context, h hostexec.Host) string {
	for _, svc := range externalIPServices {
		out, err := h.Run(ctx, "curl -4fsS --max-time 5 "+hostexec.Quote(svc))
		if ip := strings.TrimSpace(out); err == nil && net.ParseIP(ip) != nil {
			return ip
		}
	}
	if out, err := h.Run(ctx, "hostname -I"); err == nil {
		if fields := strings.Fields(out); len(fields) > 0 {
			return fields[0]
		}
	}
	return "UNKNOWN"
}

func (p *Provisioner) logger() logrus.FieldLogger {
	if p.Log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		p.Log = l
	}
	return p.Log
}

func (p *Provisioner) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Provisioner) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func joinPorts(ports []int) string {
	parts := make([]string, 0, len(ports))
	for _, p := range ports {
		parts = append(parts, fmt.Sprint(p))
	}
	return strings.Join(parts, " and ")
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(line)
}
