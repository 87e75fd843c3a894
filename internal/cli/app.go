// Package cli wires the socksup commands to the provisioner.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/alfaoz/socksup/internal/fetch"
	"github.com/alfaoz/socksup/internal/hostexec"
	"github.com/alfaoz/socksup/internal/notify"
	"github.com/alfaoz/socksup/internal/prompt"
	"github.com/alfaoz/socksup/internal/provision"
	"github.com/alfaoz/socksup/internal/sshx"
	"github.com/alfaoz/socksup/internal/targets"
	"github.com/alfaoz/socksup/internal/version"
)

const (
	ExitSuccess = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// usageError marks mistakes in the command line itself.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return usageError{fmt.Errorf(format, args...)}
}

// App holds the process-level dependencies of every command. Tests swap the
// function fields.
type App struct {
	Out io.Writer
	Err io.Writer

	IsTTY    func() bool
	Geteuid  func() int
	Connect  func(ctx context.Context, opts Options) (hostexec.Host, error)
	Archiver func() provision.Archiver
	Confirm  func(question string) bool
	// InstallArgs collects the positional values interactively.
	InstallArgs func(initial []string) ([]string, error)
	// ReadPassword prompts for the SSH password on the terminal.
	ReadPassword func(prompt string) (string, error)
	TargetForm   func(t targets.Target) (targets.Target, error)
	TargetsDir   string

	viper *viper.Viper
	log   *logrus.Logger
	// tune adjusts each provisioner before it runs.
	tune func(p *provision.Provisioner)
}

func NewApp() *App {
	a := &App{
		Out:          os.Stdout,
		Err:          os.Stderr,
		IsTTY:        func() bool { return isTerminalFile(os.Stdin) && isTerminalFile(os.Stdout) },
		Geteuid:      os.Geteuid,
		Archiver:     func() provision.Archiver { return fetch.New() },
		Confirm:      prompt.Confirm,
		InstallArgs:  prompt.InstallArgs,
		ReadPassword: readTerminalPassword,
		TargetForm:   prompt.TargetForm,
		TargetsDir:   strings.TrimSpace(os.Getenv("SOCKSUP_TARGETS_DIR")),
	}
	a.Connect = a.connect
	return a
}

// Execute runs the command line and returns the process exit code.
func (a *App) Execute(ctx context.Context, args []string) int {
	if args == nil {
		args = []string{}
	}
	root := a.RootCmd()
	root.SetArgs(args)
	root.SetOut(a.Out)
	root.SetErr(a.Err)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	var ue usageError
	if errors.As(err, &ue) {
		notify.Errorf(a.Err, "%v", err)
		_, _ = fmt.Fprintf(a.Err, "Run '%s --help' for usage.\n", root.Name())
		return ExitUsage
	}
	if _, stepFailed := provision.KindOf(err); !stepFailed && prompt.IsCancelled(err) {
		notify.Warningf(a.Err, "cancelled")
		return ExitFailure
	}

	notify.Errorf(a.Err, "%v", err)
	for _, d := range provision.DiagnosticsOf(err) {
		_, _ = fmt.Fprintln(a.Err, d.String())
	}
	return ExitFailure
}

func (a *App) RootCmd() *cobra.Command {
	a.viper = newViper()

	root := &cobra.Command{
		Use:   "socksup",
		Short: "Install an authenticated 3proxy SOCKS5 + HTTPS proxy on Debian/Ubuntu",
		Long: `socksup builds 3proxy from source, writes its config, installs a systemd
unit and the 3proxyctl helper, opens the firewall and verifies the daemon.

It provisions this machine by default (run as root) or a remote VPS over
SSH with --host. Every flag can also be set as SOCKSUP_<FLAG>, e.g.
SOCKSUP_SSH_PASSWORD.`,
		Version:       version.AppVersion,
		Args:          usageArgs(cobra.NoArgs),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}
	root.SetVersionTemplate(versionLine() + "\n")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})
	addGlobalFlags(root.PersistentFlags(), a.viper)

	root.AddCommand(a.runCmd(), a.manageCmd(), a.targetsCmd(), a.versionCmd())
	return root
}

func (a *App) setup() error {
	opts := optionsFrom(a.viper)
	if opts.NoColor {
		notify.DisableColor()
	}
	log, err := notify.NewLogger(a.Err, opts.LogLevel, opts.NoColor)
	if err != nil {
		return usageError{err}
	}
	a.log = log
	return nil
}

func (a *App) logger() *logrus.Logger {
	if a.log == nil {
		a.log, _ = notify.NewLogger(a.Err, "info", true)
	}
	return a.log
}

func (a *App) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the socksup version",
		Args:  usageArgs(cobra.NoArgs),
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), versionLine())
		},
	}
}

func versionLine() string {
	return fmt.Sprintf("socksup v%s (3proxy %s)", version.AppVersion, version.DefaultDaemonVersion)
}

func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

// resolveOptions layers a saved target under explicitly set flags.
func (a *App) resolveOptions(cmd *cobra.Command) (Options, targets.Target, error) {
	opts := optionsFrom(a.viper)
	if opts.Target == "" {
		return opts, targets.Target{}, nil
	}
	store, err := targets.NewStore(a.TargetsDir)
	if err != nil {
		return opts, targets.Target{}, err
	}
	t, err := store.Load(opts.Target)
	if err != nil {
		return opts, targets.Target{}, err
	}
	if !a.isSet(cmd, flagHost) {
		opts.Host = t.Host
	}
	if !a.isSet(cmd, flagSSHPort) {
		opts.SSHPort = t.SSHPort
	}
	if !a.isSet(cmd, flagSSHUser) {
		opts.SSHUser = t.SSHUser
	}
	if t.NoFirewallChange {
		opts.NoFirewallChange = true
	}
	return opts, t, nil
}

// isSet reports whether a value came from the command line or environment.
func (a *App) isSet(cmd *cobra.Command, name string) bool {
	if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
		return true
	}
	_, ok := os.LookupEnv(EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")))
	return ok
}

// connect opens the local shell or an SSH session according to opts.
func (a *App) connect(_ context.Context, opts Options) (hostexec.Host, error) {
	if !opts.Remote() {
		if a.Geteuid() != 0 {
			return nil, errors.New("provisioning this machine requires root; rerun with sudo or use --host")
		}
		return hostexec.NewLocal(), nil
	}

	password := opts.SSHPassword
	if password == "" {
		if !a.IsTTY() {
			return nil, usagef("ssh password is required (--ssh-password or SOCKSUP_SSH_PASSWORD)")
		}
		pwd, err := a.ReadPassword(fmt.Sprintf("SSH password for %s@%s: ", opts.SSHUser, opts.Host))
		if err != nil {
			return nil, fmt.Errorf("read password: %w", err)
		}
		password = pwd
	}
	if strings.TrimSpace(password) == "" {
		return nil, usagef("ssh password is required")
	}

	sshOpts := sshx.DefaultConnectOptions()
	if opts.SSHKnownHosts != "" {
		sshOpts.KnownHostsPath = opts.SSHKnownHosts
	}
	if opts.StrictHostKey {
		sshOpts.HostKeyMode = sshx.HostKeyStrict
	}
	if opts.InsecureHostKey {
		sshOpts.HostKeyMode = sshx.HostKeyInsecureIgnore
	}

	a.logger().WithField("host", opts.Host).Debugf("connecting as %s on port %d", opts.SSHUser, opts.SSHPort)
	client, err := sshx.ConnectWithOptions(sshx.Target{
		Host:     opts.Host,
		Port:     opts.SSHPort,
		User:     opts.SSHUser,
		Password: password,
	}, sshOpts)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func readTerminalPassword(label string) (string, error) {
	_, _ = fmt.Fprint(os.Stderr, label)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	_, _ = fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func isTerminalFile(f *os.File) bool {
	fd := f.Fd()
	if fd > uintptr(^uint(0)>>1) {
		return false
	}
	return term.IsTerminal(int(fd))
}
