package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/alfaoz/socksup/internal/config"
	"github.com/alfaoz/socksup/internal/notify"
	"github.com/alfaoz/socksup/internal/provision"
)

func (a *App) runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run [socksPort] [username] [password]",
		Aliases: []string{"install"},
		Short:   "Build, configure and start 3proxy",
		Long: `Install 3proxy with a SOCKS5 listener on socksPort and an HTTPS (CONNECT)
listener on socksPort+1, both requiring username/password.

Defaults: port 1080, username proxy_user, password proxy_pass.
Ports must be 1024-65534; usernames need 3+ characters, passwords 6+.`,
		Example: `  socksup run
  socksup run 50595 myuser mypassword
  socksup run --host 203.0.113.10 --ssh-user root 50595 myuser mypassword`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runInstall(cmd, args)
		},
	}
	addRunFlags(cmd.Flags(), a.viper)
	return cmd
}

func (a *App) runInstall(cmd *cobra.Command, args []string) error {
	opts, target, err := a.resolveOptions(cmd)
	if err != nil {
		return err
	}
	if len(args) == 0 && target.SocksPort > 0 {
		args = []string{strconv.Itoa(target.SocksPort)}
	}

	if opts.Interactive {
		if !a.IsTTY() {
			return usagef("--interactive needs a terminal")
		}
		if args, err = a.InstallArgs(args); err != nil {
			return err
		}
	}

	cfg, err := config.Build(args, config.WithDaemonVersion(opts.DaemonVersion))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	h, err := a.Connect(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer h.Close()

	log := a.logger().WithField("host", h.Name())
	p := provision.New(h, a.Archiver(), log)
	p.Options = provision.Options{
		AssumeYes:        opts.Yes,
		SkipDetect:       opts.SkipDetect,
		NoFirewallChange: opts.NoFirewallChange,
		DaemonSHA256:     opts.DaemonSHA256,
		Probe:            opts.Probe,
	}
	if a.IsTTY() {
		p.Confirm = a.Confirm
	}
	if a.tune != nil {
		a.tune(p)
	}

	notify.Activityf(out, "provisioning 3proxy %s on %s (SOCKS5 %d, HTTPS %d)", cfg.DaemonVersion, h.Name(), cfg.SocksPort, cfg.HTTPSPort)
	sum, err := p.Run(cmd.Context(), cfg)
	if err != nil {
		if kind, ok := provision.KindOf(err); ok && kind == provision.KindUnsupportedPlatform && !opts.Yes {
			return errors.Join(err, errors.New("rerun with --yes to install anyway"))
		}
		return err
	}
	printSummary(out, sum)
	return nil
}

func printSummary(w io.Writer, sum provision.Summary) {
	for _, warning := range sum.Warnings {
		notify.Warningf(w, "%s", warning)
	}
	notify.Successf(w, "3proxy %s is running on %s", sum.DaemonVersion, sum.Host)

	_, _ = fmt.Fprintln(w, "\nConnection details:")
	_, _ = fmt.Fprintf(w, "  Server IP:  %s\n", sum.ExternalIP)
	_, _ = fmt.Fprintf(w, "  SOCKS5:     %s:%d\n", sum.ExternalIP, sum.SocksPort)
	_, _ = fmt.Fprintf(w, "  HTTPS:      %s:%d\n", sum.ExternalIP, sum.HTTPSPort)
	_, _ = fmt.Fprintf(w, "  Username:   %s\n", sum.Username)
	_, _ = fmt.Fprintf(w, "  Password:   %s\n", sum.Password)

	if sum.FirewallNote != "" {
		_, _ = fmt.Fprintf(w, "\nFirewall note: %s\n", sum.FirewallNote)
	}
	if sum.Probed {
		notify.Successf(w, "authenticated through both listeners")
	}

	_, _ = fmt.Fprintln(w, "\nQuick test:")
	_, _ = fmt.Fprintf(w, "  curl -x 'socks5h://%s:%s@%s:%d' https://api.ipify.org\n", sum.Username, sum.Password, sum.ExternalIP, sum.SocksPort)
	_, _ = fmt.Fprintf(w, "  curl -x 'http://%s:%s@%s:%d' https://api.ipify.org\n", sum.Username, sum.Password, sum.ExternalIP, sum.HTTPSPort)

	_, _ = fmt.Fprintln(w, "\nManage:")
	_, _ = fmt.Fprintln(w, "  3proxyctl start|stop|restart|status|log|config|test")
	_, _ = fmt.Fprintln(w, "  socksup manage <action>  (same actions, also over --host)")
}
