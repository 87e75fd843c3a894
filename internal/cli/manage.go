package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfaoz/socksup/internal/config"
	"github.com/alfaoz/socksup/internal/hostexec"
	"github.com/alfaoz/socksup/internal/notify"
	"github.com/alfaoz/socksup/internal/provision"
)

func (a *App) manageCmd() *cobra.Command {
	lines := 50
	cmd := &cobra.Command{
		Use:   "manage start|stop|restart|status|log|config|test",
		Short: "Operate an installed 3proxy",
		Long: `Run the same actions as the 3proxyctl helper, locally or over --host.

  start|stop|restart  control the systemd service
  status              systemctl status
  log                 last lines of the 3proxy log
  config              print the installed config
  test                check the service, its config and both listeners`,
		Args:      usageArgs(cobra.ExactArgs(1)),
		ValidArgs: []string{"start", "stop", "restart", "status", "log", "config", "test"},
		RunE: func(cmd *cobra.Command, args []string) error {
			action, ok := NormalizeManageAction(args[0])
			if !ok {
				return usagef("unknown action %q: use start, stop, restart, status, log, config or test", args[0])
			}
			opts, _, err := a.resolveOptions(cmd)
			if err != nil {
				return err
			}
			h, err := a.Connect(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer h.Close()
			return a.manage(cmd, h, action, lines)
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", lines, "Log lines to show")
	return cmd
}

func (a *App) manage(cmd *cobra.Command, h hostexec.Host, action string, lines int) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	paths := config.DefaultPaths()
	svc := hostexec.Quote(paths.ServiceName)

	switch action {
	case "start", "stop", "restart":
		if _, err := hostexec.MustRun(ctx, h, "systemctl "+action+" "+svc); err != nil {
			return err
		}
		notify.Successf(out, "%s %s on %s", action, paths.ServiceName, h.Name())
		return nil

	case "status":
		status, err := h.Run(ctx, "systemctl status "+svc+" --no-pager -l")
		_, _ = io.WriteString(out, status)
		if err != nil {
			return fmt.Errorf("%s is not active", paths.ServiceName)
		}
		return nil

	case "log":
		if lines <= 0 {
			return usagef("--lines must be positive")
		}
		logTail, err := hostexec.MustRun(ctx, h, fmt.Sprintf("tail -n %d %s", lines, hostexec.Quote(paths.LogFile)))
		if err != nil {
			return err
		}
		_, _ = io.WriteString(out, logTail)
		return nil

	case "config":
		data, err := h.ReadFile(ctx, paths.ConfigFile)
		if err != nil {
			return fmt.Errorf("read %s: %w", paths.ConfigFile, err)
		}
		_, _ = out.Write(data)
		return nil

	case "test":
		st, err := provision.Inspect(ctx, h, paths)
		if err != nil {
			return err
		}
		printStatus(out, paths, st)
		if !st.Healthy() {
			return errors.New("3proxy is not healthy")
		}
		return nil
	}
	return usagef("unknown action %q", action)
}

func printStatus(w io.Writer, paths config.Paths, st provision.Status) {
	if st.Active {
		notify.Successf(w, "service %s is active", paths.ServiceName)
	} else {
		notify.Errorf(w, "service %s is not active", paths.ServiceName)
	}
	if len(st.Users) > 0 {
		notify.Infof(w, "users: %s", strings.Join(st.Users, ", "))
	}
	for _, port := range st.Ports {
		if st.Listening[port] {
			notify.Successf(w, "port %d: listening", port)
		} else {
			notify.Errorf(w, "port %d: NOT listening", port)
		}
	}
	for _, p := range st.Problems {
		notify.Warningf(w, "%s", p)
	}
}
