package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfaoz/socksup/internal/config"
	"github.com/alfaoz/socksup/internal/notify"
	"github.com/alfaoz/socksup/internal/targets"
)

func (a *App) targetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "Manage saved SSH targets",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(a.targetsListCmd(), a.targetsSaveCmd(), a.targetsDeleteCmd())
	return cmd
}

func (a *App) targetsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved targets",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := targets.NewStore(a.TargetsDir)
			if err != nil {
				return err
			}
			names, err := store.List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(names) == 0 {
				_, _ = fmt.Fprintf(out, "No targets saved yet in %s\n", store.Dir)
				return nil
			}
			_, _ = fmt.Fprintf(out, "Saved targets (%s):\n", store.Dir)
			for _, name := range names {
				t, err := store.Load(name)
				if err != nil {
					_, _ = fmt.Fprintf(out, "  - %s (unreadable: %v)\n", name, err)
					continue
				}
				_, _ = fmt.Fprintf(out, "  - %s  %s@%s:%d\n", t.Name, t.SSHUser, t.Host, t.SSHPort)
			}
			return nil
		},
	}
}

func (a *App) targetsSaveCmd() *cobra.Command {
	var (
		socksPort int
		noFW      bool
	)
	cmd := &cobra.Command{
		Use:   "save <name>",
		Short: "Save --host, --ssh-port and --ssh-user under a name",
		Example: `  socksup targets save prod --host 203.0.113.10 --ssh-user root --socks-port 50595
  socksup --target prod run`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := targets.NewStore(a.TargetsDir)
			if err != nil {
				return err
			}
			opts := optionsFrom(a.viper)
			t := targets.Target{
				Name:             args[0],
				Host:             opts.Host,
				SSHPort:          opts.SSHPort,
				SSHUser:          opts.SSHUser,
				SocksPort:        socksPort,
				NoFirewallChange: noFW,
			}
			if existing, err := store.Load(args[0]); err == nil && t.Host == "" {
				t = existing
			}
			if t.Host == "" || a.isSet(cmd, flagInteractive) {
				if !a.IsTTY() {
					return usagef("--host is required")
				}
				if t, err = a.TargetForm(t); err != nil {
					return err
				}
			}
			if t.SocksPort > 0 {
				if err := config.CheckPort(t.SocksPort); err != nil {
					return err
				}
			}
			saved, err := store.Save(t)
			if err != nil {
				return err
			}
			notify.Successf(cmd.OutOrStdout(), "saved target %s (%s@%s:%d)", saved.Name, saved.SSHUser, saved.Host, saved.SSHPort)
			return nil
		},
	}
	cmd.Flags().IntVar(&socksPort, "socks-port", 0, "Default SOCKS5 port for runs against this target")
	cmd.Flags().BoolVar(&noFW, flagNoFirewallChange, false, "Never change the firewall on this target")
	cmd.Flags().BoolP(flagInteractive, "i", false, "Edit the target in a form")
	return cmd
}

func (a *App) targetsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <name>",
		Aliases: []string{"rm"},
		Short:   "Delete a saved target",
		Args:    usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := targets.NewStore(a.TargetsDir)
			if err != nil {
				return err
			}
			if _, err := store.Load(args[0]); errors.Is(err, targets.ErrNotFound) {
				return err
			}
			if err := store.Delete(args[0]); err != nil {
				return err
			}
			notify.Successf(cmd.OutOrStdout(), "deleted target %s", targets.SanitizeName(args[0]))
			return nil
		},
	}
}
