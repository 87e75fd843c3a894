package cli

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix makes every flag settable as SOCKSUP_<FLAG_NAME>.
const EnvPrefix = "SOCKSUP"

const (
	flagHost            = "host"
	flagSSHPort         = "ssh-port"
	flagSSHUser         = "ssh-user"
	flagSSHPassword     = "ssh-password"
	flagKnownHosts      = "ssh-known-hosts"
	flagStrictHostKey   = "strict-host-key"
	flagInsecureHostKey = "insecure-host-key"
	flagTarget          = "target"
	flagLogLevel        = "log-level"
	flagNoColor         = "no-color"

	flagYes              = "yes"
	flagSkipDetect       = "skip-detect"
	flagNoFirewallChange = "no-firewall-change"
	flagDaemonVersion    = "daemon-version"
	flagDaemonSHA256     = "daemon-sha256"
	flagInteractive      = "interactive"
	flagProbe            = "probe"
)

type Options struct {
	Host            string
	SSHPort         int
	SSHUser         string
	SSHPassword     string
	SSHKnownHosts   string
	StrictHostKey   bool
	InsecureHostKey bool
	Target          string
	LogLevel        string
	NoColor         bool

	Yes              bool
	SkipDetect       bool
	NoFirewallChange bool
	DaemonVersion    string
	DaemonSHA256     string
	Interactive      bool
	Probe            bool
}

func DefaultOptions() Options {
	return Options{
		SSHPort:  22,
		SSHUser:  "root",
		LogLevel: "info",
	}
}

// Remote reports whether commands go over SSH instead of the local shell.
func (o Options) Remote() bool { return strings.TrimSpace(o.Host) != "" }

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func addGlobalFlags(fs *pflag.FlagSet, v *viper.Viper) {
	def := DefaultOptions()
	fs.String(flagHost, "", "Remote host or IP to provision over SSH (default: this machine)")
	fs.Int(flagSSHPort, def.SSHPort, "SSH port")
	fs.String(flagSSHUser, def.SSHUser, "SSH user")
	fs.String(flagSSHPassword, "", "SSH password (prompted when omitted on a terminal)")
	fs.String(flagKnownHosts, "", "known_hosts file (default: ~/.ssh/known_hosts)")
	fs.Bool(flagStrictHostKey, false, "Refuse hosts missing from known_hosts")
	fs.Bool(flagInsecureHostKey, false, "Skip host key verification")
	fs.String(flagTarget, "", "Use a saved target from ~/.socksup/targets")
	fs.String(flagLogLevel, def.LogLevel, "Log level: debug, info, warn, error")
	fs.Bool(flagNoColor, false, "Disable colored output")
	bindAll(fs, v)
}

func addRunFlags(fs *pflag.FlagSet, v *viper.Viper) {
	fs.BoolP(flagYes, "y", false, "Continue on unsupported platforms without asking")
	fs.Bool(flagSkipDetect, false, "Skip platform detection")
	fs.Bool(flagNoFirewallChange, false, "Do not add firewall rules")
	fs.String(flagDaemonVersion, "", "3proxy release tag to build (default: pinned version)")
	fs.String(flagDaemonSHA256, "", "Expected SHA-256 of the 3proxy source archive")
	fs.BoolP(flagInteractive, "i", false, "Prompt for port, username and password")
	fs.Bool(flagProbe, false, "Authenticate through both proxies after start")
	bindAll(fs, v)
}

func bindAll(fs *pflag.FlagSet, v *viper.Viper) {
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
	})
}

func optionsFrom(v *viper.Viper) Options {
	return Options{
		Host:            strings.TrimSpace(v.GetString(flagHost)),
		SSHPort:         v.GetInt(flagSSHPort),
		SSHUser:         strings.TrimSpace(v.GetString(flagSSHUser)),
		SSHPassword:     v.GetString(flagSSHPassword),
		SSHKnownHosts:   strings.TrimSpace(v.GetString(flagKnownHosts)),
		StrictHostKey:   v.GetBool(flagStrictHostKey),
		InsecureHostKey: v.GetBool(flagInsecureHostKey),
		Target:          strings.TrimSpace(v.GetString(flagTarget)),
		LogLevel:        strings.TrimSpace(v.GetString(flagLogLevel)),
		NoColor:         v.GetBool(flagNoColor),

		Yes:              v.GetBool(flagYes),
		SkipDetect:       v.GetBool(flagSkipDetect),
		NoFirewallChange: v.GetBool(flagNoFirewallChange),
		DaemonVersion:    strings.TrimSpace(v.GetString(flagDaemonVersion)),
		DaemonSHA256:     strings.TrimSpace(v.GetString(flagDaemonSHA256)),
		Interactive:      v.GetBool(flagInteractive),
		Probe:            v.GetBool(flagProbe),
	}
}

// NormalizeManageAction maps accepted spellings onto the manager actions.
func NormalizeManageAction(v string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "start":
		return "start", true
	case "stop":
		return "stop", true
	case "restart":
		return "restart", true
	case "status":
		return "status", true
	case "log", "logs":
		return "log", true
	case "config", "cat":
		return "config", true
	case "test", "check":
		return "test", true
	default:
		return "", false
	}
}
