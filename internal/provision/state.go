package provision

// State is the last milestone a run reached.
type State int

const (
	StateInit State = iota
	StateValidated
	StateEnvironmentChecked
	StatePortsFree
	StateDependenciesInstalled
	StateDaemonBuilt
	StateConfigWritten
	StateServiceInstalled
	StateFirewallConfigured
	StateServiceRunning
	StateReported
	StateAborted
)

var stateNames = map[State]string{
	StateInit:                  "Init",
	StateValidated:             "Validated",
	StateEnvironmentChecked:    "EnvironmentChecked",
	StatePortsFree:             "PortsFree",
	StateDependenciesInstalled: "DependenciesInstalled",
	StateDaemonBuilt:           "DaemonBuilt",
	StateConfigWritten:         "ConfigWritten",
	StateServiceInstalled:      "ServiceInstalled",
	StateFirewallConfigured:    "FirewallConfigured",
	StateServiceRunning:        "ServiceRunning",
	StateReported:              "Reported",
	StateAborted:               "Aborted",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "Unknown"
}
