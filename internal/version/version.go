package version

// AppVersion is overridden at release time via -ldflags.
var AppVersion = "0.3.0"

const (
	DefaultRepo = "alfaoz/socksup"

	// DefaultDaemonVersion is the pinned upstream 3proxy release tag.
	DefaultDaemonVersion = "0.9.4"
	DaemonRepo           = "3proxy/3proxy"
)
