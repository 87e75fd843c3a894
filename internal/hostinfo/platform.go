package hostinfo

import "strings"

// Platform is what detection learns about the host.
type Platform struct {
	ID        string
	IDLike    string
	VersionID string
	Pretty    string
	Arch      string
}

func PlatformFromOSRelease(osRelease, arch string) Platform {
	kv := ParseKeyValues(osRelease)
	return Platform{
		ID:        strings.ToLower(kv.Get("ID")),
		IDLike:    strings.ToLower(kv.Get("ID_LIKE")),
		VersionID: kv.Get("VERSION_ID"),
		Pretty:    kv.Get("PRETTY_NAME"),
		Arch:      strings.TrimSpace(arch),
	}
}

// Supported reports whether the host is Debian or a Debian derivative.
func (p Platform) Supported() bool {
	switch p.ID {
	case "debian", "ubuntu":
		return true
	}
	for _, like := range strings.Fields(p.IDLike) {
		if like == "debian" || like == "ubuntu" {
			return true
		}
	}
	return false
}

// IsARM reports whether the build needs the ARM toolchain flags.
func (p Platform) IsARM() bool {
	a := strings.ToLower(p.Arch)
	return strings.HasPrefix(a, "arm") || strings.HasPrefix(a, "aarch64")
}

func (p Platform) String() string {
	name := p.Pretty
	if name == "" {
		name = strings.TrimSpace(p.ID + " " + p.VersionID)
	}
	if name == "" {
		name = "unknown"
	}
	return name + " (" + fallback(p.Arch, "unknown arch") + ")"
}

func fallback(v, d string) string {
	if strings.TrimSpace(v) == "" {
		return d
	}
	return v
}
