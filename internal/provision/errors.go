package provision

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alfaoz/socksup/internal/config"
)

// Kind classifies why a run aborted.
type Kind string

const (
	KindInvalidArgument     Kind = "InvalidArgument"
	KindUnsupportedPlatform Kind = "UnsupportedPlatform"
	KindPortInUse           Kind = "PortInUse"
	KindDependencyInstall   Kind = "DependencyInstallError"
	KindDownload            Kind = "DownloadError"
	KindBuild               Kind = "BuildError"
	KindConfigWrite         Kind = "ConfigWriteError"
	KindServiceStart        Kind = "ServiceStartError"
)

// Diagnostic is a titled block of host output shown to the operator.
type Diagnostic struct {
	Title  string
	Output string
}

type Error struct {
	Kind        Kind
	Step        string
	Err         error
	Diagnostics []Diagnostic
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Step, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, step string, err error) *Error {
	return &Error{Kind: kind, Step: step, Err: err}
}

func errorf(kind Kind, step, format string, args ...any) *Error {
	return newError(kind, step, fmt.Errorf(format, args...))
}

// KindOf returns the failure kind carried by err, if any.
func KindOf(err error) (Kind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	if errors.Is(err, config.ErrInvalidArgument) {
		return KindInvalidArgument, true
	}
	return "", false
}

// DiagnosticsOf returns diagnostics attached to err.
func DiagnosticsOf(err error) []Diagnostic {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Diagnostics
	}
	return nil
}

func (d Diagnostic) String() string {
	out := strings.TrimRight(d.Output, "\n")
	if out == "" {
		out = "(no output)"
	}
	return "--- " + d.Title + " ---\n" + out
}
