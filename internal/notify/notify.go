// Package notify prints operator-facing status lines and configures the
// structured step logger.
package notify

import (
	"fmt"
	"io"
	"os"
	"strings"

	fcolor "github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

type MessageType int

const (
	ErrorType MessageType = iota
	WarningType
	ActivityType
	SuccessType
	InfoType
	TitleType
)

type style struct {
	symbol string
	color  *fcolor.Color
}

func styleFor(t MessageType) style {
	switch t {
	case ErrorType:
		return style{"✗ ", fcolor.New(fcolor.FgRed)}
	case WarningType:
		return style{"⚠ ", fcolor.New(fcolor.FgYellow)}
	case ActivityType:
		return style{"► ", fcolor.New(fcolor.Reset)}
	case SuccessType:
		return style{"✔ ", fcolor.New(fcolor.FgGreen)}
	case InfoType:
		return style{"ℹ ", fcolor.New(fcolor.FgBlue)}
	case TitleType:
		return style{"", fcolor.New(fcolor.Reset, fcolor.Bold)}
	default:
		return style{"", fcolor.New(fcolor.Reset)}
	}
}

// Write prints one message. A nil writer means stdout. Continuation lines
// are indented under the symbol.
func Write(w io.Writer, t MessageType, format string, args ...any) {
	if w == nil {
		w = os.Stdout
	}
	content := format
	if len(args) > 0 {
		content = fmt.Sprintf(format, args...)
	}
	s := styleFor(t)
	content = indent(content, s.symbol)
	if _, err := s.color.Fprintf(w, "%s%s\n", s.symbol, content); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "notify: failed to print message: %v\n", err)
	}
}

func Errorf(w io.Writer, format string, args ...any)    { Write(w, ErrorType, format, args...) }
func Warningf(w io.Writer, format string, args ...any)  { Write(w, WarningType, format, args...) }
func Activityf(w io.Writer, format string, args ...any) { Write(w, ActivityType, format, args...) }
func Successf(w io.Writer, format string, args ...any)  { Write(w, SuccessType, format, args...) }
func Infof(w io.Writer, format string, args ...any)     { Write(w, InfoType, format, args...) }
func Titlef(w io.Writer, format string, args ...any)    { Write(w, TitleType, format, args...) }

func indent(content, symbol string) string {
	if symbol == "" || !strings.Contains(content, "\n") {
		return content
	}
	pad := strings.Repeat(" ", len([]rune(symbol)))
	lines := strings.Split(content, "\n")
	for i := 1; i < len(lines); i++ {
		if lines[i] != "" {
			lines[i] = pad + lines[i]
		}
	}
	return strings.Join(lines, "\n")
}

// DisableColor turns off ANSI colors for every writer.
func DisableColor() { fcolor.NoColor = true }

// NewLogger returns a text logger writing to w at the named level.
func NewLogger(w io.Writer, level string, noColor bool) (*logrus.Logger, error) {
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(lvl)
	l.SetFormatter(&logrus.TextFormatter{
		DisableColors:    noColor,
		DisableTimestamp: true,
	})
	return l, nil
}
