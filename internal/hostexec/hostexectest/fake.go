// Package hostexectest provides a scripted in-memory Host for tests.
package hostexectest

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
)

// ExitError mimics a non-zero exit from a host command.
type ExitError int

func (e ExitError) Error() string   { return fmt.Sprintf("exit status %d", int(e)) }
func (e ExitError) ExitStatus() int { return int(e) }

type response struct {
	match  string
	output string
	err    error
	times  int
}

type File struct {
	Content []byte
	Mode    os.FileMode
}

// Fake answers commands from rules registered with On; the first rule
// whose match is a substring of the command wins. Unmatched commands
// succeed with no output.
type Fake struct {
	mu        sync.Mutex
	responses []*response
	Commands  []string
	Files     map[string]File
	Writes    []string
	WriteErr  map[string]error
	DialFn    func(network, addr string) (net.Conn, error)
	HostName  string
}

func New() *Fake {
	return &Fake{Files: map[string]File{}, WriteErr: map[string]error{}, HostName: "fake-host"}
}

// On registers a rule answering every matching command.
func (f *Fake) On(match, output string, err error) *Fake {
	return f.OnTimes(match, 0, output, err)
}

// OnTimes registers a rule used for the next n matches only (0 = always).
func (f *Fake) OnTimes(match string, n int, output string, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, &response{match: match, output: output, err: err, times: n})
	return f
}

// Fail makes matching commands exit with code.
func (f *Fake) Fail(match string, code int, output string) *Fake {
	return f.On(match, output, ExitError(code))
}

func (f *Fake) Run(ctx context.Context, command string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Commands = append(f.Commands, command)
	for _, r := range f.responses {
		if r.times < 0 || !strings.Contains(command, r.match) {
			continue
		}
		if r.times > 0 {
			r.times--
			if r.times == 0 {
				r.times = -1
			}
		}
		return r.output, r.err
	}
	return "", nil
}

func (f *Fake) WriteFile(_ context.Context, path string, content []byte, mode os.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.WriteErr[path]; err != nil {
		return err
	}
	f.Files[path] = File{Content: append([]byte(nil), content...), Mode: mode}
	f.Writes = append(f.Writes, path)
	return nil
}

func (f *Fake) ReadFile(_ context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.Files[path]
	if !ok {
		return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrNotExist}
	}
	return file.Content, nil
}

func (f *Fake) Dial(network, addr string) (net.Conn, error) {
	if f.DialFn != nil {
		return f.DialFn(network, addr)
	}
	return nil, fmt.Errorf("dial %s: not supported by fake host", addr)
}

func (f *Fake) Name() string  { return f.HostName }
func (f *Fake) Close() error { return nil }

// Ran reports whether any executed command contains substr.
func (f *Fake) Ran(substr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.Commands {
		if strings.Contains(c, substr) {
			return true
		}
	}
	return false
}

// Wrote reports whether path was written.
func (f *Fake) Wrote(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.Writes {
		if w == path {
			return true
		}
	}
	return false
}
