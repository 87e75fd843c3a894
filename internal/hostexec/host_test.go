package hostexec

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuote(t *testing.T) {
	cases := map[string]string{
		"plain":      "'plain'",
		"it's":       `'it'"'"'s'`,
		"":           "''",
		"a b; rm -f": "'a b; rm -f'",
	}
	for in, want := range cases {
		if got := Quote(in); got != want {
			t.Fatalf("Quote(%q)=%q want %q", in, got, want)
		}
	}
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "'ufw' 'allow' '1080/tcp'", Join("ufw", "allow", "1080/tcp"))
	assert.Equal(t, "'/opt/it'\"'\"'s dir' '-C' '/tmp'", Join("/opt/it's dir", "-C", "/tmp"))
	assert.Equal(t, "", Join())
}

func TestTail(t *testing.T) {
	assert.Equal(t, "c\nd", Tail("a\nb\nc\nd\n", 2))
	assert.Equal(t, "a\nb", Tail("a\nb", 5))
}

func TestLocalRun(t *testing.T) {
	l := NewLocal()
	out, err := l.Run(context.Background(), "echo hello; echo oops >&2")
	require.NoError(t, err)
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "oops")

	_, err = l.Run(context.Background(), "exit 3")
	require.Error(t, err)
	assert.Equal(t, 3, ExitCode(err))
}

func TestLocalWriteReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "3proxy.cfg")
	l := NewLocal()

	require.NoError(t, l.WriteFile(context.Background(), path, []byte("daemon\n"), 0o600))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := l.ReadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "daemon\n", string(got))
}

func TestMustRunWrapsOutput(t *testing.T) {
	l := NewLocal()
	_, err := MustRun(context.Background(), l, "echo broken build; exit 2")
	require.Error(t, err)

	var ce *CommandError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, ce.Error(), "broken build")
	assert.Equal(t, 2, ExitCode(err))
}

func TestCommandExists(t *testing.T) {
	l := NewLocal()
	assert.True(t, CommandExists(context.Background(), l, "bash"))
	assert.False(t, CommandExists(context.Background(), l, "definitely-not-a-real-binary-xyz"))
}

type recordingFile struct {
	ops    []string
	data   []byte
	failOn string
	closed bool
}

func (f *recordingFile) Chmod(mode os.FileMode) error {
	f.ops = append(f.ops, "chmod "+mode.String())
	if f.failOn == "chmod" {
		return errors.New("permission denied")
	}
	return nil
}

func (f *recordingFile) Write(p []byte) (int, error) {
	f.ops = append(f.ops, "write")
	if f.failOn == "write" {
		return 0, io.ErrShortWrite
	}
	f.data = append(f.data, p...)
	return len(p), nil
}

func (f *recordingFile) Close() error {
	f.closed = true
	return nil
}

func TestWriteWithModeRestrictsBeforeWriting(t *testing.T) {
	f := &recordingFile{}
	require.NoError(t, WriteWithMode(f, []byte("users u:CL:secret\n"), 0o600))
	assert.Equal(t, []string{"chmod -rw-------", "write"}, f.ops)
	assert.Equal(t, "users u:CL:secret\n", string(f.data))
	assert.True(t, f.closed)

	f = &recordingFile{failOn: "chmod"}
	require.Error(t, WriteWithMode(f, []byte("secret"), 0o600))
	assert.Empty(t, f.data, "nothing is written when chmod fails")
	assert.True(t, f.closed)
}

func TestLocalWriteFileTightensExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "3proxy.cfg")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	require.NoError(t, NewLocal().WriteFile(context.Background(), path, []byte("new"), 0o600))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}
