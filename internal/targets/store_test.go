package targets

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStoreSaveLoad(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	saved, err := store.Save(Target{
		Name:             "Prod VPS",
		Host:             " 203.0.113.10 ",
		SSHPort:          2222,
		SSHUser:          "admin",
		SocksPort:        50595,
		NoFirewallChange: true,
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if saved.Name != "prod-vps" {
		t.Fatalf("expected sanitized name, got %q", saved.Name)
	}

	info, err := os.Stat(filepath.Join(dir, "prod-vps.target"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected mode 0600, got %v", info.Mode().Perm())
	}
	content, _ := os.ReadFile(filepath.Join(dir, "prod-vps.target"))
	for _, key := range []string{"HOST=203.0.113.10", "SSH_PORT=2222", "SSH_USER=admin", "SOCKS_PORT=50595", "NO_FIREWALL_CHANGE=1"} {
		if !strings.Contains(string(content), key+"\n") {
			t.Fatalf("expected %q in file:\n%s", key, content)
		}
	}

	loaded, err := store.Load("PROD vps")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded != saved {
		t.Fatalf("loaded %+v, saved %+v", loaded, saved)
	}
}

func TestStoreLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bare.target"), []byte("# hand written\nHOST=\"198.51.100.4\"\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	loaded, err := store.Load("bare")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Host != "198.51.100.4" || loaded.SSHPort != 22 || loaded.SSHUser != "root" {
		t.Fatalf("unexpected defaults: %+v", loaded)
	}
	if loaded.SocksPort != 0 || loaded.NoFirewallChange {
		t.Fatalf("unexpected install defaults: %+v", loaded)
	}
}

func TestStoreLoadErrors(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	if _, err := store.Load("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Load("!!!"); err == nil {
		t.Fatalf("expected invalid name error")
	}
	if err := os.WriteFile(filepath.Join(dir, "nohost.target"), []byte("SSH_USER=root\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := store.Load("nohost"); err == nil || !strings.Contains(err.Error(), "missing HOST") {
		t.Fatalf("expected missing HOST error, got %v", err)
	}
	if _, err := store.Save(Target{Name: "x"}); err == nil {
		t.Fatalf("expected host required error")
	}
}

func TestStoreListAndDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	for _, name := range []string{"beta", "alpha"} {
		if _, err := store.Save(Target{Name: name, Host: "127.0.0.1"}); err != nil {
			t.Fatalf("Save %s: %v", name, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	names, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if strings.Join(names, ",") != "alpha,beta" {
		t.Fatalf("unexpected list: %v", names)
	}

	if err := store.Delete("alpha"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete("alpha"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "alpha.target")); !os.IsNotExist(err) {
		t.Fatalf("expected file deleted, stat err=%v", err)
	}
}

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"Prod VPS":      "prod-vps",
		"  edge--01  ":  "edge-01",
		"eu/west#1":     "eu-west-1",
		"../etc/passwd": "etc-passwd",
		"!!!":           "",
		"a.b_c":         "a.b_c",
	}
	for in, want := range cases {
		if got := SanitizeName(in); got != want {
			t.Fatalf("SanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStoreLoadIgnoresBadPorts(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	raw := "HOST=198.51.100.4\nSSH_PORT=ssh\nSOCKS_PORT=-1\n"
	if err := os.WriteFile(filepath.Join(dir, "edge.target"), []byte(raw), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := store.Load("edge")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.SSHPort != 22 || got.SocksPort != 0 {
		t.Fatalf("expected ssh port 22 and no socks port, got %+v", got)
	}
}
