package fetch

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/alfaoz/socksup/internal/version"
)

const (
	maxArchiveBytes = int64(64 << 20) // 64 MiB
	buildMakefile   = "Makefile.Linux"
)

// Archive is a downloaded and checked upstream source tarball.
type Archive struct {
	Version string
	URL     string
	SHA256  string
	// RootDir is the single top-level directory inside the tarball.
	RootDir string
	Data    []byte
}

// Fetcher downloads pinned 3proxy source releases.
type Fetcher struct {
	Client *http.Client
	// BaseURL defaults to https://github.com/3proxy/3proxy/archive/refs/tags.
	BaseURL string
}

func New() *Fetcher {
	return &Fetcher{Client: &http.Client{Timeout: 120 * time.Second}}
}

// IntegrityError reports a checksum mismatch; it is never worth retrying.
type IntegrityError struct {
	msg string
}

func (e *IntegrityError) Error() string { return e.msg }

// NormalizeVersion validates a release tag and strips a leading "v".
func NormalizeVersion(raw string) (string, error) {
	v := strings.TrimPrefix(strings.TrimSpace(raw), "v")
	if v == "" {
		return "", errors.New("daemon version is empty")
	}
	if _, err := semver.NewVersion(v); err != nil {
		return "", fmt.Errorf("invalid daemon version %q: %w", raw, err)
	}
	return v, nil
}

func (f *Fetcher) ArchiveURL(v string) string {
	base := strings.TrimRight(strings.TrimSpace(f.BaseURL), "/")
	if base == "" {
		base = fmt.Sprintf("https://github.com/%s/archive/refs/tags", version.DaemonRepo)
	}
	return fmt.Sprintf("%s/%s.tar.gz", base, v)
}

// Download fetches the source archive for rawVersion. When wantSHA256 is
// set the archive must match it.
func (f *Fetcher) Download(ctx context.Context, rawVersion, wantSHA256 string) (Archive, error) {
	v, err := NormalizeVersion(rawVersion)
	if err != nil {
		return Archive{}, err
	}
	url := f.ArchiveURL(v)

	data, err := f.downloadBytes(ctx, url, maxArchiveBytes)
	if err != nil {
		return Archive{}, fmt.Errorf("download %s: %w", url, err)
	}

	sum := sha256.Sum256(data)
	got := hex.EncodeToString(sum[:])
	if want := strings.TrimSpace(wantSHA256); want != "" && !strings.EqualFold(want, got) {
		return Archive{}, &IntegrityError{msg: fmt.Sprintf("checksum mismatch for %s: want %s got %s", url, want, got)}
	}

	root, err := inspectArchive(bytes.NewReader(data))
	if err != nil {
		return Archive{}, fmt.Errorf("inspect %s: %w", url, err)
	}

	return Archive{Version: v, URL: url, SHA256: got, RootDir: root, Data: data}, nil
}

func (f *Fetcher) downloadBytes(ctx context.Context, url string, maxBytes int64) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("status %s %s", resp.Status, strings.TrimSpace(string(b)))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("download exceeded max size (%d bytes)", maxBytes)
	}
	return data, nil
}

// inspectArchive checks the tarball has one root directory holding the
// Linux makefile and returns that directory's name.
func inspectArchive(r io.Reader) (string, error) {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return "", err
	}
	defer gr.Close()
	tr := tar.NewReader(gr)

	root := ""
	hasMakefile := false
	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		if h.Typeflag == tar.TypeXGlobalHeader {
			continue
		}
		name := path.Clean(strings.TrimPrefix(h.Name, "./"))
		if strings.HasPrefix(name, "..") || path.IsAbs(name) {
			return "", fmt.Errorf("unsafe path in archive: %q", h.Name)
		}
		top, rest, _ := strings.Cut(name, "/")
		if root == "" {
			root = top
		} else if top != root {
			return "", fmt.Errorf("archive has more than one top-level entry (%q, %q)", root, top)
		}
		if rest == buildMakefile {
			hasMakefile = true
		}
	}
	if root == "" {
		return "", errors.New("archive is empty")
	}
	if !hasMakefile {
		return "", fmt.Errorf("%s not found in archive", buildMakefile)
	}
	return root, nil
}
