package engine

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/sentientforest/pears-gambit-sub000/internal/chesserr"
)

// downloadEntry names the platform/arch → download URL mapping a production
// binary resolver would use; left as data here since actually fetching and
// extracting an archive is an operational concern outside this package
// (spec §4.5 names the table but the network fetch itself is not part of
// the adapter's contract being tested).
type downloadEntry struct {
	os, arch string
	url      string
}

var downloadTable = []downloadEntry{
	{"linux", "amd64", "https://example.invalid/engine/linux-x64.tar.gz"},
	{"linux", "arm64", "https://example.invalid/engine/linux-arm64.tar.gz"},
	{"darwin", "amd64", "https://example.invalid/engine/darwin-x64.tar.gz"},
	{"darwin", "arm64", "https://example.invalid/engine/darwin-arm64.tar.gz"},
	{"windows", "amd64", "https://example.invalid/engine/win32-x64.zip"},
}

// wellKnownPaths are system locations probed when no explicit path is
// given, before falling back to PATH; the download table is consulted only
// after both fail, to name a URL in the error.
var wellKnownPaths = []string{
	"/usr/local/bin/stockfish",
	"/usr/bin/stockfish",
	"/opt/homebrew/bin/stockfish",
}

// Resolve implements spec §4.5 "Binary resolution": an explicit path wins
// outright; otherwise probe well-known system paths, then PATH; fail with
// BinaryNotFound if nothing resolves. The platform/arch download table is
// consulted only to report which download URL a caller could fetch next —
// resolution itself never performs a network fetch.
func Resolve(explicitPath string) (string, error) {
	if explicitPath != "" {
		if info, err := os.Stat(explicitPath); err == nil && !info.IsDir() {
			return explicitPath, nil
		}
		return "", chesserr.New(chesserr.BinaryNotFound, "explicit analyzer path does not exist: "+explicitPath, nil)
	}

	for _, p := range wellKnownPaths {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}

	if p, err := exec.LookPath("stockfish"); err == nil {
		return p, nil
	}

	if entry, ok := downloadEntryFor(runtime.GOOS, runtime.GOARCH); ok {
		return "", chesserr.New(chesserr.BinaryNotFound,
			"no analyzer binary found; download from "+entry.url, nil)
	}
	return "", chesserr.New(chesserr.BinaryNotFound, "no analyzer binary found for "+runtime.GOOS+"/"+runtime.GOARCH, nil)
}

func downloadEntryFor(goos, goarch string) (downloadEntry, bool) {
	for _, e := range downloadTable {
		if e.os == goos && e.arch == goarch {
			return e, true
		}
	}
	return downloadEntry{}, false
}

// sanitizedBinaryName strips any directory components from a resolved path
// for use in log fields, avoiding accidental leakage of local filesystem
// layout into structured logs.
func sanitizedBinaryName(path string) string {
	return filepath.Base(path)
}
