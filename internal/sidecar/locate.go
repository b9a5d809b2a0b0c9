package sidecar

import (
	"os"
	"path/filepath"
	"runtime"
)

// DefaultBinary is the worker executable name without platform extension.
const DefaultBinary = "tagger-server"

// Locator finds the worker executable. Search order: the directory of the
// running executable, then the current working directory.
type Locator struct {
	Binary  string
	GOOS    string
	ExeDir  func() (string, error)
	WorkDir func() (string, error)
}

// NewLocator returns a Locator for binary on the running platform.
func NewLocator(binary string) Locator {
	if binary == "" {
		binary = DefaultBinary
	}
	return Locator{
		Binary: binary,
		GOOS:   runtime.GOOS,
		ExeDir: func() (string, error) {
			exe, err := os.Executable()
			if err != nil {
				return "", err
			}
			return filepath.Dir(exe), nil
		},
		WorkDir: os.Getwd,
	}
}

// FileName is the platform-specific executable name.
func (l Locator) FileName() string {
	if l.GOOS == "windows" && filepath.Ext(l.Binary) != ".exe" {
		return l.Binary + ".exe"
	}
	return l.Binary
}

// Candidates lists the candidate paths in priority order. A candidate whose
// directory cannot be determined is skipped.
func (l Locator) Candidates() []string {
	var out []string
	for _, dir := range []func() (string, error){l.ExeDir, l.WorkDir} {
		if dir == nil {
			continue
		}
		d, err := dir()
		if err != nil || d == "" {
			continue
		}
		out = append(out, filepath.Join(d, l.FileName()))
	}
	return out
}

// Locate returns the first candidate that exists as a regular file.
func (l Locator) Locate() (string, bool) {
	for _, p := range l.Candidates() {
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p, true
		}
	}
	return "", false
}
