// Package detector decides whether a recorded worker process is still the
// one this application started.
package detector

import (
	"fmt"

	"github.com/loykin/naidesk/internal/process"
)

// Detector is a strategy that determines if a process is running.
// It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the process is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}

// PIDDetector detects by a PID number. When StartUnix is set, a live process
// whose start time differs is treated as a PID reuse and reported dead.
type PIDDetector struct {
	PID       int
	StartUnix int64
}

func (d PIDDetector) Alive() (bool, error) {
	if !process.Exists(d.PID) {
		return false, nil
	}
	if d.StartUnix > 0 {
		if cur := process.StartTime(d.PID); cur > 0 && cur != d.StartUnix {
			return false, nil
		}
	}
	return true, nil
}

func (d PIDDetector) Describe() string { return fmt.Sprintf("pid:%d", d.PID) }

// PIDFileDetector detects a process via a PID file written by process.WritePIDFile.
type PIDFileDetector struct {
	PIDFile string
}

// Resolve reads the PID file. A missing file yields a zero PID and no error.
func (d PIDFileDetector) Resolve() (PIDDetector, error) {
	pid, meta, err := process.ReadPIDFile(d.PIDFile)
	if err != nil {
		if isNotExist(err) {
			return PIDDetector{}, nil
		}
		return PIDDetector{}, err
	}
	return PIDDetector{PID: pid, StartUnix: meta.StartUnix}, nil
}

func (d PIDFileDetector) Alive() (bool, error) {
	pd, err := d.Resolve()
	if err != nil || pd.PID == 0 {
		return false, err
	}
	return pd.Alive()
}

func (d PIDFileDetector) Describe() string { return "pidfile:" + d.PIDFile }
