package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PIDMeta is the optional second line of a PID file.
type PIDMeta struct {
	StartUnix int64 `json:"start_unix"`
}

// WritePIDFile records pid and its OS start time at path.
func WritePIDFile(path string, pid int) error {
	if path == "" || pid <= 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	meta, err := json.Marshal(PIDMeta{StartUnix: StartTime(pid)})
	if err != nil {
		return err
	}
	data := strconv.Itoa(pid) + "\n" + string(meta) + "\n"
	return os.WriteFile(path, []byte(data), 0o600)
}

// ReadPIDFile reads a file written by WritePIDFile. Files holding only a PID
// are accepted; their meta is zero.
func ReadPIDFile(path string) (int, PIDMeta, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return 0, PIDMeta{}, err
	}
	pidLine, rest, _ := strings.Cut(strings.ReplaceAll(string(b), "\r\n", "\n"), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(pidLine))
	if err != nil {
		return 0, PIDMeta{}, fmt.Errorf("invalid pid in %s: %w", path, err)
	}
	var meta PIDMeta
	if rest = strings.TrimSpace(rest); rest != "" {
		// unparsable meta is treated as absent
		_ = json.Unmarshal([]byte(rest), &meta)
	}
	return pid, meta, nil
}

// RemovePIDFile best-effort
func RemovePIDFile(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}
