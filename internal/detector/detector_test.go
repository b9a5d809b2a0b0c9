package detector

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/loykin/naidesk/internal/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("unix-only test")
	}
}

func startSleep(t *testing.T) *exec.Cmd {
	t.Helper()
	// #nosec G204
	cmd := exec.Command("/bin/sh", "-c", "sleep 5")
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})
	return cmd
}

func TestPIDDetector_Self(t *testing.T) {
	ok, err := PIDDetector{PID: os.Getpid()}.Alive()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, fmt.Sprintf("pid:%d", os.Getpid()), PIDDetector{PID: os.Getpid()}.Describe())

	ok, _ = PIDDetector{PID: 0}.Alive()
	assert.False(t, ok)
}

func TestPIDFileDetector_MissingFile(t *testing.T) {
	d := PIDFileDetector{PIDFile: filepath.Join(t.TempDir(), "none.pid")}
	ok, err := d.Alive()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, d.Describe(), "pidfile:")
}

func TestPIDFileDetector_MetaMatches(t *testing.T) {
	requireUnix(t)
	cmd := startSleep(t)
	time.Sleep(20 * time.Millisecond)
	if process.StartTime(cmd.Process.Pid) == 0 {
		t.Skip("process start time unavailable on this platform")
	}
	path := filepath.Join(t.TempDir(), "tagger.pid")
	require.NoError(t, process.WritePIDFile(path, cmd.Process.Pid))

	ok, err := PIDFileDetector{PIDFile: path}.Alive()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPIDFileDetector_PIDReuseIsDead(t *testing.T) {
	requireUnix(t)
	cmd := startSleep(t)
	time.Sleep(20 * time.Millisecond)
	start := process.StartTime(cmd.Process.Pid)
	if start == 0 {
		t.Skip("process start time unavailable on this platform")
	}
	path := filepath.Join(t.TempDir(), "tagger.pid")
	data := fmt.Sprintf("%d\n{\"start_unix\":%d}\n", cmd.Process.Pid, start-3600)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	ok, err := PIDFileDetector{PIDFile: path}.Alive()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPIDFileDetector_Garbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0o600))
	_, err := PIDFileDetector{PIDFile: path}.Alive()
	assert.Error(t, err)
}
