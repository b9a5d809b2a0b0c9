//go:build !windows

package sidecar

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/naidesk/internal/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeWorker installs a stand-in tagger-server that just sleeps.
func writeWorker(t *testing.T, dir string) {
	t.Helper()
	script := "#!/bin/sh\nexec sleep 30\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tagger-server"), []byte(script), 0o755))
}

func TestSupervisor_RealWorker(t *testing.T) {
	exeDir := t.TempDir()
	writeWorker(t, exeDir)
	pidFile := filepath.Join(t.TempDir(), "tagger.pid")

	for _, term := range []process.Terminator{
		process.DirectTerminator{ReapTimeout: 2 * time.Second},
		process.TreeTerminator{ReapTimeout: 2 * time.Second},
	} {
		t.Run(term.Name(), func(t *testing.T) {
			s := New(Config{PIDFile: pidFile},
				WithLocator(testLocator(exeDir, t.TempDir())),
				WithTerminator(term))
			require.NoError(t, s.Start())
			st := s.Status()
			require.True(t, st.Running)
			assert.True(t, process.Exists(st.PID))
			assert.FileExists(t, pidFile)

			require.NoError(t, s.Start())
			assert.Equal(t, st.PID, s.Status().PID, "second start must not spawn")

			require.NoError(t, s.Terminate())
			assert.False(t, process.Exists(st.PID))
			assert.NoFileExists(t, pidFile)
		})
	}
}

func TestReapStale_KillsRecordedWorker(t *testing.T) {
	// #nosec G204
	orphan := exec.Command("/bin/sh", "-c", "exec sleep 30")
	require.NoError(t, orphan.Start())
	reaped := make(chan struct{})
	go func() { _ = orphan.Wait(); close(reaped) }()
	t.Cleanup(func() { _ = orphan.Process.Kill() })

	pidFile := filepath.Join(t.TempDir(), "tagger.pid")
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, process.WritePIDFile(pidFile, orphan.Process.Pid))

	s := New(Config{PIDFile: pidFile},
		WithLocator(testLocator(t.TempDir(), t.TempDir())),
		WithTerminator(process.DirectTerminator{ReapTimeout: 2 * time.Second}))
	require.NoError(t, s.ReapStale())

	select {
	case <-reaped:
	case <-time.After(2 * time.Second):
		t.Fatal("stale worker still running")
	}
	assert.NoFileExists(t, pidFile)
}

func TestReapStale_DeadPIDOnlyCleansFile(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "tagger.pid")
	require.NoError(t, os.WriteFile(pidFile, []byte("999999\n"), 0o600))

	s := New(Config{PIDFile: pidFile}, WithLocator(testLocator(t.TempDir(), t.TempDir())))
	require.NoError(t, s.ReapStale())
	assert.NoFileExists(t, pidFile)
}

func TestReapStale_NoPIDFileConfigured(t *testing.T) {
	s := New(Config{}, WithLocator(testLocator(t.TempDir(), t.TempDir())))
	assert.NoError(t, s.ReapStale())
}
