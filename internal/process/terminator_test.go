package process

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHandle exits when killed unless stubborn is set.
type fakeHandle struct {
	pid      int
	stubborn bool
	killErr  error
	kills    atomic.Int32
	once     sync.Once
	done     chan struct{}
}

func newFakeHandle(pid int) *fakeHandle { return &fakeHandle{pid: pid, done: make(chan struct{})} }

func (f *fakeHandle) PID() int              { return f.pid }
func (f *fakeHandle) StartedAt() time.Time  { return time.Time{} }
func (f *fakeHandle) Done() <-chan struct{} { return f.done }
func (f *fakeHandle) Wait() error           { <-f.done; return nil }
func (f *fakeHandle) exit()                 { f.once.Do(func() { close(f.done) }) }

func (f *fakeHandle) Exited() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *fakeHandle) Kill() error {
	f.kills.Add(1)
	if f.killErr != nil {
		return f.killErr
	}
	if !f.stubborn {
		f.exit()
	}
	return nil
}

func TestParseStrategy(t *testing.T) {
	for in, want := range map[string]Strategy{"": StrategyAuto, "AUTO": StrategyAuto, "tree": StrategyTree, " direct ": StrategyDirect} {
		got, err := ParseStrategy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseStrategy("nuke")
	assert.Error(t, err)
}

func TestNewTerminator_AutoSelectsPerPlatform(t *testing.T) {
	assert.Equal(t, "tree", NewTerminator(StrategyAuto, "windows", 0).Name())
	assert.Equal(t, "direct", NewTerminator(StrategyAuto, "linux", 0).Name())
	assert.Equal(t, "direct", NewTerminator(StrategyAuto, "darwin", 0).Name())
	assert.Equal(t, "tree", NewTerminator(StrategyTree, "linux", 0).Name())
	assert.Equal(t, "direct", NewTerminator(StrategyDirect, "windows", 0).Name())
}

func TestDirectTerminator(t *testing.T) {
	h := newFakeHandle(100)
	require.NoError(t, DirectTerminator{ReapTimeout: time.Second}.Terminate(h))
	assert.True(t, h.Exited())
	assert.EqualValues(t, 1, h.kills.Load())

	// already exited: nothing to do
	require.NoError(t, DirectTerminator{}.Terminate(h))
	assert.EqualValues(t, 1, h.kills.Load())
}

func TestDirectTerminator_KillError(t *testing.T) {
	h := newFakeHandle(101)
	h.killErr = errors.New("permission denied")
	err := DirectTerminator{ReapTimeout: time.Second}.Terminate(h)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kill pid 101")
}

func TestDirectTerminator_ReapTimeout(t *testing.T) {
	h := newFakeHandle(102)
	h.stubborn = true
	err := DirectTerminator{ReapTimeout: 30 * time.Millisecond}.Terminate(h)
	assert.ErrorIs(t, err, ErrReapTimeout)
}

func TestTreeTerminator_WaitsForTreeKill(t *testing.T) {
	h := newFakeHandle(200)
	var killed int
	term := TreeTerminator{
		ReapTimeout: time.Second,
		KillTree: func(pid int) error {
			killed = pid
			h.exit()
			return nil
		},
	}
	require.NoError(t, term.Terminate(h))
	assert.Equal(t, 200, killed)
	assert.EqualValues(t, 0, h.kills.Load())
}

func TestTreeTerminator_FailureStillKillsRoot(t *testing.T) {
	h := newFakeHandle(201)
	term := TreeTerminator{KillTree: func(int) error { return errors.New("taskkill: access denied") }}
	err := term.Terminate(h)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kill tree of pid 201")
	assert.True(t, h.Exited())
}
