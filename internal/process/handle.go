package process

import (
	"errors"
	"io"
	"os"
	"sync"
	"time"
)

// Handle is a live (or recently live) child process.
// Implementations must be safe for concurrent use.
type Handle interface {
	PID() int
	// Kill forcefully terminates the process. Killing an exited process is a no-op.
	Kill() error
	// Wait blocks until the process has exited and returns its exit error.
	Wait() error
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	Exited() bool
	StartedAt() time.Time
}

// Child is a Handle for a process spawned by this package. A single reaper
// goroutine owns cmd.Wait; every other waiter blocks on Done.
type Child struct {
	name      string
	pid       int
	startedAt time.Time
	done      chan struct{}

	mu      sync.Mutex
	exitErr error
	closers []io.Closer
}

// Spawn starts spec and returns its Child handle.
func Spawn(spec Spec) (*Child, error) {
	if spec.Path == "" {
		return nil, errors.New("process: empty executable path")
	}
	cmd := spec.BuildCommand()

	var closers []io.Closer
	if spec.Log.Enabled() {
		outW, errW, err := spec.Log.Writers(spec.Name)
		if err != nil {
			return nil, err
		}
		if outW != nil {
			cmd.Stdout = outW
			closers = append(closers, outW)
		}
		if errW != nil {
			cmd.Stderr = errW
			closers = append(closers, errW)
		}
	}
	// Without capture the child would share the host's stdio, which a GUI host
	// may not have. Discard instead.
	if cmd.Stdout == nil || cmd.Stderr == nil {
		null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		if err == nil {
			if cmd.Stdout == nil {
				cmd.Stdout = null
			}
			if cmd.Stderr == nil {
				cmd.Stderr = null
			}
			closers = append(closers, null)
		}
	}

	if err := cmd.Start(); err != nil {
		closeAll(closers)
		return nil, err
	}
	c := &Child{
		name:      spec.Name,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		done:      make(chan struct{}),
		closers:   closers,
	}
	go func() {
		err := cmd.Wait()
		c.mu.Lock()
		c.exitErr = err
		cs := c.closers
		c.closers = nil
		c.mu.Unlock()
		closeAll(cs)
		close(c.done)
	}()
	return c, nil
}

func (c *Child) Name() string          { return c.name }
func (c *Child) PID() int              { return c.pid }
func (c *Child) StartedAt() time.Time  { return c.startedAt }
func (c *Child) Done() <-chan struct{} { return c.done }

func (c *Child) Exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Child) Kill() error {
	if c.Exited() {
		return nil
	}
	return killGroup(c.pid)
}

func (c *Child) Wait() error {
	<-c.done
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitErr
}

func closeAll(cs []io.Closer) {
	for _, c := range cs {
		_ = c.Close()
	}
}

// attached is a Handle for a process this host did not spawn, e.g. a worker
// left behind by a previous run. Exit is detected by polling.
type attached struct {
	pid       int
	startedAt time.Time
	once      sync.Once
	done      chan struct{}
}

// pollInterval is how often an attached process is polled for exit.
const pollInterval = 20 * time.Millisecond

// Attach returns a Handle for an existing process identified by pid.
func Attach(pid int, startedAt time.Time) Handle {
	a := &attached{pid: pid, startedAt: startedAt, done: make(chan struct{})}
	go a.poll()
	return a
}

func (a *attached) poll() {
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		if !Exists(a.pid) {
			a.once.Do(func() { close(a.done) })
			return
		}
		<-t.C
	}
}

func (a *attached) PID() int              { return a.pid }
func (a *attached) StartedAt() time.Time  { return a.startedAt }
func (a *attached) Done() <-chan struct{} { return a.done }
func (a *attached) Kill() error           { return killGroup(a.pid) }
func (a *attached) Wait() error           { <-a.done; return nil }

func (a *attached) Exited() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}
