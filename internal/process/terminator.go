package process

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Strategy names a termination strategy.
type Strategy string

const (
	StrategyAuto   Strategy = "auto"
	StrategyTree   Strategy = "tree"
	StrategyDirect Strategy = "direct"
)

// ErrReapTimeout is returned when a killed process was not observed to exit
// within the terminator's reap timeout.
var ErrReapTimeout = errors.New("process did not exit within reap timeout")

// ParseStrategy validates a configured strategy name. Empty means auto.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyAuto:
		return StrategyAuto, nil
	case StrategyTree:
		return StrategyTree, nil
	case StrategyDirect:
		return StrategyDirect, nil
	default:
		return "", fmt.Errorf("unknown termination strategy %q, must be one of: auto, tree, direct", s)
	}
}

// Terminator forcefully ends a Handle and waits for it to be gone.
type Terminator interface {
	Name() string
	Terminate(h Handle) error
}

// NewTerminator resolves strategy for the given GOOS. Auto picks the tree
// terminator on windows, where killing a parent leaves its children running,
// and the direct one elsewhere.
func NewTerminator(strategy Strategy, goos string, reapTimeout time.Duration) Terminator {
	if strategy == StrategyAuto || strategy == "" {
		if goos == "windows" {
			strategy = StrategyTree
		} else {
			strategy = StrategyDirect
		}
	}
	if strategy == StrategyTree {
		return TreeTerminator{ReapTimeout: reapTimeout}
	}
	return DirectTerminator{ReapTimeout: reapTimeout}
}

// DefaultTerminator is NewTerminator(auto) for the running platform.
func DefaultTerminator(reapTimeout time.Duration) Terminator {
	return NewTerminator(StrategyAuto, runtime.GOOS, reapTimeout)
}

// DirectTerminator kills the process itself (its process group on Unix).
type DirectTerminator struct {
	// ReapTimeout bounds the wait for exit after the kill; zero waits forever.
	ReapTimeout time.Duration
}

func (DirectTerminator) Name() string { return string(StrategyDirect) }

func (t DirectTerminator) Terminate(h Handle) error {
	if h.Exited() {
		return nil
	}
	if err := h.Kill(); err != nil {
		return fmt.Errorf("kill pid %d: %w", h.PID(), err)
	}
	return awaitExit(h, t.ReapTimeout)
}

// TreeTerminator kills the process and every descendant, and does not return
// until the kill request itself has completed.
type TreeTerminator struct {
	ReapTimeout time.Duration
	// KillTree overrides the platform tree kill; used by tests.
	KillTree func(pid int) error
}

func (TreeTerminator) Name() string { return string(StrategyTree) }

func (t TreeTerminator) Terminate(h Handle) error {
	if h.Exited() {
		return nil
	}
	kill := t.KillTree
	if kill == nil {
		kill = killTree
	}
	if err := kill(h.PID()); err != nil {
		// The root must not outlive a failed tree kill.
		_ = h.Kill()
		return fmt.Errorf("kill tree of pid %d: %w", h.PID(), err)
	}
	return awaitExit(h, t.ReapTimeout)
}

func awaitExit(h Handle, timeout time.Duration) error {
	if timeout <= 0 {
		<-h.Done()
		return nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-h.Done():
		return nil
	case <-timer.C:
		return fmt.Errorf("pid %d: %w", h.PID(), ErrReapTimeout)
	}
}
