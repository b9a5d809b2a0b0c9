//go:build !windows

package process

import (
	"errors"
	"syscall"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// killTree kills every descendant of pid, deepest first, then pid's group.
// Descendants are collected before any kill so that none get reparented to
// init mid-walk.
func killTree(pid int) error {
	root, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		if errors.Is(err, gopsproc.ErrorProcessNotRunning) {
			return nil
		}
		return err
	}
	var errs []error
	desc := descendants(root)
	for i := len(desc) - 1; i >= 0; i-- {
		if err := desc[i].Kill(); err != nil && !isGone(err) {
			errs = append(errs, err)
		}
	}
	if err := killGroup(pid); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// descendants returns the process subtree below p in breadth-first order.
func descendants(p *gopsproc.Process) []*gopsproc.Process {
	var out []*gopsproc.Process
	queue := []*gopsproc.Process{p}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		children, err := cur.Children()
		if err != nil {
			continue // includes ErrorNoChildren
		}
		out = append(out, children...)
		queue = append(queue, children...)
	}
	return out
}

func isGone(err error) bool {
	return errors.Is(err, syscall.ESRCH) || errors.Is(err, gopsproc.ErrorProcessNotRunning)
}
