//go:build windows

package process

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// killTree runs taskkill against the whole tree and waits for it to finish.
// Fire-and-forget is not enough: the host may exit before taskkill has run.
func killTree(pid int) error {
	// #nosec G204 -- fixed program, numeric argument
	cmd := exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(pid))
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true, CreationFlags: CREATE_NO_WINDOW}
	out, err := cmd.CombinedOutput()
	if err != nil {
		if !Exists(pid) {
			return nil
		}
		return fmt.Errorf("taskkill: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
