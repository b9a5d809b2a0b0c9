//go:build windows

package process

import (
	"syscall"
	"unsafe"
)

var (
	kernel32             = syscall.NewLazyDLL("kernel32.dll")
	procTerminateProcess = kernel32.NewProc("TerminateProcess")
	procGetExitCodeProc  = kernel32.NewProc("GetExitCodeProcess")
)

const (
	PROCESS_TERMINATE                 = 0x0001
	PROCESS_QUERY_LIMITED_INFORMATION = 0x1000
	STILL_ACTIVE                      = 259
)

// killGroup terminates the process by pid. Windows has no process groups in
// the Unix sense; descendants are handled by the tree terminator.
func killGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	handle, err := syscall.OpenProcess(PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		// Can't open it: it most likely exited already.
		return nil
	}
	defer syscall.CloseHandle(handle)

	ret, _, err := procTerminateProcess.Call(uintptr(handle), uintptr(1))
	if ret == 0 {
		return err
	}
	return nil
}

// Exists reports whether a process with the given pid is still running.
func Exists(pid int) bool {
	if pid <= 0 {
		return false
	}
	handle, err := syscall.OpenProcess(PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer syscall.CloseHandle(handle)

	var code uint32
	ret, _, _ := procGetExitCodeProc.Call(uintptr(handle), uintptr(unsafe.Pointer(&code)))
	if ret == 0 {
		return true
	}
	return code == STILL_ACTIVE
}
