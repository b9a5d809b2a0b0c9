//go:build windows

package process

import (
	"syscall"
	"unsafe"
)

var procGetProcessTimes = kernel32.NewProc("GetProcessTimes")

// StartTime returns the process creation time as Unix seconds, or 0 on error.
func StartTime(pid int) int64 {
	if pid <= 0 {
		return 0
	}
	h, err := syscall.OpenProcess(syscall.PROCESS_QUERY_INFORMATION, false, uint32(pid))
	if err != nil {
		return 0
	}
	defer syscall.CloseHandle(h)

	var creation, exit, kernel, user syscall.Filetime
	ret, _, _ := procGetProcessTimes.Call(uintptr(h), uintptr(unsafe.Pointer(&creation)), uintptr(unsafe.Pointer(&exit)), uintptr(unsafe.Pointer(&kernel)), uintptr(unsafe.Pointer(&user)))
	if ret == 0 {
		return 0
	}
	// Filetime.Nanoseconds already rebases from 1601 to the Unix epoch.
	return creation.Nanoseconds() / 1e9
}
