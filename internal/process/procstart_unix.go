//go:build !windows

package process

import (
	"errors"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"

	gopshost "github.com/shirou/gopsutil/v4/host"
	gopsproc "github.com/shirou/gopsutil/v4/process"
	sysconf "github.com/tklauser/go-sysconf"
)

// StartTime returns the process start time as Unix seconds, or 0 when it
// cannot be determined. It is used to tell a recorded worker apart from an
// unrelated process that later reused its PID.
func StartTime(pid int) int64 {
	if pid <= 0 {
		return 0
	}
	if runtime.GOOS == "linux" {
		if ticks, err := startTicks(pid); err == nil {
			if boot := bootTime(); boot > 0 {
				return boot + ticks/clockTicks()
			}
		}
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	ms, err := p.CreateTime()
	if err != nil || ms <= 0 {
		return 0
	}
	return ms / 1000
}

var errStatFormat = errors.New("unexpected /proc stat format")

// startTicks reads field 22 of /proc/<pid>/stat: clock ticks since boot.
func startTicks(pid int) (int64, error) {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return 0, err
	}
	// comm is parenthesised and may hold spaces or parens itself
	line := string(b)
	end := strings.LastIndex(line, ") ")
	if end < 0 {
		return 0, errStatFormat
	}
	fields := strings.Fields(line[end+2:])
	if len(fields) < 20 {
		return 0, errStatFormat
	}
	ticks, err := strconv.ParseInt(fields[19], 10, 64)
	if err != nil || ticks <= 0 {
		return 0, errStatFormat
	}
	return ticks, nil
}

var (
	bootOnce sync.Once
	bootUnix int64
	clkOnce  sync.Once
	clkTck   int64
)

func bootTime() int64 {
	bootOnce.Do(func() {
		if bt, err := gopshost.BootTime(); err == nil {
			bootUnix = int64(bt)
		}
	})
	return bootUnix
}

func clockTicks() int64 {
	clkOnce.Do(func() {
		clkTck = 100
		if v, err := sysconf.Sysconf(sysconf.SC_CLK_TCK); err == nil && v > 0 {
			clkTck = v
		}
	})
	return clkTck
}
