package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// rssBytes measures resident set size for a PID. Linux reads
// /proc/<pid>/statm (field 2 is resident pages); elsewhere ps reports
// KB. Returns 0 when the process is gone or unmeasurable.
func rssBytes(pid int) int64 {
	if pid <= 0 {
		pid = os.Getpid()
	}
	if runtime.GOOS == "linux" {
		data, err := os.ReadFile(fmt.Sprintf("/proc/%d/statm", pid))
		if err == nil {
			fields := strings.Fields(string(data))
			if len(fields) >= 2 {
				if pages, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
					return pages * int64(os.Getpagesize())
				}
			}
		}
		return 0
	}
	out, err := exec.Command("ps", "-o", "rss=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return 0
	}
	kb, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return 0
	}
	return kb * 1024
}
