//go:build linux

package procmon

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// linuxMonitor polls /proc/<shellPid>/task/<shellPid>/children once a
// second, per §4.8. The first listed child is treated as the foreground
// process; its comm/cmdline/cwd are read the same way
// blaxel-ai/sandbox-api's process/state.go reads /proc/<pid>/cmdline and
// /proc/<pid>/status for liveness checks.
type linuxMonitor struct {
	shellPid int
	changes  chan Info
	done     chan struct{}
}

// New starts monitoring shellPid's foreground child.
func New(shellPid int) Monitor {
	m := &linuxMonitor{
		shellPid: shellPid,
		changes:  make(chan Info, 4),
		done:     make(chan struct{}),
	}
	go m.loop()
	return m
}

func (m *linuxMonitor) Changes() <-chan Info { return m.changes }

func (m *linuxMonitor) Close() {
	close(m.done)
}

func (m *linuxMonitor) loop() {
	defer close(m.changes)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var last Info
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			next := m.sample()
			if changed(last, next) {
				last = next
				select {
				case m.changes <- next:
				case <-m.done:
					return
				}
			}
		}
	}
}

func (m *linuxMonitor) sample() Info {
	childPid := firstChild(m.shellPid)
	if childPid == 0 {
		return Info{}
	}
	return Info{
		Pid:     childPid,
		Name:    readComm(childPid),
		Cmdline: readCmdline(childPid),
		Cwd:     readCwd(childPid),
	}
}

func firstChild(pid int) int {
	path := filepath.Join("/proc", strconv.Itoa(pid), "task", strconv.Itoa(pid), "children")
	data, err := os.ReadFile(path)
	if err != nil {
		logrus.WithError(err).WithField("pid", pid).Debug("procmon: read children list")
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0
	}
	childPid, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0
	}
	return childPid
}

func readComm(pid int) string {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "comm"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func readCmdline(pid int) string {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "cmdline"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(strings.ReplaceAll(string(data), "\x00", " "))
}

func readCwd(pid int) string {
	target, err := os.Readlink(filepath.Join("/proc", strconv.Itoa(pid), "cwd"))
	if err != nil {
		return ""
	}
	return target
}
