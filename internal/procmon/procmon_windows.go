//go:build windows

package procmon

import (
	"strings"
	"time"
	"unsafe"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/windows"
)

// windowsMonitor polls the Toolhelp32 process snapshot once a second,
// per §4.8 — there is no cheap native fork/exec/exit notification the
// way Linux has /proc or macOS has kqueue, so Windows is poll-only.
type windowsMonitor struct {
	shellPid int
	changes  chan Info
	done     chan struct{}
}

func New(shellPid int) Monitor {
	m := &windowsMonitor{
		shellPid: shellPid,
		changes:  make(chan Info, 4),
		done:     make(chan struct{}),
	}
	go m.loop()
	return m
}

func (m *windowsMonitor) Changes() <-chan Info { return m.changes }

func (m *windowsMonitor) Close() {
	close(m.done)
}

func (m *windowsMonitor) loop() {
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

func (m *windowsMonitor) sample() Info {
	childPid := firstChildWindows(uint32(m.shellPid))
	if childPid == 0 {
		return Info{}
	}
	name := imageName(childPid)
	return Info{
		Pid:     int(childPid),
		Name:    name,
		Cmdline: name,
		Cwd:     "",
	}
}

// firstChildWindows walks the Toolhelp32 snapshot for the lowest-pid
// process whose ppid is parent.
func firstChildWindows(parent uint32) uint32 {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		logrus.WithError(err).Debug("procmon: CreateToolhelp32Snapshot failed")
		return 0
	}
	defer windows.CloseHandle(snap)

	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))

	var best uint32
	if err := windows.Process32First(snap, &entry); err != nil {
		return 0
	}
	for {
		if entry.ParentProcessID == parent {
			if best == 0 || entry.ProcessID < best {
				best = entry.ProcessID
			}
		}
		if err := windows.Process32Next(snap, &entry); err != nil {
			break
		}
	}
	return best
}

// imageName opens the process with limited query rights and asks for
// its full image path, trimmed to the base name.
func imageName(pid uint32) string {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return ""
	}
	defer windows.CloseHandle(h)

	buf := make([]uint16, 260)
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(h, 0, &buf[0], &size); err != nil {
		return ""
	}
	full := windows.UTF16ToString(buf[:size])
	if idx := strings.LastIndexAny(full, `\/`); idx >= 0 {
		return full[idx+1:]
	}
	return full
}
