//go:build darwin

package procmon

import (
	"bufio"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// darwinMonitor registers a kqueue EVFILT_PROC watch on the shell pid
// (fork/exec/exit) but does not read its events: loop samples the
// foreground process and its cwd on a fixed 500ms ticker, so a change
// is reported at the next tick. Enumerating children and resolving a
// pid's cwd ultimately go through libproc (proc_listchildpids,
// proc_pidinfo PROC_PIDVNODEPATHINFO), which golang.org/x/sys/unix does
// not wrap without cgo; we shell out to `ps`/`lsof` instead, the same
// trade idiomatic cgo-free Go CLIs make on Darwin. See DESIGN.md.
type darwinMonitor struct {
	shellPid int
	changes  chan Info
	done     chan struct{}
	kq       int
}

func New(shellPid int) Monitor {
	m := &darwinMonitor{
		shellPid: shellPid,
		changes:  make(chan Info, 4),
		done:     make(chan struct{}),
	}
	kq, err := unix.Kqueue()
	if err != nil {
		logrus.WithError(err).Warn("procmon: kqueue unavailable, falling back to poll-only")
		m.kq = -1
	} else {
		m.kq = kq
		ev := unix.Kevent_t{
			Ident:  uint64(shellPid),
			Filter: unix.EVFILT_PROC,
			Flags:  unix.EV_ADD | unix.EV_ENABLE,
			Fflags: unix.NOTE_FORK | unix.NOTE_EXEC | unix.NOTE_EXIT,
		}
		if _, err := unix.Kevent(kq, []unix.Kevent_t{ev}, nil, nil); err != nil {
			logrus.WithError(err).Warn("procmon: kevent register failed")
		}
	}
	go m.loop()
	return m
}

func (m *darwinMonitor) Changes() <-chan Info { return m.changes }

func (m *darwinMonitor) Close() {
	close(m.done)
	if m.kq >= 0 {
		unix.Close(m.kq)
	}
}

func (m *darwinMonitor) loop() {
	defer close(m.changes)
	ticker := time.NewTicker(500 * time.Millisecond)
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

func (m *darwinMonitor) sample() Info {
	childPid := firstChildDarwin(m.shellPid)
	if childPid == 0 {
		return Info{}
	}
	name, cmdline := psInfo(childPid)
	return Info{
		Pid:     childPid,
		Name:    name,
		Cmdline: cmdline,
		Cwd:     cwdViaLsof(childPid),
	}
}

// firstChildDarwin shells out to `ps` to find the lowest-pid direct
// child of the shell, mirroring what proc_listchildpids would return.
func firstChildDarwin(parent int) int {
	out, err := exec.Command("ps", "-o", "pid=,ppid=", "-ax").Output()
	if err != nil {
		return 0
	}
	best := 0
	sc := bufio.NewScanner(strings.NewReader(string(out)))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 2 {
			continue
		}
		pid, err1 := strconv.Atoi(fields[0])
		ppid, err2 := strconv.Atoi(fields[1])
		if err1 != nil || err2 != nil || ppid != parent {
			continue
		}
		if best == 0 || pid < best {
			best = pid
		}
	}
	return best
}

func psInfo(pid int) (name, cmdline string) {
	out, err := exec.Command("ps", "-o", "comm=,command=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return "", ""
	}
	line := strings.TrimSpace(string(out))
	fields := strings.SplitN(line, " ", 2)
	if len(fields) == 0 {
		return "", ""
	}
	if len(fields) == 1 {
		return fields[0], fields[0]
	}
	return fields[0], line
}

func cwdViaLsof(pid int) string {
	out, err := exec.Command("lsof", "-a", "-p", strconv.Itoa(pid), "-d", "cwd", "-Fn").Output()
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(line, "n") {
			return line[1:]
		}
	}
	return ""
}
