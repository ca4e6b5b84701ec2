//go:build windows

package ptydevice

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Windows backend speaks ConPTY directly: CreatePseudoConsole with a pair
// of anonymous pipes, then a process spawned with a thread-attribute list
// attaching the pseudoconsole handle, per §4.1. We assume Windows build
// >= 19041 per §9's open question — there is no local knob to tune older
// ConPTY quirks here, so we don't pretend to detect them.
//
// x/sys/windows has no CreatePseudoConsole/ResizePseudoConsole/
// ClosePseudoConsole wrappers, so those three are resolved as lazy DLL
// procs; the thread-attribute-list plumbing around them uses the
// package's own ProcThreadAttributeListContainer helpers.
var (
	kernel32                = windows.NewLazySystemDLL("kernel32.dll")
	procCreatePseudoConsole = kernel32.NewProc("CreatePseudoConsole")
	procResizePseudoConsole = kernel32.NewProc("ResizePseudoConsole")
	procClosePseudoConsole  = kernel32.NewProc("ClosePseudoConsole")
)

const procThreadAttributePseudoconsole = 0x00020016

func ensureConPTYAvailable() error {
	for _, p := range []*windows.LazyProc{procCreatePseudoConsole, procResizePseudoConsole, procClosePseudoConsole} {
		if err := p.Find(); err != nil {
			return fmt.Errorf("ConPTY syscall %s unavailable (need Windows 10 1809+): %w", p.Name, err)
		}
	}
	return nil
}

type coord struct {
	X, Y int16
}

func (c coord) pack() uintptr {
	return uintptr(uint32(uint16(c.X)) | uint32(uint16(c.Y))<<16)
}

type windowsDevice struct {
	hpc     windows.Handle
	inWrite *os.File // our end; writes go to the console's input pipe
	outRead *os.File // our end; reads come from the console's output pipe
	proc    *os.Process

	mu       sync.Mutex
	disposed bool
	exitCode int
}

// Start allocates a ConPTY and spawns opts.App attached to it.
func Start(opts Options) (Device, error) {
	if err := ensureConPTYAvailable(); err != nil {
		return nil, &SpawnError{Reason: "ConPTY unavailable", Err: err}
	}

	inRead, inWrite, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{Reason: "create stdin pipe", Err: err}
	}
	outRead, outWrite, err := os.Pipe()
	if err != nil {
		inRead.Close()
		inWrite.Close()
		return nil, &SpawnError{Reason: "create stdout pipe", Err: err}
	}

	cols, rows := clampWinsize(opts.Cols, opts.Rows)
	size := coord{X: int16(cols), Y: int16(rows)}

	var hpc windows.Handle
	r, _, _ := procCreatePseudoConsole.Call(
		size.pack(),
		uintptr(inRead.Fd()),
		uintptr(outWrite.Fd()),
		0,
		uintptr(unsafe.Pointer(&hpc)),
	)
	inRead.Close()
	outWrite.Close()
	if r != 0 {
		inWrite.Close()
		outRead.Close()
		return nil, &SpawnError{Reason: "CreatePseudoConsole", Err: syscall.Errno(r)}
	}

	attrs, err := windows.NewProcThreadAttributeList(1)
	if err != nil {
		procClosePseudoConsole.Call(uintptr(hpc))
		inWrite.Close()
		outRead.Close()
		return nil, &SpawnError{Reason: "NewProcThreadAttributeList", Err: err}
	}
	if err := attrs.Update(procThreadAttributePseudoconsole, unsafe.Pointer(&hpc), unsafe.Sizeof(hpc)); err != nil {
		attrs.Delete()
		procClosePseudoConsole.Call(uintptr(hpc))
		inWrite.Close()
		outRead.Close()
		return nil, &SpawnError{Reason: "UpdateProcThreadAttribute(pseudoconsole)", Err: err}
	}
	defer attrs.Delete()

	cmdLine := buildCommandLine(opts.App, opts.Args)
	proc, err := spawnWithPseudoConsole(cmdLine, opts.Cwd, opts.Env, attrs)
	if err != nil {
		procClosePseudoConsole.Call(uintptr(hpc))
		inWrite.Close()
		outRead.Close()
		return nil, &SpawnError{Reason: "CreateProcess with pseudoconsole attribute", Err: err}
	}

	d := &windowsDevice{
		hpc:      hpc,
		inWrite:  inWrite,
		outRead:  outRead,
		proc:     proc,
		exitCode: -1,
	}
	go d.reap()
	return d, nil
}

func buildCommandLine(app string, args []string) string {
	parts := append([]string{app}, args...)
	quoted := make([]string, len(parts))
	for i, p := range parts {
		if strings.ContainsAny(p, " \t\"") {
			quoted[i] = `"` + strings.ReplaceAll(p, `"`, `\"`) + `"`
		} else {
			quoted[i] = p
		}
	}
	return strings.Join(quoted, " ")
}

func spawnWithPseudoConsole(cmdLine, cwd string, env []string, attrs *windows.ProcThreadAttributeListContainer) (*os.Process, error) {
	var si windows.StartupInfoEx
	si.StartupInfo.Cb = uint32(unsafe.Sizeof(si))
	si.ProcThreadAttributeList = attrs.List()

	var pi windows.ProcessInformation
	cmdLineW, err := windows.UTF16PtrFromString(cmdLine)
	if err != nil {
		return nil, err
	}
	var cwdW *uint16
	if cwd != "" {
		cwdW, err = windows.UTF16PtrFromString(cwd)
		if err != nil {
			return nil, err
		}
	}
	var envPtr *uint16
	if len(env) > 0 {
		var sb strings.Builder
		for _, e := range env {
			sb.WriteString(e)
			sb.WriteByte(0)
		}
		sb.WriteByte(0)
		block := windows.StringToUTF16(sb.String())
		envPtr = &block[0]
	}

	err = windows.CreateProcess(
		nil, cmdLineW, nil, nil, false,
		windows.EXTENDED_STARTUPINFO_PRESENT|windows.CREATE_UNICODE_ENVIRONMENT,
		envPtr, cwdW, &si.StartupInfo, &pi,
	)
	if err != nil {
		return nil, err
	}
	windows.CloseHandle(pi.Thread)
	defer windows.CloseHandle(pi.Process)
	return os.FindProcess(int(pi.ProcessId))
}

func (d *windowsDevice) reap() {
	state, err := d.proc.Wait()
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil && state != nil {
		d.exitCode = state.ExitCode()
	}
}

func (d *windowsDevice) Reader() io.Reader { return d.outRead }
func (d *windowsDevice) Writer() io.Writer { return d.inWrite }

func (d *windowsDevice) Resize(cols, rows int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.disposed {
		return nil
	}
	c, r := clampWinsize(cols, rows)
	size := coord{X: int16(c), Y: int16(r)}
	if r, _, _ := procResizePseudoConsole.Call(uintptr(d.hpc), size.pack()); r != 0 {
		return syscall.Errno(r)
	}
	return nil
}

func (d *windowsDevice) Pid() int {
	if d.proc == nil {
		return 0
	}
	return d.proc.Pid
}

func (d *windowsDevice) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.disposed && d.exitCode == -1
}

func (d *windowsDevice) ExitCode() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exitCode
}

// Hangup has no SIGHUP equivalent under ConPTY; closing the console's
// input pipe gives the shell an EOF to exit on before CLOSE's grace
// period escalates to Kill.
func (d *windowsDevice) Hangup() error {
	return d.inWrite.Close()
}

func (d *windowsDevice) Kill() error {
	if d.proc == nil {
		return nil
	}
	return d.proc.Kill()
}

func (d *windowsDevice) WaitForExit(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !d.IsRunning() {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	if d.IsRunning() {
		return fmt.Errorf("ptydevice: wait for exit timed out after %s", timeout)
	}
	return nil
}

func (d *windowsDevice) Dispose() error {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return nil
	}
	d.disposed = true
	d.mu.Unlock()

	_ = d.Kill()
	_ = d.WaitForExit(2 * time.Second)
	procClosePseudoConsole.Call(uintptr(d.hpc))
	d.inWrite.Close()
	return d.outRead.Close()
}
