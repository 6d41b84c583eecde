package daemon

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/prometheus/procfs"
)

// ErrNoProcess is returned by a ProcessTable when the pid has no entry.
var ErrNoProcess = errors.New("daemon: no such process")

// Process is one process-table entry.
type Process struct {
	PID     int
	Comm    string
	Cmdline []string
	// State is the single-letter state from /proc/<pid>/stat (R, S, Z, ...).
	State string
}

// Matches reports whether the entry is a live process called name. The name
// may appear as the command name or as the basename of the first or second
// argv element, the latter covering interpreted scripts.
func (p Process) Matches(name string) bool {
	if p.State == "Z" || p.State == "X" {
		return false
	}
	if p.Comm == name {
		return true
	}
	for i := 0; i < len(p.Cmdline) && i < 2; i++ {
		if filepath.Base(p.Cmdline[i]) == name {
			return true
		}
	}
	return false
}

// ProcessTable looks up live processes by pid.
type ProcessTable interface {
	Lookup(pid int) (Process, error)
}

// ProcFS reads the process table from a procfs mount.
type ProcFS struct {
	MountPoint string
}

// NewProcFS returns a table over /proc.
func NewProcFS() ProcFS {
	return ProcFS{MountPoint: procfs.DefaultMountPoint}
}

// Lookup implements ProcessTable.
func (t ProcFS) Lookup(pid int) (Process, error) {
	fs, err := procfs.NewFS(t.MountPoint)
	if err != nil {
		return Process{}, fmt.Errorf("daemon: open %s: %w", t.MountPoint, err)
	}
	proc, err := fs.Proc(pid)
	if err != nil {
		return Process{}, fmt.Errorf("%w: pid %d", ErrNoProcess, pid)
	}

	p := Process{PID: pid}
	if p.Comm, err = proc.Comm(); err != nil {
		return Process{}, fmt.Errorf("%w: pid %d: %v", ErrNoProcess, pid, err)
	}
	// cmdline is empty for kernel threads and zombies
	p.Cmdline, _ = proc.CmdLine()
	stat, err := proc.Stat()
	if err != nil {
		return Process{}, fmt.Errorf("%w: pid %d: %v", ErrNoProcess, pid, err)
	}
	p.State = stat.State
	return p, nil
}
