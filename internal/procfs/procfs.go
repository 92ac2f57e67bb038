// Package procfs adapts the teacher's ad-hoc /proc reader into the C14
// introspection helper backing the manager's SIGUSR1 dump: per-pid
// status, open file descriptors, and memory maps.
package procfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Info struct {
	PID     int
	Name    string
	State   string
	PPid    int
	Threads int
	VmRSS   int64 // KB
	VmSize  int64 // KB
	FDs     []FD
	Maps    []Map
}

type FD struct {
	FD   int
	Path string
}

type Map struct {
	Start, End uint64
	Perms      string
	Pathname   string
}

// Read gathers everything under /proc/[pid]/ that the SIGUSR1 dump needs. FD and map
// reads are best-effort: a process that exits mid-read yields a partial
// Info rather than an error, since this backs diagnostics, not control flow.
func Read(pid int) (*Info, error) {
	procPath := fmt.Sprintf("/proc/%d", pid)
	if _, err := os.Stat(procPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("procfs: process %d does not exist", pid)
	}

	info := &Info{PID: pid}
	if err := info.readStatus(procPath); err != nil {
		return nil, err
	}
	info.FDs = readFDs(procPath)
	info.Maps = readMaps(procPath)
	return info, nil
}

func (p *Info) readStatus(procPath string) error {
	data, err := os.ReadFile(filepath.Join(procPath, "status"))
	if err != nil {
		return err
	}
	for _, line := range strings.Split(string(data), "\n") {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		switch key {
		case "Name":
			p.Name = val
		case "State":
			p.State = val
		case "PPid":
			p.PPid, _ = strconv.Atoi(val)
		case "Threads":
			p.Threads, _ = strconv.Atoi(val)
		case "VmRSS":
			if f := strings.Fields(val); len(f) > 0 {
				p.VmRSS, _ = strconv.ParseInt(f[0], 10, 64)
			}
		case "VmSize":
			if f := strings.Fields(val); len(f) > 0 {
				p.VmSize, _ = strconv.ParseInt(f[0], 10, 64)
			}
		}
	}
	return nil
}

func readFDs(procPath string) []FD {
	fdPath := filepath.Join(procPath, "fd")
	entries, err := os.ReadDir(fdPath)
	if err != nil {
		return nil
	}
	var fds []FD
	for _, e := range entries {
		n, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		target, err := os.Readlink(filepath.Join(fdPath, e.Name()))
		if err != nil {
			continue
		}
		fds = append(fds, FD{FD: n, Path: target})
	}
	return fds
}

func readMaps(procPath string) []Map {
	data, err := os.ReadFile(filepath.Join(procPath, "maps"))
	if err != nil {
		return nil
	}
	var maps []Map
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		addrParts := strings.Split(fields[0], "-")
		if len(addrParts) != 2 {
			continue
		}
		start, _ := strconv.ParseUint(addrParts[0], 16, 64)
		end, _ := strconv.ParseUint(addrParts[1], 16, 64)
		pathname := ""
		if len(fields) >= 6 {
			pathname = fields[5]
		}
		maps = append(maps, Map{Start: start, End: end, Perms: fields[1], Pathname: pathname})
	}
	return maps
}

// String renders a Dump-friendly snapshot; trimmed to 10 memory maps so a
// dump of a large process stays readable.
func (p *Info) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "pid=%d name=%s state=%s ppid=%d threads=%d rss=%dkB vsz=%dkB\n",
		p.PID, p.Name, p.State, p.PPid, p.Threads, p.VmRSS, p.VmSize)
	fmt.Fprintf(&sb, "fds (%d):\n", len(p.FDs))
	for _, fd := range p.FDs {
		fmt.Fprintf(&sb, "  %3d -> %s\n", fd.FD, fd.Path)
	}
	fmt.Fprintf(&sb, "maps (showing up to 10 of %d):\n", len(p.Maps))
	for i, m := range p.Maps {
		if i >= 10 {
			break
		}
		fmt.Fprintf(&sb, "  %012x-%012x %s %s\n", m.Start, m.End, m.Perms, m.Pathname)
	}
	return sb.String()
}
