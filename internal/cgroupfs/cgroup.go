// Package cgroupfs manages cgroup v2 resource limits for supervised units,
// adapted from the teacher's cgroup.go: same unified-hierarchy discovery
// and delegation dance, restructured as a Manager instead of package
// globals so multiple managers (e.g. under test) don't collide, and wired
// to a zerolog.Logger instead of fmt.Printf.
package cgroupfs

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

const cgroupRoot = "/sys/fs/cgroup"

// Manager discovers a writable cgroup base and creates per-unit cgroups
// under it. It replaces the teacher's package-level baseCgroupPath var.
type Manager struct {
	log  zerolog.Logger
	base string
}

func NewManager(log zerolog.Logger) *Manager {
	return &Manager{log: log.With().Str("component", "cgroupfs").Logger()}
}

// Cgroup is one unit's resource-limit scope.
type Cgroup struct {
	name string
	path string
}

func getSelfCgroup() (string, error) {
	data, err := os.ReadFile("/proc/self/cgroup")
	if err != nil {
		return "", err
	}
	line := strings.TrimSpace(string(data))
	parts := strings.SplitN(line, "::", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("unexpected cgroup format: %s", line)
	}
	return parts[1], nil
}

func hasCgroupDelegation() bool {
	selfCgroup, err := getSelfCgroup()
	if err != nil {
		return false
	}

	testPath := filepath.Join(cgroupRoot, selfCgroup, ".sysmaster-test")
	if err := os.Mkdir(testPath, 0755); err != nil {
		return false
	}
	defer os.Remove(testPath)

	parentPath := filepath.Join(cgroupRoot, selfCgroup)
	controlPath := filepath.Join(parentPath, "cgroup.subtree_control")
	if err := os.WriteFile(controlPath, []byte("+memory"), 0644); err != nil {
		return false
	}
	return true
}

// RunWithDelegation re-execs via systemd-run for cgroup delegation when the
// current cgroup doesn't already have it. Returns true if re-exec happened
// (the caller should exit immediately).
func (m *Manager) RunWithDelegation() bool {
	if hasCgroupDelegation() {
		return false
	}

	systemdRun, err := exec.LookPath("systemd-run")
	if err != nil {
		m.log.Info().Msg("systemd-run not found, continuing without cgroup delegation")
		return false
	}

	if os.Getenv("SYSMASTER_DELEGATED") == "1" {
		m.log.Warn().Msg("already in delegated scope but delegation failed")
		return false
	}

	m.log.Info().Msg("requesting cgroup delegation via systemd-run")

	args := []string{"--user", "--scope", "-p", "Delegate=yes", "--"}
	args = append(args, os.Args...)

	cmd := exec.Command(systemdRun, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), "SYSMASTER_DELEGATED=1")

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Exit(exitErr.ExitCode())
		}
		m.log.Error().Err(err).Msg("systemd-run failed")
		return false
	}
	os.Exit(0)
	return true
}

func findWritableCgroupBase() (string, error) {
	selfCgroup, err := getSelfCgroup()
	if err == nil && selfCgroup != "" {
		parentPath := filepath.Join(cgroupRoot, selfCgroup)

		supervisorPath := filepath.Join(parentPath, "supervisor")
		if err := os.MkdirAll(supervisorPath, 0755); err == nil {
			procsPath := filepath.Join(supervisorPath, "cgroup.procs")
			if err := os.WriteFile(procsPath, []byte(strconv.Itoa(os.Getpid())), 0644); err == nil {
				controlPath := filepath.Join(parentPath, "cgroup.subtree_control")
				if err := os.WriteFile(controlPath, []byte("+cpu +memory +pids"), 0644); err == nil {
					return parentPath, nil
				}
			}
		}

		path := filepath.Join(parentPath, "sysmaster")
		if err := os.MkdirAll(path, 0755); err == nil {
			return path, nil
		}
	}

	path := filepath.Join(cgroupRoot, "sysmaster")
	if err := os.MkdirAll(path, 0755); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("no writable cgroup location found - try: systemd-run --user --scope -p Delegate=yes <binary>")
}

// EnsureControllers finds a writable cgroup base and enables required
// controllers for children. Must be called once before NewCgroup.
func (m *Manager) EnsureControllers() error {
	path, err := findWritableCgroupBase()
	if err != nil {
		return err
	}
	m.base = path

	controlPath := filepath.Join(m.base, "cgroup.subtree_control")
	if err := os.WriteFile(controlPath, []byte("+cpu +memory +pids"), 0644); err != nil {
		m.log.Warn().Err(err).Msg("could not enable all controllers")
	}
	m.log.Info().Str("path", m.base).Msg("using cgroup path")
	return nil
}

// NewCgroup creates a per-unit cgroup under the manager's base.
func (m *Manager) NewCgroup(name string) (*Cgroup, error) {
	if m.base == "" {
		return nil, fmt.Errorf("cgroupfs: controllers not initialized")
	}
	path := filepath.Join(m.base, name)
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("cgroupfs: create cgroup: %w", err)
	}
	return &Cgroup{name: name, path: path}, nil
}

// CleanupCgroups removes the manager's base cgroup directory and returns
// the removal error, if any (it fails while any child cgroup remains).
func (m *Manager) CleanupCgroups() error {
	if m.base == "" {
		return nil
	}
	return os.Remove(m.base)
}

func (c *Cgroup) AddProcess(pid int) error {
	procsPath := filepath.Join(c.path, "cgroup.procs")
	return os.WriteFile(procsPath, []byte(strconv.Itoa(pid)), 0644)
}

func (c *Cgroup) SetMemoryLimit(bytes int64) error {
	if bytes <= 0 {
		return nil
	}
	return os.WriteFile(filepath.Join(c.path, "memory.max"), []byte(strconv.FormatInt(bytes, 10)), 0644)
}

func (c *Cgroup) SetCPUQuota(percent int) error {
	if percent <= 0 {
		return nil
	}
	period := 100000
	quota := (percent * period) / 100
	value := fmt.Sprintf("%d %d", quota, period)
	return os.WriteFile(filepath.Join(c.path, "cpu.max"), []byte(value), 0644)
}

func (c *Cgroup) SetPidsLimit(max int) error {
	if max <= 0 {
		return nil
	}
	return os.WriteFile(filepath.Join(c.path, "pids.max"), []byte(strconv.Itoa(max)), 0644)
}

func (c *Cgroup) GetMemoryUsage() (int64, error) {
	data, err := os.ReadFile(filepath.Join(c.path, "memory.current"))
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}

// Destroy releases a unit's cgroup (release_resources, §9 Open Question 2).
// It fails while any pid of the unit remains, since a non-empty cgroup
// can't be removed. Nothing in this tree calls it.
func (c *Cgroup) Destroy() error {
	return os.Remove(c.path)
}
