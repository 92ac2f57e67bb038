package manager

import (
	"fmt"
	"os"
	"syscall"

	"github.com/gosv/sysmaster/internal/childreg"
	"github.com/gosv/sysmaster/internal/control"
	"github.com/gosv/sysmaster/internal/eventloop"
	"github.com/gosv/sysmaster/internal/job"
	"github.com/gosv/sysmaster/internal/procfs"
	"github.com/gosv/sysmaster/internal/unit"
)

// sigrtmin is the kernel's real-time signal base. Go exposes no portable
// SIGRTMIN constant (glibc computes it at runtime via two reserved
// signals), so like other Go system daemons we hardcode the kernel value
// the reexec handshake of §6 is defined against.
const sigrtmin = 34

// sigReexecReady is raised against the parent init process once the
// manager has bound its control sockets and is ready to serve, the signal
// §6 names as the reexec coordination point.
const sigReexecReady = syscall.Signal(sigrtmin + 7)

// LoadInitialUnit loads and starts the given target (typically
// "default.target"), mirroring the boot entry point of §4.C4/C8.
func (m *Manager) LoadInitialUnit(id string) error {
	if _, err := m.loader.Load(id); err != nil {
		return fmt.Errorf("manager: load %s: %w", id, err)
	}
	if _, err := m.jobs.Submit(id, job.VerbStart, job.ModeReplace); err != nil {
		return fmt.Errorf("manager: submit start %s: %w", id, err)
	}
	return nil
}

// Run registers the signal source and control listeners, signals
// readiness to its parent whenever that parent is not PID 1, and drives the dispatch loop
// until a shutdown signal is handled (§5).
func (m *Manager) Run() error {
	sigSrc, err := eventloop.NewSignalSource(0, m.onSignal,
		syscall.SIGCHLD, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP, syscall.SIGUSR1)
	if err != nil {
		return fmt.Errorf("manager: signal source: %w", err)
	}
	if err := m.loop.Register(sigSrc); err != nil {
		return fmt.Errorf("manager: register signal source: %w", err)
	}

	disp := &controlDispatcher{m: m}
	for _, port := range []int{control.PortCommands, control.PortLegacy} {
		l, err := control.Listen(m.loop, port, disp, m.log)
		if err != nil {
			return fmt.Errorf("manager: control listen :%d: %w", port, err)
		}
		m.controlListeners = append(m.controlListeners, l)
	}

	m.log.Info().Msg("manager ready")
	if ppid := os.Getppid(); ppid > 1 {
		if err := syscall.Kill(ppid, sigReexecReady); err != nil {
			m.log.Warn().Err(err).Msg("reexec-ready signal to parent failed")
		}
	}

	for !m.stopping {
		if err := m.loop.RunOne(1000); err != nil {
			return fmt.Errorf("manager: run one: %w", err)
		}
		m.drainQueues()
	}
	return nil
}

// drainQueues processes the three work lists (§4.C5) once per dispatch
// cycle: pending loads, dbus-style state notifications fed into the job
// manager's try_finish, and GC reconsideration.
func (m *Manager) drainQueues() {
	for _, id := range m.queues.DrainLoad() {
		if _, err := m.loader.Load(id); err != nil {
			m.log.Warn().Str("unit", id).Err(err).Msg("dependency load failed")
		}
	}

	m.jobs.ProcessNotifications(m.queues.DrainDBus())

	if ids := m.queues.DrainGC(); len(ids) > 0 {
		if removed := m.db.GCMarkAndSweep(); len(removed) > 0 {
			m.log.Debug().Strs("units", removed).Msg("gc removed units")
		}
	}
}

func (m *Manager) onSignal(sig os.Signal) {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return
	}
	switch s {
	case syscall.SIGCHLD:
		m.handleSigchld()
	case syscall.SIGTERM, syscall.SIGINT:
		m.log.Info().Msg("shutdown requested")
		m.gracefulShutdown()
		m.stopping = true
	case syscall.SIGHUP:
		m.log.Info().Msg("SIGHUP received; daemon-reload not implemented")
	case syscall.SIGUSR1:
		m.dumpIntrospection()
	}
}

// handleSigchld drains every pending reap and journals each resulting
// state transition as one major frame (§4.C9).
func (m *Manager) handleSigchld() {
	m.reg.OnSigchld(childreg.SysWaiter(), func(unitID string, e childreg.Exit) {
		id, ferr := m.journal.Begin("state transition " + unitID)
		if ferr != nil {
			m.log.Warn().Err(ferr).Msg("journal begin failed")
		}

		if u, ok := m.db.Get(unitID); ok && u.Impl != nil {
			u.Impl.SigchldEvent(e.Pid, e.ExitCode, e.TermSignal)
		}

		if ferr == nil {
			if err := m.journal.Clear(id); err != nil {
				m.log.Warn().Err(err).Msg("journal clear failed")
			}
		}
	})
}

// gracefulShutdown requests Stop on every active unit; each unit's own
// state machine owns the SIGTERM/SIGKILL escalation timing, mirroring the
// two-phase shutdown the teacher's Supervisor ran directly over processes.
func (m *Manager) gracefulShutdown() {
	for _, id := range m.db.All() {
		u, ok := m.db.Get(id)
		if !ok || u.Impl == nil || u.GetActiveState() == unit.Inactive {
			continue
		}
		u.Impl.Stop()
	}
}

// dumpIntrospection logs every unit's Dump() plus /proc detail for its
// tracked pids, the SIGUSR1 status dump the teacher's Supervisor offered.
func (m *Manager) dumpIntrospection() {
	for _, id := range m.db.All() {
		u, ok := m.db.Get(id)
		if !ok || u.Impl == nil {
			continue
		}
		m.log.Info().Str("unit", id).Str("dump", u.Impl.Dump()).Msg("introspection")
	}
	for pid, unitID := range m.reg.Snapshot() {
		info, err := procfs.Read(pid)
		if err != nil {
			continue
		}
		m.log.Info().Str("unit", unitID).Int("pid", pid).Str("proc", info.String()).Msg("process info")
	}
}
