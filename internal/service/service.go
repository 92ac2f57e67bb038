package service

import (
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/gosv/sysmaster/internal/spawn"
	"github.com/gosv/sysmaster/internal/unit"
)

// spawner is the subset of *spawn.Spawner's method set the FSM needs;
// declared here so tests can substitute a fake without importing spawn.
type spawner interface {
	Spawn(unitID string, argv []string, ctx spawn.ExecContext) (int, error)
}

// unwatcher is the subset of *childreg.Registry the FSM needs directly
// (Watch happens inside spawner.Spawn, ahead of the FSM ever seeing the pid).
type unwatcher interface {
	Unwatch(pid int)
}

// KillFunc signals a pid's process group; production code wires spawn.Signal.
type KillFunc func(pid int, sig syscall.Signal) error

// TimerHandle disarms a previously armed one-shot timer.
type TimerHandle interface {
	Disarm()
}

// Timers arms one-shot timeouts backing every timeout knob in §3; the
// manager wires this to the event loop's TimerSource.
type Timers interface {
	Arm(d time.Duration, onFire func()) TimerHandle
}

// Config is the static, per-unit configuration a Service is built from —
// the parts of ServiceUnit that don't change across activations.
type Config struct {
	Type           Type
	RestartPolicy  RestartPolicy
	Commands       map[Stage][]Command
	TimeoutStart   time.Duration
	TimeoutStop    time.Duration
	TimeoutAbort   time.Duration
	RuntimeMax     time.Duration
	RestartSec     time.Duration
	WatchdogUsec   time.Duration
	SuccessStatus  map[int]bool
	PreventStatus  map[int]bool
	ForceStatus    map[int]bool
	ExecBase       spawn.ExecContext
}

// Service is the per-unit state machine of §4.C7.
type Service struct {
	mu sync.Mutex

	id     string
	handle unit.Handle
	cfg    Config

	spawner  spawner
	unwatch  unwatcher
	kill     KillFunc
	timers   Timers
	log      zerolog.Logger

	state  State
	result Result

	// lastExitCode is the raw exit code of whichever process (main or
	// control) exited most recently, independent of result's Classify
	// mapping — restart_prevent/force_status (§4.C7) key off this raw
	// code, not the classified Result.
	lastExitCode int

	mainPID, controlPID int
	mainCursor, ctlCursor *Cursor
	activeStage Stage

	forbidRestart bool
	activeTimer   TimerHandle

	// watchdogArmed is set by the first WatchdogPing while Running; no
	// watchdog timer is kept here.
	watchdogArmed bool
}

// New constructs a Service bound to its owning unit's back-reference
// handle, per the non-owning-handle design note in §9.
func New(id string, handle unit.Handle, cfg Config, sp spawner, unw unwatcher, kill KillFunc, timers Timers, log zerolog.Logger) *Service {
	s := &Service{
		id:      id,
		handle:  handle,
		cfg:     cfg,
		spawner: sp,
		unwatch: unw,
		kill:    kill,
		timers:  timers,
		log:     log.With().Str("unit", id).Logger(),
		state:   Dead,
		result:  Success,
	}
	s.mainCursor = NewCursor(cfg.Commands[StageStart])
	s.ctlCursor = NewCursor(cfg.Commands[StageCondition])
	return s
}

func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Service) Result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func (s *Service) MainPID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mainPID
}

func (s *Service) ControlPID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controlPID
}

// setState transitions state and notifies dependents via the unit handle,
// mapping the 19-value FSM state down to the 6-value ActiveState dependents
// observe (§3).
func (s *Service) setState(ns State) {
	os := s.state
	s.state = ns
	if s.handle != nil {
		s.handle.Notify(activeStateOf(os), activeStateOf(ns))
	}
}

func activeStateOf(s State) unit.ActiveState {
	switch s {
	case Dead:
		return unit.Inactive
	case Failed:
		return unit.Failed
	case Running, Exited:
		return unit.Active
	case Reload:
		return unit.Reloading
	default:
		if s.isStopping() {
			return unit.Deactivating
		}
		return unit.Activating
	}
}

// Dump renders a one-line snapshot, backing the `dump` plugin operation.
func (s *Service) Dump() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("unit=%s state=%s result=%s main=%d control=%d forbid_restart=%v",
		s.id, s.state, s.result, s.mainPID, s.controlPID, s.forbidRestart)
}

// Coldplug re-derives state after a manager restart. With no persisted
// snapshot format (§9 Open Question), the faithful minimal contract is to
// mark the unit Dead unless a live main pid is rediscovered elsewhere —
// rediscovery itself is out of scope here (no pidfile/cgroup scan wired in).
func (s *Service) Coldplug() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mainPID == 0 && s.controlPID == 0 {
		s.state = Dead
	}
}

// CheckGC reports whether this service may be garbage collected — true
// once Dead/Failed with no live pids, mirroring Unit.Removable's active
// state check from the service side.
func (s *Service) CheckGC() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (s.state == Dead || s.state == Failed) && s.mainPID == 0 && s.controlPID == 0
}

// ResetFailed clears a latched Failed state back to Dead and clears result,
// resolving the reset_failed Open Question.
func (s *Service) ResetFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Failed {
		s.setState(Dead)
	}
	s.result = Success
	s.forbidRestart = false
}
