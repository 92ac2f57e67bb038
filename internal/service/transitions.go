package service

import (
	"syscall"
	"time"
)

// Start handles a Start intent (§4.C7 Start path). Only meaningful from
// Dead or Failed; a Start on any other state is a no-op (an activation
// is already underway).
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Dead && s.state != Failed {
		return
	}
	s.forbidRestart = false
	s.result = Success
	s.runConditionLocked()
}

func (s *Service) runConditionLocked() {
	if !s.cursorFor(StageCondition).Empty() {
		s.beginStageLocked(StageCondition, Condition, false)
		return
	}
	s.runPreStartLocked()
}

func (s *Service) runPreStartLocked() {
	if !s.cursorFor(StagePreStart).Empty() {
		s.beginStageLocked(StagePreStart, StartPre, false)
		return
	}
	s.runStartLocked()
}

func (s *Service) runStartLocked() {
	s.clearControlLocked()
	s.mainCursor = NewCursor(s.cfg.Commands[StageStart])
	if !s.mainCursor.Empty() {
		s.beginStageLocked(StageStart, Start, true)
		return
	}
	s.runPostStartLocked()
}

func (s *Service) runPostStartLocked() {
	if !s.cursorFor(StagePostStart).Empty() {
		s.beginStageLocked(StagePostStart, StartPost, false)
		return
	}
	s.enterRunningLocked()
}

// enterRunningLocked is the enter_running transition: a latched failure
// goes straight to StopSigterm; otherwise the unit is Running once it's
// alive per its service Type (simple: forked; oneshot: control already ran
// to completion — notify/forking liveness detection needs ExecContext
// hooks this tree doesn't wire).
func (s *Service) enterRunningLocked() {
	if s.result != Success {
		s.enterStopSigtermLocked()
		return
	}
	if s.cfg.Type == TypeOneshot {
		s.setState(Exited)
		s.runStopLocked()
		return
	}
	s.setState(Running)
	s.armRuntimeMaxLocked()
}

// Reload handles a Reload intent; only meaningful from Running (§4.C7).
func (s *Service) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Running {
		return
	}
	if s.cursorFor(StageReload).Empty() {
		return
	}
	s.beginStageLocked(StageReload, Reload, false)
}

// Stop handles a Stop intent. From a starting state it short-circuits
// directly to StopSigterm (§5 cancellation guarantee); a second Stop on an
// already-stopping unit is a no-op (idempotence, §8).
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.forbidRestart = true

	switch {
	case s.state == Dead || s.state == Failed:
		return
	case s.state.isStopping():
		return // already stopping: no-op
	case s.state.isStarting():
		s.enterStopSigtermLocked()
	case s.state == Running || s.state == Exited:
		s.runStopLocked()
	default:
		s.enterStopSigtermLocked()
	}
}

// runStopLocked runs the clean-exit/stop-request path: ExecStop if
// configured, otherwise straight to StopSigterm. Shared by Stop() and the
// two clean-exit transitions (oneshot completion, main process exiting
// cleanly while Running) that must run ExecStop before tearing down,
// per spec.md §4.C7 and the original's run_stop.
func (s *Service) runStopLocked() {
	if !s.cursorFor(StageStop).Empty() {
		s.beginStageLocked(StageStop, Stop, false)
		return
	}
	s.enterStopSigtermLocked()
}

func (s *Service) enterStopSigtermLocked() {
	s.disarmTimerLocked()
	s.setState(StopSigterm)
	s.killBothLocked(syscall.SIGTERM)
	s.armTimeoutLocked(s.cfg.TimeoutStop)
	s.maybeFinishStoppingLocked()
}

func (s *Service) enterStopSigkillLocked() {
	s.disarmTimerLocked()
	s.setState(StopSigkill)
	s.killBothLocked(syscall.SIGKILL)
	s.armTimeoutLocked(s.cfg.TimeoutStop)
	s.maybeFinishStoppingLocked()
}

// enterStopWatchdogLocked handles a watchdog ping-miss: signals SIGABRT
// (the Watchdog-state signal per §4.C7) and latches failure-watchdog.
func (s *Service) enterStopWatchdogLocked() {
	s.watchdogArmed = false
	s.disarmTimerLocked()
	s.result = Latch(s.result, FailureWatchdog)
	s.setState(StopWatchdog)
	s.killBothLocked(syscall.SIGABRT)
	s.armTimeoutLocked(s.cfg.TimeoutStop)
	s.maybeFinishStoppingLocked()
}

func (s *Service) enterFinalWatchdogLocked() {
	s.disarmTimerLocked()
	s.setState(FinalWatchdog)
	s.killBothLocked(syscall.SIGABRT)
	s.armTimeoutLocked(s.cfg.TimeoutAbort)
	s.maybeFinishStoppingLocked()
}

func (s *Service) runPostStopOrDeadLocked() {
	if !s.cursorFor(StagePostStop).Empty() {
		s.beginStageLocked(StagePostStop, StopPost, false)
		return
	}
	s.enterFinalSigtermLocked()
}

func (s *Service) enterFinalSigtermLocked() {
	s.disarmTimerLocked()
	s.setState(FinalSigterm)
	s.killBothLocked(syscall.SIGTERM)
	s.armTimeoutLocked(s.cfg.TimeoutAbort)
	s.maybeFinishStoppingLocked()
}

func (s *Service) enterFinalSigkillLocked() {
	s.disarmTimerLocked()
	s.setState(FinalSigkill)
	s.killBothLocked(syscall.SIGKILL)
	s.armTimeoutLocked(s.cfg.TimeoutAbort)
	s.maybeFinishStoppingLocked()
}

// killBothLocked implements the Kill discipline of §4.C7: both main and
// control pids are signaled when present; unless the signal is SIGCONT or
// SIGKILL, a SIGCONT follows immediately so a stopped process can act on it.
func (s *Service) killBothLocked(sig syscall.Signal) {
	for _, pid := range []int{s.mainPID, s.controlPID} {
		if pid == 0 {
			continue
		}
		s.kill(pid, sig)
		if sig != syscall.SIGCONT && sig != syscall.SIGKILL {
			s.kill(pid, syscall.SIGCONT)
		}
	}
}

// maybeFinishStoppingLocked advances Stop*/Final* states once both pids
// are gone; called right after sending a signal (in case both were already
// dead) and again from SigchldEvent as each pid is reaped.
func (s *Service) maybeFinishStoppingLocked() {
	if s.mainPID != 0 || s.controlPID != 0 {
		return
	}
	switch s.state {
	case StopSigterm, StopSigkill, StopWatchdog:
		s.runPostStopOrDeadLocked()
	case FinalSigterm, FinalWatchdog:
		s.enterFinalSigkillLocked()
	case FinalSigkill:
		s.runDeadOrFailedLocked()
	}
}

// beginStageLocked spawns the first command of stage, assigning it as
// control_pid (or main_pid for the Start stage) and transitions to st.
// Empty stages never reach here — callers check cursorFor(stage).Empty()
// first, per §8's boundary property that an empty stage must be skipped
// without stalling.
func (s *Service) beginStageLocked(stage Stage, st State, asMain bool) {
	s.activeStage = stage
	if !asMain {
		s.ctlCursor = NewCursor(s.cfg.Commands[stage])
	}
	s.setState(st)
	s.spawnCurrentLocked(stage, asMain)
}

func (s *Service) spawnCurrentLocked(stage Stage, asMain bool) {
	cur := s.cursorFor(stage)
	cmd, ok := cur.Current()
	if !ok {
		s.finishStageLocked(stage)
		return
	}

	pid, err := s.spawner.Spawn(s.id, cmd.Argv, s.cfg.ExecBase)
	if err != nil {
		s.result = Latch(s.result, FailureResources)
		s.enterStopSigtermLocked()
		return
	}
	if asMain {
		s.mainPID = pid
	} else {
		s.controlPID = pid
	}
	s.armTimeoutLocked(s.cfg.TimeoutStart)
}

// finishStageLocked is reached once a stage's command cursor is exhausted
// (every command in the stage ran successfully): advances the FSM to
// whatever follows that stage.
func (s *Service) finishStageLocked(stage Stage) {
	switch stage {
	case StageCondition:
		s.runPreStartLocked()
	case StagePreStart:
		s.runStartLocked()
	case StageStart:
		s.runPostStartLocked()
	case StagePostStart:
		s.enterRunningLocked()
	case StageReload:
		s.setState(Running)
	case StageStop:
		s.enterStopSigtermLocked()
	case StagePostStop:
		s.enterFinalSigtermLocked()
	}
}

// cursorFor returns the live cursor for stage if it is the currently
// active stage (so Advance() persists across calls), otherwise a fresh,
// throwaway cursor used only to check Empty() before a stage starts.
func (s *Service) cursorFor(stage Stage) *Cursor {
	if stage == StageStart {
		return s.mainCursor
	}
	if s.activeStage == stage && s.ctlCursor != nil {
		return s.ctlCursor
	}
	return NewCursor(s.cfg.Commands[stage])
}

func (s *Service) clearControlLocked() {
	if s.controlPID != 0 {
		s.unwatch.Unwatch(s.controlPID)
		s.controlPID = 0
	}
}

// commandSucceeded applies the CommandLine discipline of §3: a stage
// aborts on any non-zero exit unless tolerant. This is a raw exit-code
// gate, distinct from the overall ServiceResult classification — per §7,
// a failing control command is a Resource error (latch failure-resources),
// while only the main process's own exit is classified via §4.C7's
// exit-classification rule (see result.go's Classify and its documented
// historical quirk).
func commandSucceeded(tolerate bool, exitCode, termSignal int) bool {
	if tolerate {
		return true
	}
	return exitCode == 0 && termSignal == int(syscall.SIGCHLD)
}

// SigchldEvent is C2's callback into the unit on a reaped child. It
// resolves which role (main/control) the pid held and advances the FSM.
func (s *Service) SigchldEvent(pid int, exitCode int, termSignal int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case pid == s.mainPID:
		s.mainPID = 0
		s.onMainExitLocked(exitCode, termSignal)
	case pid == s.controlPID:
		s.controlPID = 0
		s.onControlExitLocked(exitCode, termSignal)
	}
}

func (s *Service) onMainExitLocked(exitCode, termSignal int) {
	s.disarmTimerLocked()
	s.lastExitCode = exitCode

	switch s.state {
	case Start:
		cmd, _ := s.mainCursor.Current()
		if !commandSucceeded(cmd.Tolerate, exitCode, termSignal) {
			s.result = Latch(s.result, Classify(exitCode, termSignal, s.cfg.SuccessStatus))
			s.enterStopSigtermLocked()
			return
		}
		s.mainCursor.Advance()
		s.spawnCurrentLocked(StageStart, true)
	case Running:
		s.result = Latch(s.result, Classify(exitCode, termSignal, s.cfg.SuccessStatus))
		if s.result != Success {
			s.enterStopSigtermLocked()
			return
		}
		s.runStopLocked()
	default:
		s.maybeFinishStoppingLocked()
	}
}

func (s *Service) onControlExitLocked(exitCode, termSignal int) {
	s.disarmTimerLocked()
	s.lastExitCode = exitCode

	stage := s.activeStage
	cur := s.cursorFor(stage)
	cmd, _ := cur.Current()

	switch s.state {
	case Condition, StartPre, StartPost, Reload, Stop, StopPost:
		if !commandSucceeded(cmd.Tolerate, exitCode, termSignal) {
			s.result = Latch(s.result, FailureResources)
			s.enterStopSigtermLocked()
			return
		}
		cur.Advance()
		if !cur.Done() {
			s.spawnCurrentLocked(stage, false)
			return
		}
		s.finishStageLocked(stage)
	default:
		s.maybeFinishStoppingLocked()
	}
}

// runDeadOrFailedLocked is the Dead/Failed transition: result==success
// goes to Dead, otherwise Failed; schedules auto-restart if eligible.
func (s *Service) runDeadOrFailedLocked() {
	s.disarmTimerLocked()
	s.clearControlLocked()
	if s.mainPID != 0 {
		s.unwatch.Unwatch(s.mainPID)
		s.mainPID = 0
	}

	if s.result == Success {
		s.setState(Dead)
	} else {
		s.setState(Failed)
	}
	s.scheduleAutoRestartLocked()
}

func (s *Service) armTimeoutLocked(d time.Duration) {
	if d <= 0 || s.timers == nil {
		return
	}
	s.activeTimer = s.timers.Arm(d, s.onTimerFire)
}

func (s *Service) disarmTimerLocked() {
	if s.activeTimer != nil {
		s.activeTimer.Disarm()
		s.activeTimer = nil
	}
}

// onTimerFire is processed identically to the abnormal exit of the active
// process for that state, per §4.C5's timeout contract.
func (s *Service) onTimerFire() {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state == Running:
		// RuntimeMax expiry: treated as a stop request, not a failure.
		s.enterStopSigtermLocked()
	case s.state == StopSigterm:
		s.enterStopSigkillLocked()
	case s.state == FinalSigterm:
		s.enterFinalSigkillLocked()
	case s.state.isStarting() || s.state == Stop || s.state == StopPost:
		s.result = Latch(s.result, FailureTimeout)
		s.enterStopSigtermLocked()
	case s.state == StopSigkill || s.state == FinalSigkill:
		s.result = Latch(s.result, FailureTimeout)
		s.runDeadOrFailedLocked()
	}
}

func (s *Service) armRuntimeMaxLocked() {
	if s.cfg.RuntimeMax > 0 {
		s.armTimeoutLocked(s.cfg.RuntimeMax)
	}
	if s.cfg.WatchdogUsec > 0 {
		s.watchdogArmed = true
	}
}
