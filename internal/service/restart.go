package service

// scheduleAutoRestartLocked implements §4.C7's auto-restart evaluation: on
// entering Dead/Failed, arm a restart_usec timer if forbid_restart is
// false and the policy (honoring restart_prevent/force_status) admits it.
func (s *Service) scheduleAutoRestartLocked() {
	if s.forbidRestart || s.cfg.RestartSec <= 0 {
		return
	}
	if !restartDecision(s.result, s.lastExitCode, s.cfg.PreventStatus, s.cfg.ForceStatus, s.cfg.RestartPolicy) {
		return
	}
	if s.timers == nil {
		return
	}
	s.timers.Arm(s.cfg.RestartSec, s.fireAutoRestart)
}

func (s *Service) fireAutoRestart() {
	s.mu.Lock()
	if s.forbidRestart || (s.state != Dead && s.state != Failed) {
		s.mu.Unlock()
		return
	}
	s.forbidRestart = false
	s.result = Success
	s.runConditionLocked()
	s.mu.Unlock()
}

// WatchdogPing records a READY=1/WATCHDOG=1 notification from the service
// (§4.C7 Watchdog) by marking the watchdog armed while Running. It keeps no
// deadline and arms no timer; expiry takes effect only when a caller invokes
// OnWatchdogMiss, and nothing in this tree arms a watchdog timer or calls
// either method.
func (s *Service) WatchdogPing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Running {
		s.watchdogArmed = true
	}
}

// OnWatchdogMiss is invoked when a watchdog deadline elapses with no
// intervening WatchdogPing. Only meaningful while Running.
func (s *Service) OnWatchdogMiss() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Running || !s.watchdogArmed {
		return
	}
	s.enterStopWatchdogLocked()
}
