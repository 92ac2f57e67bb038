package service

import "syscall"

// Result is the ServiceResult of §3.
type Result int

const (
	Success Result = iota
	FailureResources
	FailureTimeout
	FailureSignal
	FailureExitCode
	FailureWatchdog
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case FailureResources:
		return "failure-resources"
	case FailureTimeout:
		return "failure-timeout"
	case FailureSignal:
		return "failure-signal"
	case FailureExitCode:
		return "failure-exit-code"
	case FailureWatchdog:
		return "failure-watchdog"
	default:
		return "unknown"
	}
}

// Latch implements the result-precedence rule of §4.C7: the first
// non-success result wins; a later success never overwrites a latched
// failure, and a later failure never overwrites an earlier one either
// (monotone in failure, per §8's testable property).
func Latch(current, next Result) Result {
	if current != Success {
		return current
	}
	return next
}

// Classify turns a raw (exitCode, termSignal) pair into a Result, per the
// exit-classification rule in §4.C7. termSignal is syscall.SIGCHLD to mean
// "exited normally" (as the reaping layer reports it) and the actual
// terminating signal otherwise.
//
// §9's Open Question flags the source's literal fallthrough — a non-zero
// exit code whose termSignal is SIGCHLD still classifies Success — as
// "likely a source defect (should be failure-exit-code)". §8's own
// concrete scenarios settle the question: scenario 2 (a failing
// ExecCondition) and scenario 4 (Restart=on-failure with ExecStart=/bin/false)
// both require a non-zero, signal-clean exit to count as a failure, which
// the literal fallthrough cannot produce. Classify therefore implements
// the corrected rule; ClassifyQuirky keeps the original fallthrough for
// reference. See DESIGN.md for the full writeup.
func Classify(exitCode, termSignal int, successStatus map[int]bool) Result {
	if termSignal != int(syscall.SIGCHLD) {
		return FailureSignal
	}
	if exitCode == 0 || successStatus[exitCode] {
		return Success
	}
	return FailureExitCode
}

// ClassifyQuirky preserves the original source's literal sigchld_event
// fallthrough (any exit with a clean termSignal is Success, regardless of
// exitCode) for reference. Unused by the FSM — see Classify's doc comment
// and DESIGN.md for why the corrected rule is used instead.
func ClassifyQuirky(exitCode, termSignal int, successStatus map[int]bool) Result {
	if termSignal != int(syscall.SIGCHLD) {
		return FailureSignal
	}
	return Success
}

// restartDecision applies restart_prevent_status / restart_force_status
// sets, which override the default classification for restart decisions
// only (not the latched Result itself).
func restartDecision(r Result, exitCode int, preventStatus, forceStatus map[int]bool, policy RestartPolicy) bool {
	if preventStatus[exitCode] {
		return false
	}
	if forceStatus[exitCode] {
		return true
	}
	return policy.admits(r)
}
