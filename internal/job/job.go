// Package job is the job manager (§4.C8): it turns a user intent
// (start/stop/reload/restart) on a unit into a job, dispatches it through
// the unit's dependency closure in an order that respects the after/before
// atoms, and serializes conflicting requests per the requested mode.
package job

import "fmt"

// Verb is the intent a job carries.
type Verb int

const (
	VerbStart Verb = iota
	VerbStop
	VerbReload
	VerbRestart
)

func (v Verb) String() string {
	switch v {
	case VerbStart:
		return "start"
	case VerbStop:
		return "stop"
	case VerbReload:
		return "reload"
	case VerbRestart:
		return "restart"
	default:
		return fmt.Sprintf("verb(%d)", int(v))
	}
}

// Mode controls how a new job interacts with an already-pending job for the
// same unit, and how far its side effects reach into unrelated units (§4.C8).
type Mode int

const (
	// ModeReplace cancels a conflicting pending job for the same unit.
	ModeReplace Mode = iota
	// ModeFail refuses the request outright if a conflicting job exists.
	ModeFail
	// ModeFlush cancels every pending job unrelated to this request.
	ModeFlush
	// ModeIsolate additionally stops every unit not pulled in by the
	// target's dependency closure.
	ModeIsolate
)

func (m Mode) String() string {
	switch m {
	case ModeReplace:
		return "replace"
	case ModeFail:
		return "fail"
	case ModeFlush:
		return "flush"
	case ModeIsolate:
		return "isolate"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Job tracks one in-flight intent. It is created by Submit, drained when
// the unit's observable state satisfies Verb (see jobSatisfiedBy), and
// forgotten — nothing here persists past that point, matching spec.md §3's
// "forgotten unless its mode requires it to persist" (no mode here does).
type Job struct {
	ID     uint64
	UnitID string
	Verb   Verb
	Mode   Mode
}
