// Package unit defines the shared data model for every supervised object:
// the Unit envelope, load/active state enums, dependency atoms, and the
// capability set a per-type implementation (service, target, socket) must
// provide so the job manager can dispatch over unit types with a single
// type switch instead of plugin indirection.
package unit

import "fmt"

// Type identifies which per-type implementation backs a Unit.
type Type int

const (
	TypeService Type = iota
	TypeTarget
	TypeSocket
)

func (t Type) String() string {
	switch t {
	case TypeService:
		return "service"
	case TypeTarget:
		return "target"
	case TypeSocket:
		return "socket"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// LoadState tracks whether a unit's definition was found and parsed.
type LoadState int

const (
	LoadStub LoadState = iota
	LoadLoaded
	LoadNotFound
	LoadError
)

func (s LoadState) String() string {
	switch s {
	case LoadStub:
		return "stub"
	case LoadLoaded:
		return "loaded"
	case LoadNotFound:
		return "not-found"
	case LoadError:
		return "error"
	default:
		return fmt.Sprintf("load(%d)", int(s))
	}
}

// ActiveState is the observable activation state exposed to dependents,
// the dbus-notify queue, and job completion (try_finish).
type ActiveState int

const (
	Inactive ActiveState = iota
	Activating
	Active
	Deactivating
	Failed
	Reloading
)

func (s ActiveState) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Activating:
		return "activating"
	case Active:
		return "active"
	case Deactivating:
		return "deactivating"
	case Failed:
		return "failed"
	case Reloading:
		return "reloading"
	default:
		return fmt.Sprintf("active(%d)", int(s))
	}
}

// Atom is a typed dependency edge label.
type Atom int

const (
	AtomRequires Atom = iota
	AtomWants
	AtomAfter
	AtomBefore
	AtomTriggeredBy
	AtomConflicts
	AtomPartOf
)

func (a Atom) String() string {
	switch a {
	case AtomRequires:
		return "requires"
	case AtomWants:
		return "wants"
	case AtomAfter:
		return "after"
	case AtomBefore:
		return "before"
	case AtomTriggeredBy:
		return "triggered-by"
	case AtomConflicts:
		return "conflicts"
	case AtomPartOf:
		return "part-of"
	default:
		return fmt.Sprintf("atom(%d)", int(a))
	}
}
