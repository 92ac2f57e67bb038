package job

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/gosv/sysmaster/internal/queue"
	"github.com/gosv/sysmaster/internal/unit"
	"github.com/gosv/sysmaster/internal/unitdb"
)

// ErrConflict is returned by Submit under ModeFail when a job is already
// pending against the same unit.
var ErrConflict = errors.New("job: conflicting job already pending")

// loader is the subset of *unitload.Loader the job manager needs to ensure
// a dependency is installed before dispatching it, declared locally so
// tests can substitute a fake rather than wiring the real loader.
type loader interface {
	Load(id string) (*unit.Unit, error)
}

// dependencyAtoms is the set of atoms that pull a unit into another's
// start-up closure; After/Before alone order two units already being
// started but name no ownership, so they are not walked here.
var dependencyAtoms = []unit.Atom{unit.AtomRequires, unit.AtomWants, unit.AtomPartOf}

// Manager is the single job queue serving the whole unit database. Per
// §5's concurrency model it is only ever touched from the event-loop
// goroutine; the mutex guards introspection callers (control server, dump).
type Manager struct {
	mu sync.Mutex

	db     *unitdb.DB
	loader loader
	log    zerolog.Logger

	jobs   map[string]*Job // unitID -> the one pending job against it
	nextID uint64
}

func New(db *unitdb.DB, ld loader, log zerolog.Logger) *Manager {
	return &Manager{
		db:     db,
		loader: ld,
		jobs:   make(map[string]*Job),
		log:    log.With().Str("component", "job").Logger(),
	}
}

// Submit turns an intent into a job, resolves mode-driven conflicts against
// any job already pending for unitID, ensures the unit is loaded, and
// dispatches it through its dependency closure.
func (m *Manager) Submit(unitID string, verb Verb, mode Mode) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.jobs[unitID]; ok {
		switch mode {
		case ModeFail:
			return nil, fmt.Errorf("%w: %s has job %q", ErrConflict, unitID, existing.Verb)
		default:
			delete(m.jobs, unitID)
		}
	}

	if mode == ModeFlush {
		m.flushUnrelatedLocked(unitID)
	}

	u, err := m.loader.Load(unitID)
	if err != nil {
		return nil, err
	}

	m.nextID++
	j := &Job{ID: m.nextID, UnitID: unitID, Verb: verb, Mode: mode}
	m.jobs[unitID] = j

	m.log.Debug().Str("unit", unitID).Str("verb", verb.String()).Str("mode", mode.String()).Msg("job submitted")
	m.dispatchLocked(j, u)

	if mode == ModeIsolate {
		m.isolateLocked(unitID)
	}

	return j, nil
}

func (m *Manager) dispatchLocked(j *Job, u *unit.Unit) {
	if u.Impl == nil {
		return
	}
	switch j.Verb {
	case VerbStart:
		m.startClosureLocked(u, map[string]bool{})
	case VerbStop:
		u.Impl.Stop()
	case VerbReload:
		u.Impl.Reload()
	case VerbRestart:
		u.Impl.Stop()
		u.Impl.Start()
	}
}

// startClosureLocked walks Requires/Wants/PartOf dependencies depth-first,
// starting each one not already active before starting u itself — the
// after/before ordering spec.md §4.C8 asks for falls out of this, since
// unit files pair Requires with After on the same target by convention.
// visiting guards against a dependency cycle spinning forever.
func (m *Manager) startClosureLocked(u *unit.Unit, visiting map[string]bool) {
	if visiting[u.ID] {
		return
	}
	visiting[u.ID] = true

	for _, atom := range dependencyAtoms {
		for _, depID := range m.db.Neighbors(u.ID, atom) {
			dep, err := m.loader.Load(depID)
			if err != nil {
				m.log.Warn().Str("unit", u.ID).Str("dependency", depID).Err(err).Msg("dependency load failed")
				continue
			}
			if dep.Impl != nil && dep.GetActiveState() != unit.Active {
				m.startClosureLocked(dep, visiting)
			}
		}
	}

	u.Impl.Start()
}

// TryFinish is called once per state-change notification drained from
// C5's dbus queue (spec.md §4.C8). A job completes the instant its unit
// reaches a state that satisfies its verb; it is then forgotten.
func (m *Manager) TryFinish(unitID string, newState unit.ActiveState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[unitID]
	if !ok {
		return
	}
	if !jobSatisfiedBy(j.Verb, newState) {
		return
	}
	delete(m.jobs, unitID)
	m.log.Debug().Str("unit", unitID).Str("verb", j.Verb.String()).Str("state", newState.String()).Msg("job finished")
}

// ProcessNotifications drains a batch of dbus-queue entries through
// TryFinish; callers pull the batch from queue.Queues.DrainDBus each
// dispatch cycle per §5's ordering guarantee (state-change notifications
// fire before the next job evaluation).
func (m *Manager) ProcessNotifications(notifications []queue.DBusNotify) {
	for _, n := range notifications {
		m.TryFinish(n.UnitID, n.State)
	}
}

func jobSatisfiedBy(v Verb, s unit.ActiveState) bool {
	switch v {
	case VerbStart, VerbRestart:
		return s == unit.Active || s == unit.Failed
	case VerbStop:
		return s == unit.Inactive || s == unit.Failed
	case VerbReload:
		return s == unit.Active
	default:
		return false
	}
}

// Pending reports whether a job is currently outstanding against unitID.
func (m *Manager) Pending(unitID string) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[unitID]
	return j, ok
}

// flushUnrelatedLocked drops every pending job whose unit is not the
// target itself or in its dependency closure (§4.C8 "flush" mode).
func (m *Manager) flushUnrelatedLocked(targetID string) {
	closure := m.dependencyClosureLocked(targetID)
	for id := range m.jobs {
		if id == targetID || closure[id] {
			continue
		}
		delete(m.jobs, id)
	}
}

// isolateLocked stops every installed unit not in the target's dependency
// closure (§4.C8 "isolate" mode), e.g. switching multi-user.target.
func (m *Manager) isolateLocked(targetID string) {
	closure := m.dependencyClosureLocked(targetID)
	for _, id := range m.db.All() {
		if id == targetID || closure[id] {
			continue
		}
		u, ok := m.db.Get(id)
		if !ok || u.Impl == nil || u.GetActiveState() == unit.Inactive {
			continue
		}
		m.nextID++
		m.jobs[id] = &Job{ID: m.nextID, UnitID: id, Verb: VerbStop, Mode: ModeReplace}
		u.Impl.Stop()
	}
}

func (m *Manager) dependencyClosureLocked(id string) map[string]bool {
	seen := map[string]bool{id: true}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, atom := range dependencyAtoms {
			for _, to := range m.db.Neighbors(cur, atom) {
				if !seen[to] {
					seen[to] = true
					queue = append(queue, to)
				}
			}
		}
	}
	return seen
}
