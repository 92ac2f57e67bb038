package unitload

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/gosv/sysmaster/internal/unit"
)

// targetImpl is a pure synchronization point: no process, no commands.
// Start/Stop just flip the observable active state and, on Start, trigger
// any TriggeredBy dependents — matching SPEC_FULL.md's note that target
// semantics beyond "no-process unit" are out of the hard core.
type targetImpl struct {
	mu     sync.Mutex
	handle unit.Handle
	log    zerolog.Logger
	active bool
}

func newTargetImpl(h unit.Handle, log zerolog.Logger) *targetImpl {
	return &targetImpl{handle: h, log: log.With().Str("component", "target").Logger()}
}

func (t *targetImpl) Load(section unit.Section) error { return nil }

func (t *targetImpl) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active {
		return
	}
	t.active = true
	t.handle.Notify(unit.Inactive, unit.Active)
	t.handle.Trigger("target-start")
}

func (t *targetImpl) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return
	}
	t.active = false
	t.handle.Notify(unit.Active, unit.Inactive)
}

func (t *targetImpl) Reload() {}

func (t *targetImpl) SigchldEvent(pid, exitCode, termSignal int) {}

func (t *targetImpl) Dump() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fmt.Sprintf("target active=%v", t.active)
}

func (t *targetImpl) Coldplug() {}

func (t *targetImpl) CheckGC() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.active
}

func (t *targetImpl) ResetFailed() {}
