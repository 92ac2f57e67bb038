package unitload

import (
	"github.com/rs/zerolog"

	"github.com/gosv/sysmaster/internal/queue"
	"github.com/gosv/sysmaster/internal/unit"
	"github.com/gosv/sysmaster/internal/unitdb"
)

// unitHandle is the concrete unit.Handle every loaded unit's Impl is given,
// binding it back into the database, the load/dbus/gc queues and the child
// registry without the Impl ever holding a strong reference to its own
// *unit.Unit (§9's non-owning-handle design note).
type unitHandle struct {
	u      *unit.Unit
	db     *unitdb.DB
	queues *queue.Queues
	reg    childRegistry
	log    zerolog.Logger
}

func (h *unitHandle) ID() string { return h.u.ID }

// Notify applies the Impl's reported active-state transition to the owning
// Unit and queues the dbus-style change notification (§4.C5); a terminal
// state additionally marks the unit for GC reconsideration.
func (h *unitHandle) Notify(old, new unit.ActiveState) {
	h.u.ApplyActiveState(new)
	h.queues.EnqueueDBus(queue.DBusNotify{UnitID: h.u.ID, Old: old.String(), New: new.String(), State: new})
	if new == unit.Inactive || new == unit.Failed {
		h.queues.EnqueueGC(h.u.ID)
	}
	h.log.Debug().Str("unit", h.u.ID).Str("old", old.String()).Str("new", new.String()).Msg("active state changed")
}

func (h *unitHandle) ChildWatch(pid int) error {
	return h.reg.Watch(pid, h.u.ID)
}

func (h *unitHandle) ChildUnwatch(pid int) {
	h.reg.Unwatch(pid)
}

// Trigger marks every unit that declares TriggeredBy this one for load
// reconsideration. It only enqueues those units for load; no job is
// dispatched for a triggered unit.
func (h *unitHandle) Trigger(source string) {
	for _, id := range h.db.ReverseNeighbors(h.u.ID, unit.AtomTriggeredBy) {
		h.queues.EnqueueLoad(id)
	}
	h.log.Debug().Str("unit", h.u.ID).Str("source", source).Msg("triggered dependents")
}
