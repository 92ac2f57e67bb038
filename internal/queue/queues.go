// Package queue implements the three runtime work lists of §4.C5: load,
// dbus-notify, and gc. Each is a single-threaded FIFO drained at the end of
// a dispatch cycle — never touched from more than the event-loop goroutine.
package queue

import "github.com/gosv/sysmaster/internal/unit"

// Queues bundles the three lists the manager drains after each dispatch.
type Queues struct {
	load []string
	dbus []DBusNotify
	gc   []string
}

// DBusNotify is one state-transition notification queued for emission; the
// name matches the original source's terminology even though no real dbus
// transport exists here (§6 names only the control-socket transport as a
// concrete external interface — property-changed emission is a local
// queue with no subscription mechanism).
// State carries the raw new ActiveState alongside the stringified Old/New
// pair, so the job manager's try_finish (§4.C8) can drain this same queue
// without reparsing display strings.
type DBusNotify struct {
	UnitID string
	Old    string
	New    string
	State  unit.ActiveState
}

func New() *Queues {
	return &Queues{}
}

// EnqueueLoad adds id to the load queue, used for units awaiting completion
// of cross-referenced dependencies (§4.C4/C5).
func (q *Queues) EnqueueLoad(id string) {
	q.load = append(q.load, id)
}

// DrainLoad removes and returns every queued load entry.
func (q *Queues) DrainLoad() []string {
	out := q.load
	q.load = nil
	return out
}

func (q *Queues) EnqueueDBus(n DBusNotify) {
	q.dbus = append(q.dbus, n)
}

func (q *Queues) DrainDBus() []DBusNotify {
	out := q.dbus
	q.dbus = nil
	return out
}

// EnqueueGC marks id for GC reconsideration.
func (q *Queues) EnqueueGC(id string) {
	q.gc = append(q.gc, id)
}

func (q *Queues) DrainGC() []string {
	out := q.gc
	q.gc = nil
	return out
}
