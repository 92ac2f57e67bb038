package unit

import "sync"

// Impl is the capability set every per-type unit implementation exposes to
// the job manager and the loader. It mirrors the plugin interface of §6:
// a closed type switch replaces true plugin indirection per the design
// note that hot-swap of unit types is not a requirement here.
type Impl interface {
	Load(section Section) error
	Start()
	Stop()
	Reload()
	SigchldEvent(pid int, exitCode int, termSignal int)
	Dump() string
	Coldplug()
	CheckGC() bool
	ResetFailed()
}

// Section is the parsed key/value view of a unit file's private section
// (e.g. [Service]), handed to Impl.Load by the unit loader.
type Section map[string][]string

// Handle is the non-owning back-reference a Unit gives its Impl so it can
// call back into the manager (notify, child-watch) without a strong cycle.
// It is established at insertion into the database and cleared on removal,
// per §9's design note on cyclic ownership.
type Handle interface {
	ID() string
	Notify(old, new ActiveState)
	ChildWatch(pid int) error
	ChildUnwatch(pid int)
	Trigger(source string)
}

// Unit is the shared envelope present for every supervised object.
type Unit struct {
	mu sync.Mutex

	ID    string
	Type  Type
	Impl  Impl
	Rels  *Relations

	LoadState   LoadState
	ActiveState ActiveState

	// gcMarked is set by a GC pass candidate sweep before the unit is
	// actually proven unreferenced; cleared if any later check rejects it.
	gcMarked bool

	// refs counts shared ownership: the database itself counts as one,
	// plus one per pending job and one per incoming dependency edge.
	refs int

	handle Handle
}

// New creates a stub unit; Handle is attached once the unit is inserted
// into the database (see unitdb.DB.Insert).
func New(id string, typ Type) *Unit {
	return &Unit{
		ID:        id,
		Type:      typ,
		LoadState: LoadStub,
		Rels:      NewRelations(),
		refs:      1, // the database's own reference
	}
}

func (u *Unit) SetHandle(h Handle) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.handle = h
}

func (u *Unit) Handle() Handle {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.handle
}

// SetActiveState updates the observable state and notifies dependents via
// the attached handle, mirroring ServiceUnit::set_state in the original
// source (original_source/components/service/src/service.rs).
func (u *Unit) SetActiveState(s ActiveState) {
	u.mu.Lock()
	old := u.ActiveState
	u.ActiveState = s
	h := u.handle
	u.mu.Unlock()

	if h != nil && old != s {
		h.Notify(old, s)
	}
}

// ApplyActiveState records a new active state without invoking the handle's
// Notify callback. Per-type Impls (service.Service in particular) call
// handle.Notify directly as part of their own state transition, so the
// handle's Notify implementation applies the resulting state here rather
// than routing back through SetActiveState, which would re-enter Notify.
func (u *Unit) ApplyActiveState(s ActiveState) ActiveState {
	u.mu.Lock()
	defer u.mu.Unlock()
	old := u.ActiveState
	u.ActiveState = s
	return old
}

func (u *Unit) GetActiveState() ActiveState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.ActiveState
}

// Ref/Unref implement the shared-ownership count described in §3: a unit is
// removable only when refs == 1 (database-only), its active state is
// inactive or failed, and no pending jobs reference it.
func (u *Unit) Ref() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.refs++
}

func (u *Unit) Unref() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.refs > 0 {
		u.refs--
	}
}

func (u *Unit) RefCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.refs
}

// Removable reports whether the GC invariant in §3 holds: refs == 1
// (database-only), active state is inactive or failed.
func (u *Unit) Removable() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.refs != 1 {
		return false
	}
	return u.ActiveState == Inactive || u.ActiveState == Failed
}

func (u *Unit) MarkGC(marked bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.gcMarked = marked
}

func (u *Unit) GCMarked() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.gcMarked
}
