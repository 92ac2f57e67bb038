package job

import (
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/gosv/sysmaster/internal/queue"
	"github.com/gosv/sysmaster/internal/unit"
	"github.com/gosv/sysmaster/internal/unitdb"
)

// startLog records the order fakeImpl.Start is invoked in, across units.
type startLog struct {
	mu    sync.Mutex
	order []string
}

func (s *startLog) record(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = append(s.order, id)
}

type fakeImpl struct {
	u   *unit.Unit
	log *startLog
}

func (f *fakeImpl) Load(unit.Section) error { return nil }
func (f *fakeImpl) Start() {
	f.log.record(f.u.ID)
	f.u.ApplyActiveState(unit.Active)
}
func (f *fakeImpl) Stop()                                  { f.u.ApplyActiveState(unit.Inactive) }
func (f *fakeImpl) Reload()                                {}
func (f *fakeImpl) SigchldEvent(pid, exitCode, sig int)     {}
func (f *fakeImpl) Dump() string                            { return "" }
func (f *fakeImpl) Coldplug()                               {}
func (f *fakeImpl) CheckGC() bool                           { return f.u.GetActiveState() == unit.Inactive }
func (f *fakeImpl) ResetFailed()                            {}

type noopHandle struct{}

func (noopHandle) ID() string                              { return "" }
func (noopHandle) Notify(old, new unit.ActiveState)         {}
func (noopHandle) ChildWatch(pid int) error                 { return nil }
func (noopHandle) ChildUnwatch(pid int)                     {}
func (noopHandle) Trigger(source string)                    {}

type fakeLoader struct {
	db *unitdb.DB
}

func (l *fakeLoader) Load(id string) (*unit.Unit, error) {
	u, ok := l.db.Get(id)
	if !ok {
		return nil, fmt.Errorf("fakeLoader: %s not installed", id)
	}
	return u, nil
}

func newUnit(db *unitdb.DB, log *startLog, id string) *unit.Unit {
	u := unit.New(id, unit.TypeService)
	u.Impl = &fakeImpl{u: u, log: log}
	db.Insert(u, noopHandle{})
	return u
}

func newTestManager(db *unitdb.DB) *Manager {
	return New(db, &fakeLoader{db: db}, zerolog.Nop())
}

func TestSubmitStartRespectsDependencyOrder(t *testing.T) {
	db := unitdb.New()
	log := &startLog{}
	a := newUnit(db, log, "a.service")
	b := newUnit(db, log, "b.service")
	db.AddEdge("a.service", "b.service", unit.AtomRequires)

	mgr := newTestManager(db)
	j, err := mgr.Submit("a.service", VerbStart, ModeReplace)
	require.NoError(t, err)
	require.Equal(t, VerbStart, j.Verb)

	require.Equal(t, []string{"b.service", "a.service"}, log.order)
	require.Equal(t, unit.Active, a.GetActiveState())
	require.Equal(t, unit.Active, b.GetActiveState())
}

func TestSubmitFailModeRejectsConflict(t *testing.T) {
	db := unitdb.New()
	log := &startLog{}
	newUnit(db, log, "a.service")

	mgr := newTestManager(db)
	_, err := mgr.Submit("a.service", VerbStart, ModeReplace)
	require.NoError(t, err)

	_, err = mgr.Submit("a.service", VerbStop, ModeFail)
	require.ErrorIs(t, err, ErrConflict)
}

func TestSubmitReplaceModeCancelsPrevious(t *testing.T) {
	db := unitdb.New()
	log := &startLog{}
	newUnit(db, log, "a.service")

	mgr := newTestManager(db)
	first, err := mgr.Submit("a.service", VerbStart, ModeReplace)
	require.NoError(t, err)

	second, err := mgr.Submit("a.service", VerbStop, ModeReplace)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	pending, ok := mgr.Pending("a.service")
	require.True(t, ok)
	require.Equal(t, VerbStop, pending.Verb)
}

func TestTryFinishCompletesJob(t *testing.T) {
	db := unitdb.New()
	log := &startLog{}
	newUnit(db, log, "a.service")

	mgr := newTestManager(db)
	_, err := mgr.Submit("a.service", VerbStart, ModeReplace)
	require.NoError(t, err)

	_, ok := mgr.Pending("a.service")
	require.True(t, ok)

	mgr.TryFinish("a.service", unit.Active)
	_, ok = mgr.Pending("a.service")
	require.False(t, ok)
}

func TestTryFinishIgnoresUnrelatedState(t *testing.T) {
	db := unitdb.New()
	log := &startLog{}
	newUnit(db, log, "a.service")

	mgr := newTestManager(db)
	_, err := mgr.Submit("a.service", VerbStart, ModeReplace)
	require.NoError(t, err)

	mgr.TryFinish("a.service", unit.Activating)
	_, ok := mgr.Pending("a.service")
	require.True(t, ok, "Activating does not satisfy a start job")
}

func TestProcessNotificationsDrainsQueue(t *testing.T) {
	db := unitdb.New()
	log := &startLog{}
	newUnit(db, log, "a.service")

	mgr := newTestManager(db)
	_, err := mgr.Submit("a.service", VerbStart, ModeReplace)
	require.NoError(t, err)

	mgr.ProcessNotifications([]queue.DBusNotify{
		{UnitID: "a.service", Old: "activating", New: "active", State: unit.Active},
	})
	_, ok := mgr.Pending("a.service")
	require.False(t, ok)
}

func TestIsolateStopsUnitsOutsideClosure(t *testing.T) {
	db := unitdb.New()
	log := &startLog{}
	target := newUnit(db, log, "target.service")
	_ = target
	other := newUnit(db, log, "other.service")
	other.Impl.Start() // pre-activate directly, outside the job manager

	mgr := newTestManager(db)
	_, err := mgr.Submit("target.service", VerbStart, ModeIsolate)
	require.NoError(t, err)

	require.Equal(t, unit.Inactive, other.GetActiveState())
	pending, ok := mgr.Pending("other.service")
	require.True(t, ok)
	require.Equal(t, VerbStop, pending.Verb)
}

func TestFlushCancelsUnrelatedJobs(t *testing.T) {
	db := unitdb.New()
	log := &startLog{}
	newUnit(db, log, "x.service")
	newUnit(db, log, "target.service")

	mgr := newTestManager(db)
	_, err := mgr.Submit("x.service", VerbStart, ModeReplace)
	require.NoError(t, err)

	_, err = mgr.Submit("target.service", VerbStart, ModeFlush)
	require.NoError(t, err)

	_, ok := mgr.Pending("x.service")
	require.False(t, ok)
}

func TestDependencyCycleDoesNotHang(t *testing.T) {
	db := unitdb.New()
	log := &startLog{}
	newUnit(db, log, "a.service")
	newUnit(db, log, "b.service")
	db.AddEdge("a.service", "b.service", unit.AtomRequires)
	db.AddEdge("b.service", "a.service", unit.AtomRequires)

	mgr := newTestManager(db)
	_, err := mgr.Submit("a.service", VerbStart, ModeReplace)
	require.NoError(t, err)
	require.Len(t, log.order, 2)
}
