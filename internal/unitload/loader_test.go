package unitload

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/gosv/sysmaster/internal/queue"
	"github.com/gosv/sysmaster/internal/service"
	"github.com/gosv/sysmaster/internal/spawn"
	"github.com/gosv/sysmaster/internal/unit"
	"github.com/gosv/sysmaster/internal/unitdb"
)

type fakeSpawner struct {
	calls [][]string
}

func (f *fakeSpawner) Spawn(unitID string, argv []string, ctx spawn.ExecContext) (int, error) {
	f.calls = append(f.calls, argv)
	return 1, nil
}

type fakeTimerHandle struct{}

func (fakeTimerHandle) Disarm() {}

type fakeTimers struct{}

func (fakeTimers) Arm(d time.Duration, onFire func()) service.TimerHandle {
	return fakeTimerHandle{}
}

type fakeRegistry struct {
	watched map[int]string
}

func newFakeRegistry() *fakeRegistry { return &fakeRegistry{watched: map[int]string{}} }

func (r *fakeRegistry) Watch(pid int, unitID string) error {
	r.watched[pid] = unitID
	return nil
}

func (r *fakeRegistry) Unwatch(pid int) { delete(r.watched, pid) }

func writeUnit(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func newTestLoader(t *testing.T, dir string) (*Loader, *unitdb.DB, *queue.Queues, *fakeSpawner) {
	db := unitdb.New()
	q := queue.New()
	sp := &fakeSpawner{}
	reg := newFakeRegistry()
	l := New(dir, db, q, sp, reg, fakeTimers{}, zerolog.Nop())
	return l, db, q, sp
}

func TestLoadServiceInstallsAndEnqueues(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "echo.service", "[Service]\nType=simple\nExecStart=/bin/true\n")

	l, db, q, _ := newTestLoader(t, dir)

	u, err := l.Load("echo.service")
	require.NoError(t, err)
	require.Equal(t, "echo.service", u.ID)
	require.Equal(t, unit.TypeService, u.Type)
	require.Equal(t, unit.LoadLoaded, u.LoadState)

	got, ok := db.Get("echo.service")
	require.True(t, ok)
	require.Same(t, u, got)

	require.Equal(t, []string{"echo.service"}, q.DrainLoad())
}

func TestLoadIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "echo.service", "[Service]\nExecStart=/bin/true\n")

	l, _, q, _ := newTestLoader(t, dir)

	first, err := l.Load("echo.service")
	require.NoError(t, err)
	q.DrainLoad()

	second, err := l.Load("echo.service")
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Empty(t, q.DrainLoad()) // second Load must not re-enqueue
}

func TestLoadMissingFileReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	l, _, _, _ := newTestLoader(t, dir)

	_, err := l.Load("ghost.service")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLoadUnrecognizedSuffixErrors(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "weird.timer", "[Timer]\n")

	l, _, _, _ := newTestLoader(t, dir)
	_, err := l.Load("weird.timer")
	require.Error(t, err)
}

func TestLoadParsesExecConditionIntoConditionStage(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "cond.service",
		"[Service]\nExecCondition=/bin/false\nExecStart=/bin/true\n")

	l, _, _, sp := newTestLoader(t, dir)
	u, err := l.Load("cond.service")
	require.NoError(t, err)

	u.Impl.Start()
	require.Equal(t, [][]string{{"/bin/false"}}, sp.calls)
}

func TestLoadTargetUnit(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "multi-user.target", "[Unit]\nDescription=multi user\n")

	l, _, _, _ := newTestLoader(t, dir)
	u, err := l.Load("multi-user.target")
	require.NoError(t, err)
	require.Equal(t, unit.TypeTarget, u.Type)

	u.Impl.Start()
	require.Equal(t, unit.Active, u.GetActiveState())
	u.Impl.Stop()
	require.Equal(t, unit.Inactive, u.GetActiveState())
}

func TestLoadInstallsUnitDependencyEdges(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "a.service", "[Unit]\nRequires=b.service\nAfter=b.service\n[Service]\nExecStart=/bin/true\n")
	writeUnit(t, dir, "b.service", "[Service]\nExecStart=/bin/true\n")

	l, db, _, _ := newTestLoader(t, dir)
	_, err := l.Load("a.service")
	require.NoError(t, err)
	_, err = l.Load("b.service")
	require.NoError(t, err)

	require.Equal(t, []string{"b.service"}, db.Neighbors("a.service", unit.AtomRequires))
	require.Equal(t, []string{"a.service"}, db.ReverseNeighbors("b.service", unit.AtomRequires))
}
