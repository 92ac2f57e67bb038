package unitdb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gosv/sysmaster/internal/unit"
)

type noopHandle struct{ id string }

func (h noopHandle) ID() string                      { return h.id }
func (h noopHandle) Notify(old, new unit.ActiveState) {}
func (h noopHandle) ChildWatch(pid int) error         { return nil }
func (h noopHandle) ChildUnwatch(pid int)             {}
func (h noopHandle) Trigger(source string)            {}

func TestInsertGet(t *testing.T) {
	db := New()
	u := unit.New("a.service", unit.TypeService)
	db.Insert(u, noopHandle{"a.service"})

	got, ok := db.Get("a.service")
	require.True(t, ok)
	require.Equal(t, u, got)
	require.NotNil(t, got.Handle())
}

func TestAddEdgeDedup(t *testing.T) {
	db := New()
	a := unit.New("a.service", unit.TypeService)
	b := unit.New("b.service", unit.TypeService)
	db.Insert(a, noopHandle{"a.service"})
	db.Insert(b, noopHandle{"b.service"})

	db.AddEdge("a.service", "b.service", unit.AtomAfter)
	db.AddEdge("a.service", "b.service", unit.AtomAfter)

	require.ElementsMatch(t, []string{"b.service"}, db.Neighbors("a.service", unit.AtomAfter))
	require.ElementsMatch(t, []string{"a.service"}, db.ReverseNeighbors("b.service", unit.AtomAfter))
}

func TestRemoveClearsIncidentEdges(t *testing.T) {
	db := New()
	a := unit.New("a.service", unit.TypeService)
	b := unit.New("b.service", unit.TypeService)
	db.Insert(a, noopHandle{"a.service"})
	db.Insert(b, noopHandle{"b.service"})
	db.AddEdge("a.service", "b.service", unit.AtomTriggeredBy)

	db.Remove("a.service")

	_, ok := db.Get("a.service")
	require.False(t, ok)
	require.Empty(t, db.ReverseNeighbors("b.service", unit.AtomTriggeredBy))
}

func TestGCMarkAndSweepRemovesOnlyRemovable(t *testing.T) {
	db := New()
	a := unit.New("a.service", unit.TypeService)
	a.SetActiveState(unit.Inactive)
	b := unit.New("b.service", unit.TypeService)
	b.SetActiveState(unit.Active)
	db.Insert(a, noopHandle{"a.service"})
	db.Insert(b, noopHandle{"b.service"})

	removed := db.GCMarkAndSweep()

	require.Equal(t, []string{"a.service"}, removed)
	_, ok := db.Get("b.service")
	require.True(t, ok)
}

func TestGCSkipsReferencedUnit(t *testing.T) {
	db := New()
	a := unit.New("a.service", unit.TypeService)
	a.SetActiveState(unit.Inactive)
	a.Ref() // simulate a pending job reference
	db.Insert(a, noopHandle{"a.service"})

	removed := db.GCMarkAndSweep()

	require.Empty(t, removed)
}
