package queue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDrainLoadEmptiesQueue(t *testing.T) {
	q := New()
	q.EnqueueLoad("a.service")
	q.EnqueueLoad("b.service")

	got := q.DrainLoad()
	require.Equal(t, []string{"a.service", "b.service"}, got)
	require.Empty(t, q.DrainLoad())
}

func TestDrainDBus(t *testing.T) {
	q := New()
	q.EnqueueDBus(DBusNotify{UnitID: "a.service", Old: "inactive", New: "active"})
	got := q.DrainDBus()
	require.Len(t, got, 1)
	require.Equal(t, "a.service", got[0].UnitID)
	require.Empty(t, q.DrainDBus())
}

func TestDrainGC(t *testing.T) {
	q := New()
	q.EnqueueGC("a.service")
	require.Equal(t, []string{"a.service"}, q.DrainGC())
	require.Empty(t, q.DrainGC())
}
