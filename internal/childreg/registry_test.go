package childreg

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWatchDoubleFails(t *testing.T) {
	r := New()
	require.NoError(t, r.Watch(100, "a.service"))
	err := r.Watch(100, "b.service")
	require.ErrorIs(t, err, ErrAlreadyWatched)
}

func TestUnwatchIdempotent(t *testing.T) {
	r := New()
	require.NoError(t, r.Watch(100, "a.service"))
	r.Unwatch(100)
	r.Unwatch(100) // second call must not panic or error
	_, ok := r.OwnerOf(100)
	require.False(t, ok)
}

type fakeWaiter struct {
	pids []int
	idx  int
}

func (f *fakeWaiter) Wait4() (int, syscall.WaitStatus, error) {
	if f.idx >= len(f.pids) {
		return 0, 0, nil
	}
	pid := f.pids[f.idx]
	f.idx++
	return pid, 0, nil
}

func TestOnSigchldDrainsAllCoalesced(t *testing.T) {
	r := New()
	require.NoError(t, r.Watch(1, "a.service"))
	require.NoError(t, r.Watch(2, "a.service"))

	w := &fakeWaiter{pids: []int{1, 2}}
	var seen []int
	r.OnSigchld(w, func(unitID string, e Exit) {
		seen = append(seen, e.Pid)
		require.Equal(t, "a.service", unitID)
	})

	require.ElementsMatch(t, []int{1, 2}, seen)
	_, ok := r.OwnerOf(1)
	require.False(t, ok)
	_, ok = r.OwnerOf(2)
	require.False(t, ok)
}

func TestOnSigchldUnknownPidSkipped(t *testing.T) {
	r := New()
	w := &fakeWaiter{pids: []int{999}}
	called := false
	r.OnSigchld(w, func(unitID string, e Exit) { called = true })
	require.False(t, called)
}
