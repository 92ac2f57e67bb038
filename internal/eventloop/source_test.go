package eventloop

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	token    string
	priority int
}

func (f fakeSource) Token() string    { return f.token }
func (f fakeSource) FD() int          { return 0 }
func (f fakeSource) Events() Events   { return EventRead }
func (f fakeSource) Priority() int    { return f.priority }
func (f fakeSource) Dispatch(ev Events) {}

func TestOrderByPriorityThenInsertion(t *testing.T) {
	set := newSourceSet()
	a := set.add(fakeSource{"a", 5})
	b := set.add(fakeSource{"b", -1})
	c := set.add(fakeSource{"c", -1})

	regs := []*registration{a, b, c}
	order(regs)

	require.Equal(t, []string{"b", "c", "a"}, []string{regs[0].src.Token(), regs[1].src.Token(), regs[2].src.Token()})
}

func TestRemove(t *testing.T) {
	set := newSourceSet()
	set.add(fakeSource{"a", 0})
	set.add(fakeSource{"b", 0})
	set.remove("a")
	require.Len(t, set.regs, 1)
	require.Equal(t, "b", set.regs[0].src.Token())
}
