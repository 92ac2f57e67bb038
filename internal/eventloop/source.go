// Package eventloop is the single-threaded cooperative dispatcher of §4.C1:
// it multiplexes readiness for file descriptors, signals, and timers behind
// a common Source abstraction and runs exactly one dispatch per Run cycle.
//
// Grounded on joeycumines-go-utilpkg/eventloop's FastPoller (epoll wrapper)
// for the Linux poller; adapted here so signals (through a self-pipe fed by
// os/signal) and timerfd timers participate as ordinary Sources, per
// §4.C1's "polymorphic over the capability set" contract.
package eventloop

import "sort"

// Events is the epoll-style readiness bitmask a Source cares about.
type Events uint32

const (
	EventRead Events = 1 << iota
	EventWrite
	EventError
	EventHangup
)

// Source is one registrable event origin: fd readiness, signalfd, or
// timerfd all satisfy this. Priority breaks ties on simultaneous
// readiness, lower values dispatch first; ties break by insertion order.
type Source interface {
	// Token is a stable identity used for registration bookkeeping.
	Token() string
	// FD returns the underlying descriptor to poll.
	FD() int
	// Events returns the epoll bitmask of interest.
	Events() Events
	// Priority orders dispatch among simultaneously-ready sources, -127..127.
	Priority() int
	// Dispatch handles one readiness event. Must not block.
	Dispatch(ev Events)
}

// registration pairs a Source with its insertion order, for stable
// priority-tie breaking.
type registration struct {
	src   Source
	order int
}

// sourceSet is the poller-independent bookkeeping shared by every platform
// poller implementation: insertion order and priority sort.
type sourceSet struct {
	regs    []*registration
	nextOrd int
}

func newSourceSet() *sourceSet {
	return &sourceSet{}
}

func (s *sourceSet) add(src Source) *registration {
	r := &registration{src: src, order: s.nextOrd}
	s.nextOrd++
	s.regs = append(s.regs, r)
	return r
}

func (s *sourceSet) remove(token string) {
	for i, r := range s.regs {
		if r.src.Token() == token {
			s.regs = append(s.regs[:i], s.regs[i+1:]...)
			return
		}
	}
}

// order sorts a slice of ready registrations by (priority asc, order asc).
func order(regs []*registration) {
	sort.SliceStable(regs, func(i, j int) bool {
		if regs[i].src.Priority() != regs[j].src.Priority() {
			return regs[i].src.Priority() < regs[j].src.Priority()
		}
		return regs[i].order < regs[j].order
	})
}
