//go:build linux

package eventloop

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Loop is the concrete Linux poller: one epoll instance, a map from fd to
// registration, priority-ordered inline dispatch. No version counter or
// lock is used; the loop runs on one goroutine.
type Loop struct {
	epfd int
	set  *sourceSet
	byFD map[int]*registration
	buf  []unix.EpollEvent
}

func New() (*Loop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("eventloop: epoll_create1: %w", err)
	}
	return &Loop{
		epfd: epfd,
		set:  newSourceSet(),
		byFD: make(map[int]*registration),
		buf:  make([]unix.EpollEvent, 256),
	}, nil
}

func (l *Loop) Close() error {
	return unix.Close(l.epfd)
}

// Register adds src to the poller. Re-entrant registration from within a
// Dispatch callback is permitted; it takes effect on the next Run.
func (l *Loop) Register(src Source) error {
	r := l.set.add(src)
	l.byFD[src.FD()] = r

	ev := &unix.EpollEvent{
		Events: eventsToEpoll(src.Events()),
		Fd:     int32(src.FD()),
	}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, src.FD(), ev); err != nil {
		l.set.remove(src.Token())
		delete(l.byFD, src.FD())
		return fmt.Errorf("eventloop: epoll_ctl add: %w", err)
	}
	return nil
}

func (l *Loop) Unregister(src Source) error {
	l.set.remove(src.Token())
	delete(l.byFD, src.FD())
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, src.FD(), nil); err != nil {
		return fmt.Errorf("eventloop: epoll_ctl del: %w", err)
	}
	return nil
}

// RunOne waits for the next ready source and invokes exactly one dispatch,
// per §4.C1's run_one contract. timeoutMs < 0 blocks indefinitely.
func (l *Loop) RunOne(timeoutMs int) error {
	n, err := unix.EpollWait(l.epfd, l.buf, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("eventloop: epoll_wait: %w", err)
	}
	if n == 0 {
		return nil
	}

	var ready []*registration
	readyEv := make(map[int]Events, n)
	for i := 0; i < n; i++ {
		fd := int(l.buf[i].Fd)
		r, ok := l.byFD[fd]
		if !ok {
			continue
		}
		ready = append(ready, r)
		readyEv[fd] = epollToEvents(l.buf[i].Events)
	}
	if len(ready) == 0 {
		return nil
	}
	order(ready)

	// Contract: exactly one dispatch per RunOne.
	top := ready[0]
	top.src.Dispatch(readyEv[top.src.FD()])
	return nil
}

func eventsToEpoll(events Events) uint32 {
	var e uint32
	if events&EventRead != 0 {
		e |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func epollToEvents(e uint32) Events {
	var events Events
	if e&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if e&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if e&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if e&unix.EPOLLHUP != 0 {
		events |= EventHangup
	}
	return events
}
