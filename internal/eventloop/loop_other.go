//go:build !linux

package eventloop

import (
	"syscall"
	"time"
)

// Loop is the non-Linux fallback poller: a select-free, poll(2)-driven
// dispatcher sufficient for tests on darwin/CI where epoll is unavailable.
// Timer/signalfd sources (Linux-only) degrade to the plain select-on-fd
// path; callers on these platforms should prefer polling via Events().
type Loop struct {
	set  *sourceSet
	byFD map[int]*registration
}

func New() (*Loop, error) {
	return &Loop{set: newSourceSet(), byFD: make(map[int]*registration)}, nil
}

func (l *Loop) Close() error { return nil }

func (l *Loop) Register(src Source) error {
	r := l.set.add(src)
	l.byFD[src.FD()] = r
	return nil
}

func (l *Loop) Unregister(src Source) error {
	l.set.remove(src.Token())
	delete(l.byFD, src.FD())
	return nil
}

// RunOne polls every registered fd with poll(2) and dispatches the first
// ready source in priority order. timeoutMs < 0 blocks indefinitely, capped
// here to a generous ceiling so tests remain responsive.
func (l *Loop) RunOne(timeoutMs int) error {
	if len(l.byFD) == 0 {
		if timeoutMs < 0 {
			timeoutMs = 1000
		}
		time.Sleep(time.Duration(timeoutMs) * time.Millisecond)
		return nil
	}

	fds := make([]syscall.PollFd, 0, len(l.byFD))
	regs := make([]*registration, 0, len(l.byFD))
	for fd, r := range l.byFD {
		var events int16
		if r.src.Events()&EventRead != 0 {
			events |= 0x0001 // POLLIN
		}
		if r.src.Events()&EventWrite != 0 {
			events |= 0x0004 // POLLOUT
		}
		fds = append(fds, syscall.PollFd{Fd: int32(fd), Events: events})
		regs = append(regs, r)
	}

	to := timeoutMs
	if to < 0 {
		to = 1000
	}
	n, err := syscall.Poll(fds, to)
	if err != nil || n <= 0 {
		return nil
	}

	var ready []*registration
	readyEv := make(map[int]Events)
	for i, pf := range fds {
		if pf.Revents == 0 {
			continue
		}
		ready = append(ready, regs[i])
		var ev Events
		if pf.Revents&0x0001 != 0 {
			ev |= EventRead
		}
		if pf.Revents&0x0004 != 0 {
			ev |= EventWrite
		}
		readyEv[int(pf.Fd)] = ev
	}
	if len(ready) == 0 {
		return nil
	}
	order(ready)
	top := ready[0]
	top.src.Dispatch(readyEv[top.src.FD()])
	return nil
}
