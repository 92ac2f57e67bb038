//go:build linux

package eventloop

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// TimerSource is a one-shot timerfd: every timeout knob in §3 (condition,
// start, stop, abort, watchdog, restart) is armed as one of these and
// disarmed (closed) on state exit, per §5's "arm on entry, disarm on exit"
// ordering guarantee.
type TimerSource struct {
	fd       int
	priority int
	onFire   func()
}

func NewTimerSource(priority int, d time.Duration, onFire func()) (*TimerSource, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("eventloop: timerfd_create: %w", err)
	}
	spec := &unix.ItimerSpec{
		Value: unix.NsecToTimespec(d.Nanoseconds()),
	}
	if err := unix.TimerfdSettime(fd, 0, spec, nil); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("eventloop: timerfd_settime: %w", err)
	}
	return &TimerSource{fd: fd, priority: priority, onFire: onFire}, nil
}

func (t *TimerSource) Token() string  { return fmt.Sprintf("timerfd:%d", t.fd) }
func (t *TimerSource) FD() int        { return t.fd }
func (t *TimerSource) Events() Events { return EventRead }
func (t *TimerSource) Priority() int  { return t.priority }
func (t *TimerSource) Close() error   { return unix.Close(t.fd) }

func (t *TimerSource) Dispatch(ev Events) {
	buf := make([]byte, 8)
	unix.Read(t.fd, buf)
	t.onFire()
}
