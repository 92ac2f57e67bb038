//go:build !linux

package eventloop

import (
	"fmt"
	"os"
	"time"
)

// TimerSource on non-Linux platforms uses a time.AfterFunc writing into a
// self-pipe, keeping the same Source shape as the timerfd implementation.
type TimerSource struct {
	r, w     *os.File
	timer    *time.Timer
	priority int
	onFire   func()
}

func NewTimerSource(priority int, d time.Duration, onFire func()) (*TimerSource, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("eventloop: timer pipe: %w", err)
	}
	t := &TimerSource{r: r, w: w, priority: priority, onFire: onFire}
	t.timer = time.AfterFunc(d, func() {
		w.Write([]byte{0})
	})
	return t, nil
}

func (t *TimerSource) Token() string  { return fmt.Sprintf("timer:%d", t.r.Fd()) }
func (t *TimerSource) FD() int        { return int(t.r.Fd()) }
func (t *TimerSource) Events() Events { return EventRead }
func (t *TimerSource) Priority() int  { return t.priority }

func (t *TimerSource) Close() error {
	t.timer.Stop()
	t.w.Close()
	return t.r.Close()
}

func (t *TimerSource) Dispatch(ev Events) {
	buf := make([]byte, 8)
	t.r.Read(buf)
	t.onFire()
}
