package manager

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gosv/sysmaster/internal/eventloop"
	"github.com/gosv/sysmaster/internal/service"
)

// loopRegistrar is the subset of *eventloop.Loop the timer adapter needs,
// declared locally so tests can substitute a fake loop.
type loopRegistrar interface {
	Register(src eventloop.Source) error
	Unregister(src eventloop.Source) error
}

// loopTimers adapts eventloop's one-shot timerfd sources to the
// service.Timers interface the per-unit state machines arm their
// restart/timeout windows against.
type loopTimers struct {
	loop loopRegistrar
	log  zerolog.Logger
}

func newLoopTimers(loop loopRegistrar, log zerolog.Logger) *loopTimers {
	return &loopTimers{loop: loop, log: log.With().Str("component", "timers").Logger()}
}

// Arm registers a new TimerSource and returns a handle that unregisters it.
// The handle's *eventloop.TimerSource field is assigned after construction,
// but before the loop ever gets a chance to run it, so onFire always sees
// it populated by the time it fires.
func (t *loopTimers) Arm(d time.Duration, onFire func()) service.TimerHandle {
	h := &timerHandle{loop: t.loop}

	ts, err := eventloop.NewTimerSource(0, d, func() {
		h.Disarm()
		onFire()
	})
	if err != nil {
		t.log.Error().Err(err).Msg("create timer failed")
		return noopTimerHandle{}
	}
	h.ts = ts

	if err := t.loop.Register(ts); err != nil {
		t.log.Error().Err(err).Msg("register timer failed")
		return noopTimerHandle{}
	}
	return h
}

type timerHandle struct {
	mu   sync.Mutex
	loop loopRegistrar
	ts   *eventloop.TimerSource
	done bool
}

func (h *timerHandle) Disarm() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done || h.ts == nil {
		return
	}
	h.done = true
	_ = h.loop.Unregister(h.ts)
	_ = h.ts.Close()
}

// noopTimerHandle is returned when arming fails outright; Disarm on it is
// simply a no-op rather than a nil deref.
type noopTimerHandle struct{}

func (noopTimerHandle) Disarm() {}
