package eventloop

import (
	"fmt"
	"os"
	"os/signal"
)

// SignalSource delivers process signals as an ordinary readiness event, so
// signal handling shares the same priority-ordered dispatch as every other
// source instead of a side-channel goroutine. It uses the classic self-pipe
// trick (signal.Notify feeding an os.Pipe whose read end is polled) rather
// than a raw signalfd, so it needs no per-platform syscall wiring.
type SignalSource struct {
	ch       chan os.Signal
	r        *os.File
	w        *os.File
	priority int
	onSignal func(sig os.Signal)
}

func NewSignalSource(priority int, onSignal func(sig os.Signal), sigs ...os.Signal) (*SignalSource, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("eventloop: signal pipe: %w", err)
	}
	ch := make(chan os.Signal, 64)
	signal.Notify(ch, sigs...)

	s := &SignalSource{ch: ch, r: r, w: w, priority: priority, onSignal: onSignal}
	go s.pump()
	return s, nil
}

// pump forwards each received signal into the wakeup pipe; the event loop
// only ever observes readiness on s.r, never the channel directly, so all
// delivery still happens on the loop goroutine via Dispatch.
func (s *SignalSource) pump() {
	for range s.ch {
		s.w.Write([]byte{0})
	}
}

func (s *SignalSource) Token() string  { return fmt.Sprintf("signal:%d", s.r.Fd()) }
func (s *SignalSource) FD() int        { return int(s.r.Fd()) }
func (s *SignalSource) Events() Events { return EventRead }
func (s *SignalSource) Priority() int  { return s.priority }

func (s *SignalSource) Close() error {
	signal.Stop(s.ch)
	close(s.ch)
	s.w.Close()
	return s.r.Close()
}

// Dispatch drains the wakeup pipe and the signal channel together — a
// single readiness event may correspond to several coalesced signals,
// mirroring SIGCHLD's own coalescing behavior.
func (s *SignalSource) Dispatch(ev Events) {
	buf := make([]byte, 64)
	s.r.Read(buf)
	for {
		select {
		case sig := <-s.ch:
			s.onSignal(sig)
		default:
			return
		}
	}
}
