package control

import (
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/gosv/sysmaster/internal/eventloop"
)

// registrar is the subset of *eventloop.Loop the listener and its
// connections need, declared locally so tests can substitute a fake
// instead of driving a real epoll instance.
type registrar interface {
	Register(src eventloop.Source) error
	Unregister(src eventloop.Source) error
}

// Listener is the accept-loop Source for one loopback port: a raw
// non-blocking socket built with golang.org/x/sys/unix (already this
// tree's poller dependency) rather than net.Listen, since registering a
// net.Listener's fd with a hand-rolled epoll loop needs the same raw
// syscalls anyway once you go through (*net.TCPListener).File().
type Listener struct {
	fd    int
	port  int
	token string
	loop  registrar
	disp  Dispatcher
	log   zerolog.Logger
}

// Listen binds, listens, and registers a Listener for port with loop.
func Listen(loop registrar, port int, disp Dispatcher, log zerolog.Logger) (*Listener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("control: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("control: setsockopt: %w", err)
	}

	addr := &unix.SockaddrInet4{Port: port}
	addr.Addr = [4]byte{127, 0, 0, 1}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("control: bind :%d: %w", port, err)
	}
	if err := unix.Listen(fd, 16); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("control: listen :%d: %w", port, err)
	}

	l := &Listener{
		fd:    fd,
		port:  port,
		token: fmt.Sprintf("control-listen-%d", port),
		loop:  loop,
		disp:  disp,
		log:   log.With().Str("component", "control").Int("port", port).Logger(),
	}
	if err := loop.Register(l); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("control: register listener :%d: %w", port, err)
	}
	return l, nil
}

func (l *Listener) Token() string            { return l.token }
func (l *Listener) FD() int                  { return l.fd }
func (l *Listener) Events() eventloop.Events { return eventloop.EventRead }
func (l *Listener) Priority() int            { return 0 }

// Dispatch accepts every connection currently pending, since a single
// epoll readiness notification can represent more than one backlogged
// connect.
func (l *Listener) Dispatch(ev eventloop.Events) {
	for {
		nfd, _, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			l.log.Warn().Err(err).Msg("accept failed")
			return
		}
		c := newConn(nfd, l.loop, l.disp, l.log)
		if err := l.loop.Register(c); err != nil {
			l.log.Warn().Err(err).Msg("register connection failed")
			unix.Close(nfd)
		}
	}
}

func (l *Listener) Close() error {
	l.loop.Unregister(l)
	return unix.Close(l.fd)
}
