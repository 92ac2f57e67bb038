package control

import (
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/gosv/sysmaster/internal/eventloop"
)

type fakeDispatcher struct {
	got []Request
}

func (f *fakeDispatcher) Dispatch(req Request) Response {
	f.got = append(f.got, req)
	return Response{Code: 0, Message: "ok:" + req.Verb + ":" + req.Unit}
}

type fakeRegistrar struct {
	registered   []eventloop.Source
	unregistered []eventloop.Source
}

func (r *fakeRegistrar) Register(src eventloop.Source) error {
	r.registered = append(r.registered, src)
	return nil
}

func (r *fakeRegistrar) Unregister(src eventloop.Source) error {
	r.unregistered = append(r.unregistered, src)
	return nil
}

func mustEncode(t *testing.T, req Request) []byte {
	t.Helper()
	payload, err := json.Marshal(req)
	require.NoError(t, err)
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[4:], payload)
	return out
}

func TestExtractFramesSingleComplete(t *testing.T) {
	buf := mustEncode(t, Request{Verb: "start", Unit: "a.service"})
	frames, rest, err := extractFrames(buf)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.Empty(t, rest)

	var req Request
	require.NoError(t, json.Unmarshal(frames[0], &req))
	require.Equal(t, "start", req.Verb)
	require.Equal(t, "a.service", req.Unit)
}

func TestExtractFramesPartialWaits(t *testing.T) {
	full := mustEncode(t, Request{Verb: "stop", Unit: "b.service"})
	partial := full[:len(full)-2]

	frames, rest, err := extractFrames(partial)
	require.NoError(t, err)
	require.Empty(t, frames)
	require.Equal(t, partial, rest)
}

func TestExtractFramesMultiple(t *testing.T) {
	var buf []byte
	buf = append(buf, mustEncode(t, Request{Verb: "start", Unit: "a.service"})...)
	buf = append(buf, mustEncode(t, Request{Verb: "stop", Unit: "b.service"})...)

	frames, rest, err := extractFrames(buf)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	require.Empty(t, rest)
}

func TestExtractFramesRejectsOversized(t *testing.T) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, maxFrameSize+1)
	_, _, err := extractFrames(buf)
	require.Error(t, err)
}

func TestHandleFrameRoutesToDispatcher(t *testing.T) {
	disp := &fakeDispatcher{}
	c := newConn(-1, &fakeRegistrar{}, disp, zerolog.Nop())

	payload, err := json.Marshal(Request{Verb: "reload", Unit: "c.service"})
	require.NoError(t, err)

	resp := c.handleFrame(payload)
	require.Equal(t, 0, resp.Code)
	require.Equal(t, "ok:reload:c.service", resp.Message)
	require.Len(t, disp.got, 1)
	require.Equal(t, "c.service", disp.got[0].Unit)
}

func TestHandleFrameBadJSON(t *testing.T) {
	disp := &fakeDispatcher{}
	c := newConn(-1, &fakeRegistrar{}, disp, zerolog.Nop())

	resp := c.handleFrame([]byte("not json"))
	require.Equal(t, 1, resp.Code)
	require.Empty(t, disp.got)
}

// TestDispatchOverSocketpair drives a real conn end-to-end over a unix
// socketpair, standing in for the TCP connection fd since both are plain
// stream sockets from the read/write syscalls' point of view.
func TestDispatchOverSocketpair(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})

	disp := &fakeDispatcher{}
	reg := &fakeRegistrar{}
	c := newConn(fds[0], reg, disp, zerolog.Nop())

	req := mustEncode(t, Request{Verb: "start", Unit: "echo.service"})
	_, err = unix.Write(fds[1], req)
	require.NoError(t, err)

	c.Dispatch(eventloop.EventRead)

	require.Len(t, disp.got, 1)
	require.Equal(t, "echo.service", disp.got[0].Unit)

	out := make([]byte, 256)
	n, err := unix.Read(fds[1], out)
	require.NoError(t, err)

	frames, rest, err := extractFrames(out[:n])
	require.NoError(t, err)
	require.Empty(t, rest)
	require.Len(t, frames, 1)

	var resp Response
	require.NoError(t, json.Unmarshal(frames[0], &resp))
	require.Equal(t, 0, resp.Code)
}

func TestDispatchEOFClosesConnection(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(fds[0]) })

	disp := &fakeDispatcher{}
	reg := &fakeRegistrar{}
	c := newConn(fds[0], reg, disp, zerolog.Nop())

	unix.Close(fds[1])
	c.Dispatch(eventloop.EventRead)

	require.Len(t, reg.unregistered, 1)
}
