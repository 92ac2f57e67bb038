package control

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/gosv/sysmaster/internal/eventloop"
)

var connSeq int

// conn is one accepted connection. Dispatch never blocks (§5): each call
// does one non-blocking read, appends it to buf, and extracts every
// complete frame currently buffered — a partial frame waits for the next
// readiness notification instead of spinning.
type conn struct {
	fd    int
	token string
	loop  registrar
	disp  Dispatcher
	log   zerolog.Logger
	buf   []byte
}

func newConn(fd int, loop registrar, disp Dispatcher, log zerolog.Logger) *conn {
	connSeq++
	return &conn{
		fd:    fd,
		token: fmt.Sprintf("control-conn-%d-%d", fd, connSeq),
		loop:  loop,
		disp:  disp,
		log:   log,
	}
}

func (c *conn) Token() string            { return c.token }
func (c *conn) FD() int                  { return c.fd }
func (c *conn) Events() eventloop.Events { return eventloop.EventRead }
func (c *conn) Priority() int            { return 0 }

func (c *conn) Dispatch(ev eventloop.Events) {
	if ev&(eventloop.EventHangup|eventloop.EventError) != 0 {
		c.close()
		return
	}

	chunk := make([]byte, 4096)
	n, err := unix.Read(c.fd, chunk)
	if err != nil {
		if err == unix.EAGAIN {
			return
		}
		c.close()
		return
	}
	if n == 0 {
		c.close()
		return
	}
	c.buf = append(c.buf, chunk[:n]...)

	frames, rest, err := extractFrames(c.buf)
	if err != nil {
		c.log.Warn().Err(err).Msg("bad frame, closing connection")
		c.close()
		return
	}
	c.buf = rest
	for _, body := range frames {
		c.writeResponse(c.handleFrame(body))
	}
}

// extractFrames pulls every complete length-prefixed frame out of buf,
// returning the frame bodies in order and the unconsumed remainder.
func extractFrames(buf []byte) (frames [][]byte, rest []byte, err error) {
	for {
		if len(buf) < 4 {
			return frames, buf, nil
		}
		frameLen := binary.BigEndian.Uint32(buf[:4])
		if frameLen == 0 || frameLen > maxFrameSize {
			return frames, buf, fmt.Errorf("control: invalid frame length %d", frameLen)
		}
		if uint32(len(buf)-4) < frameLen {
			return frames, buf, nil
		}
		frames = append(frames, buf[4:4+frameLen])
		buf = buf[4+frameLen:]
	}
}

func (c *conn) handleFrame(body []byte) Response {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return Response{Code: 1, Message: fmt.Sprintf("bad request: %v", err)}
	}
	return c.disp.Dispatch(req)
}

func encodeFrame(resp Response) ([]byte, error) {
	payload, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[4:], payload)
	return out, nil
}

// writeResponse writes one frame. Loopback sends of a small JSON response
// practically never fill the socket send buffer, so this loops on EAGAIN
// rather than tracking write-readiness separately — a full flow-controlled
// write path is out of scope for this control plane (§1's Non-goals on a
// production-grade RPC stack).
func (c *conn) writeResponse(resp Response) {
	full, err := encodeFrame(resp)
	if err != nil {
		c.log.Warn().Err(err).Msg("marshal response failed")
		return
	}
	off := 0
	for off < len(full) {
		n, err := unix.Write(c.fd, full[off:])
		if err != nil {
			if err == unix.EAGAIN {
				continue
			}
			c.log.Warn().Err(err).Msg("write failed")
			return
		}
		off += n
	}
}

func (c *conn) close() {
	c.loop.Unregister(c)
	unix.Close(c.fd)
}
