package chat

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/eapache/queue"

	"github.com/zwy2021/ChatRoom/internal/poll"
)

const (
	// maxReadsPerDrain bounds how many buffer-fulls one readiness event
	// may consume, so a flooding peer cannot monopolise the reactor.
	maxReadsPerDrain = 16

	// writeWaitSlice is how long a blocking sender waits for POLLOUT
	// before re-checking for cancellation.
	writeWaitSlice = 100 * time.Millisecond
)

// Conn is the per-peer state of one non-blocking socket. Its buffers are
// never shared with another Conn.
type Conn struct {
	fd    int
	id    int
	peer  *net.TCPAddr
	state ConnState

	rbuf    [BufferSize]byte
	dec     Decoder
	partial string // unterminated line carried between drains

	wbuf       [BufferSize]byte
	woff, wlen int
	pending    *queue.Queue // [][]byte frames waiting for wbuf
	maxPending int
	writing    bool // write interest is registered
}

func newConn(fd, id int, peer *net.TCPAddr, maxPending int) *Conn {
	if maxPending <= 0 {
		maxPending = 64
	}
	return &Conn{
		fd:         fd,
		id:         id,
		peer:       peer,
		state:      ConnOpen,
		pending:    queue.New(),
		maxPending: maxPending,
	}
}

func (c *Conn) ID() int { return c.id }
func (c *Conn) Peer() *net.TCPAddr { return c.peer }
func (c *Conn) State() ConnState { return c.state }
func (c *Conn) Label() string { return Label(c.id) }
func (c *Conn) hasPendingOutput() bool { return c.woff < c.wlen || c.pending.Length() > 0 }

// Drain reads everything the socket currently holds and returns it
// decoded. It returns io.EOF (with whatever arrived before it) once the
// peer has closed its side.
func (c *Conn) Drain() (string, error) {
	var text []byte
	for i := 0; i < maxReadsPerDrain; i++ {
		n, err := poll.Read(c.fd, c.rbuf[:])
		switch {
		case errors.Is(err, poll.ErrWouldBlock):
			return string(text), nil
		case err == io.EOF:
			text = append(text, c.dec.Flush()...)
			return string(text), io.EOF
		case err != nil:
			return string(text), err
		}
		bytesIn.Add(float64(n))
		text = append(text, c.dec.Decode(c.rbuf[:n])...)
	}
	return string(text), nil
}

// Lines feeds decoded text into the line assembler and returns the lines
// it completes. A line that grows to BufferSize bytes without a newline is
// cut and returned as is.
func (c *Conn) Lines(text string) []string {
	lines, rest := SplitLines(c.partial + text)
	for len(rest) >= BufferSize {
		head := Fit("", rest, BufferSize+1)
		lines = append(lines, head)
		rest = rest[len(head):]
	}
	c.partial = rest
	return lines
}

// Send queues frame behind any output already waiting and writes as much
// as the socket accepts. It reports whether output is still pending.
func (c *Conn) Send(frame []byte) (bool, error) {
	if c.state != ConnOpen {
		return false, net.ErrClosed
	}
	if c.hasPendingOutput() {
		if c.pending.Length() >= c.maxPending {
			return true, ErrSlowConsumer
		}
		c.pending.Add(frame)
		return true, nil
	}
	c.woff, c.wlen = 0, copy(c.wbuf[:], frame)
	return c.Flush()
}

// Flush writes buffered output until it is exhausted or the socket would
// block. It reports whether output is still pending.
func (c *Conn) Flush() (bool, error) {
	for {
		if c.woff == c.wlen {
			if c.pending.Length() == 0 {
				c.woff, c.wlen = 0, 0
				return false, nil
			}
			frame := c.pending.Remove().([]byte)
			c.woff, c.wlen = 0, copy(c.wbuf[:], frame)
		}
		n, err := poll.Write(c.fd, c.wbuf[c.woff:c.wlen])
		c.woff += n
		bytesOut.Add(float64(n))
		if errors.Is(err, poll.ErrWouldBlock) {
			return true, nil
		}
		if err != nil {
			return true, err
		}
	}
}

// SendBlocking writes frame completely, parking the calling goroutine on
// POLLOUT when the kernel buffer is full. It is meant for a goroutine that
// is not the reactor.
func (c *Conn) SendBlocking(ctx context.Context, frame []byte) error {
	n := copy(c.wbuf[:], frame)
	off := 0
	for off < n {
		w, err := poll.Write(c.fd, c.wbuf[off:n])
		off += w
		if err == nil {
			continue
		}
		if !errors.Is(err, poll.ErrWouldBlock) {
			return err
		}
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			ok, err := poll.WaitWritable(c.fd, writeWaitSlice)
			if err != nil {
				return err
			}
			if ok {
				break
			}
		}
	}
	return nil
}

func (c *Conn) close() error {
	if c.state == ConnClosed {
		return nil
	}
	c.state = ConnClosed
	return poll.Close(c.fd)
}
