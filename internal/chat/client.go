package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/tevino/abool"

	"github.com/zwy2021/ChatRoom/internal/poll"
)

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithInput replaces os.Stdin as the source of typed lines.
func WithInput(r io.Reader) ClientOption {
	return func(c *Client) { c.in = r }
}

// WithOutput replaces os.Stdout as the sink for received text.
func WithOutput(w io.Writer) ClientOption {
	return func(c *Client) { c.out = w }
}

// Client drives one outbound connection from a single reactor goroutine:
// connect readiness first, read readiness after. A separate producer
// goroutine forwards console lines straight to the socket.
type Client struct {
	addr   string
	logger *slog.Logger
	in     io.Reader
	out    io.Writer

	poller *poll.Poller
	conn   *Conn
	events []poll.Event

	state       atomicState
	pendingQuit *abool.AtomicBool
	inputErr    chan error
	wg          sync.WaitGroup
}

func NewClient(addr string, logger *slog.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		addr:        addr,
		logger:      logger,
		in:          os.Stdin,
		out:         os.Stdout,
		events:      make([]poll.Event, 0, 4),
		pendingQuit: abool.New(),
		inputErr:    make(chan error, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) State() ClientState { return ClientState(c.state.load()) }

// Run connects and relays until the user quits (nil), the server goes
// away (ErrServerClosed), ctx is cancelled (ctx.Err()) or I/O fails.
func (c *Client) Run(ctx context.Context) error {
	fd, err := poll.Dial(c.addr)
	if err != nil {
		return err
	}
	p, err := poll.New()
	if err != nil {
		poll.Close(fd)
		return err
	}
	c.poller = p
	c.conn = newConn(fd, 0, nil, 0)
	c.state.store(int32(ClientConnecting))
	if err := p.Add(fd, poll.InWrite); err != nil {
		c.close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.wg.Wait()
		c.close()
	}()
	stop := context.AfterFunc(ctx, func() { _ = p.Wakeup() })
	defer stop()

	for {
		c.events, err = p.Wait(c.events[:0])
		if err != nil {
			return fmt.Errorf("wait: %w", err)
		}
		for _, ev := range c.events {
			if done, err := c.dispatch(ctx, ev); done {
				return err
			}
		}
	}
}

func (c *Client) classify(ev poll.Event) readiness {
	switch {
	case ev.Ready.Has(poll.Woken):
		return woken
	case c.State() == ClientConnecting:
		return connectable
	default:
		return readable
	}
}

// dispatch handles one event and reports whether the session is over.
func (c *Client) dispatch(ctx context.Context, ev poll.Event) (bool, error) {
	switch c.classify(ev) {
	case woken:
		return c.handleWakeup(ctx)
	case connectable:
		return c.finishConnect(ctx)
	default:
		return c.handleRead()
	}
}

func (c *Client) finishConnect(ctx context.Context) (bool, error) {
	if err := poll.FinishConnect(c.conn.fd); err != nil {
		return true, fmt.Errorf("%s: %w", c.addr, err)
	}
	if err := c.poller.Modify(c.conn.fd, poll.InRead); err != nil {
		return true, err
	}
	c.state.store(int32(ClientConnected))
	c.logger.Info("connected", "addr", c.addr)

	c.wg.Add(1)
	go c.produce(ctx, readConsole(ctx, c.in))
	return false, nil
}

func (c *Client) handleRead() (bool, error) {
	text, err := c.conn.Drain()
	if text != "" {
		if _, werr := io.WriteString(c.out, text); werr != nil {
			return true, fmt.Errorf("output: %w", werr)
		}
	}
	switch {
	case err == nil:
		return false, nil
	case err == io.EOF:
		if c.pendingQuit.IsSet() {
			return true, nil
		}
		c.logger.Warn("server closed the connection")
		return true, ErrServerClosed
	default:
		return true, &OpError{Op: "read", Err: err}
	}
}

func (c *Client) handleWakeup(ctx context.Context) (bool, error) {
	select {
	case err := <-c.inputErr:
		return true, err
	default:
	}
	if c.pendingQuit.IsSet() {
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return true, err
	}
	return false, nil
}

// signal is called by the producer to end the session; err is nil for a
// regular quit.
func (c *Client) signal(err error) {
	if err != nil {
		select {
		case c.inputErr <- err:
		default:
		}
	}
	if werr := c.poller.Wakeup(); werr != nil && !errors.Is(werr, poll.ErrClosed) {
		c.logger.Error("wakeup failed", "error", werr)
	}
}

// close releases the poller and the socket. Safe to call more than once.
func (c *Client) close() {
	c.state.store(int32(ClientClosed))
	if err := c.poller.Close(); err != nil {
		c.logger.Debug("poller close failed", "error", err)
	}
	if err := c.conn.close(); err != nil {
		c.logger.Debug("close failed", "error", err)
	}
}
