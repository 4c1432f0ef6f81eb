package chat

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/zwy2021/ChatRoom/internal/poll"
)

var (
	errQuit     = errorString("client sent quit")
	errShutdown = errorString("server shutting down")
	errStopping = errorString("stop requested")

	errIdentityTaken = errorString("identity already registered")
)

// readiness is what a ready descriptor asks the reactor to do.
type readiness uint8

const (
	acceptable readiness = iota
	readable
	writable
	connectable
	woken
)

func (r readiness) String() string {
	switch r {
	case acceptable:
		return "accept"
	case readable:
		return "read"
	case writable:
		return "write"
	case connectable:
		return "connect"
	default:
		return "wakeup"
	}
}

// ServerOption customises a Server.
type ServerOption func(*Server)

// WithMaxPending caps the frames queued for one slow peer before it is
// disconnected.
func WithMaxPending(n int) ServerOption {
	return func(s *Server) { s.maxPending = n }
}

// Server is the single-goroutine relay reactor. One goroutine waits on the
// poller and performs every accept, read, write and registry change.
type Server struct {
	addr       string
	logger     *slog.Logger
	maxPending int

	poller *poll.Poller
	lfd    int
	bound  *net.TCPAddr
	reg    *Registry
	events []poll.Event
	kinds  []readiness

	state    atomicState
	clients  atomic.Int64
	stopping atomic.Bool
	doneCh   chan struct{}
	err      error // set before doneCh is closed
}

func NewServer(addr string, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:       addr,
		logger:     logger,
		maxPending: 64,
		lfd:        -1,
		reg:        NewRegistry(),
		events:     make([]poll.Event, 0, 64),
		kinds:      make([]readiness, 0, 2),
		doneCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start binds the listening socket and runs the reactor in a new
// goroutine.
func (s *Server) Start() error {
	lfd, bound, err := poll.Listen(s.addr)
	if err != nil {
		return err
	}
	p, err := poll.New()
	if err != nil {
		poll.Close(lfd)
		return err
	}
	if err := p.Add(lfd, poll.InRead); err != nil {
		p.Close()
		poll.Close(lfd)
		return err
	}
	s.lfd, s.bound, s.poller = lfd, bound, p

	go s.run()
	return nil
}

// Stop asks the reactor to shut down and waits until it has.
func (s *Server) Stop() {
	if s.poller == nil {
		return
	}
	s.logger.Info("shutting down")
	s.stopping.Store(true)
	if err := s.poller.Wakeup(); err != nil && !errors.Is(err, poll.ErrClosed) {
		s.logger.Error("wakeup failed", "error", err)
	}
	<-s.doneCh
	s.logger.Info("shutdown complete")
}

// Done is closed once the reactor has stopped and released its sockets.
func (s *Server) Done() <-chan struct{} { return s.doneCh }

// Err returns the fatal error that stopped the reactor, or nil after a
// requested Stop. Only meaningful once Done is closed.
func (s *Server) Err() error {
	select {
	case <-s.doneCh:
		return s.err
	default:
		return nil
	}
}

// Addr is the bound listening address; nil before Start.
func (s *Server) Addr() net.Addr {
	if s.bound == nil {
		return nil
	}
	return s.bound
}

func (s *Server) State() ServerState { return ServerState(s.state.load()) }

// ClientCount is the number of registered connections, readable from any
// goroutine.
func (s *Server) ClientCount() int { return int(s.clients.Load()) }

func (s *Server) run() {
	defer close(s.doneCh)
	defer s.teardown()

	s.state.store(int32(ServerRunning))
	s.logger.Info("server started", "addr", s.bound.String())

	for {
		var err error
		s.events, err = s.poller.Wait(s.events[:0])
		if err != nil {
			s.fail(fmt.Errorf("wait: %w", err))
			return
		}
		for _, ev := range s.events {
			if err := s.dispatch(ev); err != nil {
				if err != errStopping {
					s.fail(err)
				}
				return
			}
		}
	}
}

func (s *Server) fail(err error) {
	s.err = err
	s.logger.Error("reactor stopped", "error", err)
}

// classify maps one poller event onto the work it requires.
func (s *Server) classify(ev poll.Event) []readiness {
	kinds := s.kinds[:0]
	switch {
	case ev.Ready.Has(poll.Woken):
		kinds = append(kinds, woken)
	case ev.Fd == s.lfd:
		kinds = append(kinds, acceptable)
	default:
		if ev.Ready.Has(poll.Writable) {
			kinds = append(kinds, writable)
		}
		if ev.Ready.Has(poll.Readable | poll.Hangup | poll.Failed) {
			kinds = append(kinds, readable)
		}
	}
	return kinds
}

func (s *Server) dispatch(ev poll.Event) error {
	for _, kind := range s.classify(ev) {
		start := time.Now()
		switch kind {
		case acceptable:
			if err := s.accept(); err != nil {
				return err
			}
		case woken:
			if s.stopping.Load() {
				return errStopping
			}
		case writable:
			if c, ok := s.reg.ByFd(ev.Fd); ok {
				s.handleWrite(c)
			}
		case readable:
			// The connection may have been torn down by an earlier event
			// in this batch.
			if c, ok := s.reg.ByFd(ev.Fd); ok {
				s.handleRead(c)
			}
		}
		EventsTotal.WithLabelValues(kind.String()).Inc()
		EventProcessingDuration.WithLabelValues(kind.String()).Observe(time.Since(start).Seconds())
	}
	return nil
}

func (s *Server) accept() error {
	fd, peer, err := poll.Accept(s.lfd)
	if err != nil {
		if errors.Is(err, poll.ErrWouldBlock) {
			return nil
		}
		if poll.IsTemporary(err) {
			s.logger.Warn("accept failed", "error", err)
			return nil
		}
		return &OpError{Op: "accept", Err: err}
	}
	if _, err := s.register(fd, peer); err != nil {
		s.logger.Warn("register failed", "error", err)
	}
	return nil
}

// register wraps an accepted descriptor in an open Conn watched for read
// readiness and returns its identity.
func (s *Server) register(fd int, peer *net.TCPAddr) (int, error) {
	return s.admit(newConn(fd, s.reg.NextID(peer.Port), peer, s.maxPending))
}

// admit starts watching c and records it in the registry. On failure c is
// closed and left untracked.
func (s *Server) admit(c *Conn) (int, error) {
	if err := s.poller.Add(c.fd, poll.InRead); err != nil {
		c.close()
		return 0, &OpError{Op: "register", ID: c.id, Err: err}
	}
	if !s.reg.Insert(c) {
		if err := s.poller.Remove(c.fd); err != nil {
			s.logger.Debug("poller remove failed", "id", c.id, "error", err)
		}
		c.close()
		return 0, &OpError{Op: "register", ID: c.id, Err: errIdentityTaken}
	}
	s.clients.Store(int64(s.reg.Len()))
	ConnectedClients.Inc()

	s.logger.Info("client connected", "id", c.id, "addr", c.peer.String())
	return c.id, nil
}

// unregister tears down the connection with the given identity. Unknown
// identities are ignored.
func (s *Server) unregister(id int, reason error) {
	c := s.reg.Remove(id)
	if c == nil {
		return
	}
	if err := s.poller.Remove(c.fd); err != nil {
		s.logger.Debug("poller remove failed", "id", id, "error", err)
	}
	if err := c.close(); err != nil {
		s.logger.Debug("close failed", "id", id, "error", err)
	}
	s.clients.Store(int64(s.reg.Len()))
	ConnectedClients.Dec()

	switch {
	case reason == nil, reason == io.EOF, reason == errQuit, reason == errShutdown:
		s.logger.Info("client disconnected", "id", id)
	default:
		s.logger.Warn("client disconnected", "id", id, "error", reason)
	}
}

func (s *Server) handleRead(c *Conn) {
	text, err := c.Drain()
	for _, line := range c.Lines(text) {
		if line == "" {
			continue
		}
		s.broadcast(c, line)
		if IsQuit(line) {
			EventsTotal.WithLabelValues("quit").Inc()
			s.unregister(c.id, errQuit)
			return
		}
	}
	if err == nil {
		return
	}
	if err == io.EOF && c.partial != "" {
		// Last line arrived without a terminator.
		line := c.partial
		c.partial = ""
		s.broadcast(c, line)
	}
	if err != io.EOF {
		err = &OpError{Op: "read", ID: c.id, Err: err}
	}
	s.unregister(c.id, err)
}

func (s *Server) handleWrite(c *Conn) {
	pending, err := c.Flush()
	if err == nil {
		err = s.setWriteInterest(c, pending)
	}
	if err != nil {
		s.unregister(c.id, &OpError{Op: "write", ID: c.id, Err: err})
	}
}

// broadcast relays line from sender to every other open connection.
// Peers that fail are torn down only after the iteration completes.
func (s *Server) broadcast(sender *Conn, line string) {
	prefix := sender.Label()
	frame, err := Encode(prefix + Fit(prefix, line, BufferSize) + "\n")
	if err != nil {
		s.logger.Warn("relay dropped", "id", sender.id, "error", err)
		return
	}
	s.logger.Info("relay", "id", sender.id, "line", line)
	EventsTotal.WithLabelValues("relay").Inc()

	type failure struct {
		id  int
		err error
	}
	var failed []failure
	s.reg.Each(func(peer *Conn) {
		if peer == sender || peer.state != ConnOpen {
			return
		}
		pending, err := peer.Send(frame)
		if err == nil {
			err = s.setWriteInterest(peer, pending)
		}
		if err != nil {
			failed = append(failed, failure{peer.id, &OpError{Op: "write", ID: peer.id, Err: err}})
		}
	})
	for _, f := range failed {
		s.unregister(f.id, f.err)
	}
}

// setWriteInterest adds or drops write readiness for c.
func (s *Server) setWriteInterest(c *Conn, want bool) error {
	if c.writing == want {
		return nil
	}
	in := poll.InRead
	if want {
		in |= poll.InWrite
	}
	if err := s.poller.Modify(c.fd, in); err != nil {
		return err
	}
	c.writing = want
	return nil
}

func (s *Server) teardown() {
	for _, id := range s.reg.IDs() {
		s.unregister(id, errShutdown)
	}
	if err := poll.Close(s.lfd); err != nil {
		s.logger.Debug("listener close failed", "error", err)
	}
	if err := s.poller.Close(); err != nil {
		s.logger.Debug("poller close failed", "error", err)
	}
	s.state.store(int32(ServerStopped))
}
