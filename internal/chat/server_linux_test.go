//go:build linux

package chat

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/zwy2021/ChatRoom/internal/poll"
)

func quietLogger() *slog.Logger {
	if testing.Verbose() {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()
	s := NewServer("127.0.0.1:0", quietLogger(), opts...)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

func waitClients(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.NewTimer(2 * time.Second)
	defer deadline.Stop()
	for s.ClientCount() != n {
		select {
		case <-deadline.C:
			t.Fatalf("timeout waiting for %d clients, have %d", n, s.ClientCount())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

type testPeer struct {
	conn net.Conn
	r    *bufio.Reader
	id   int
}

// dialPeer connects to s and waits until the server has registered it.
func dialPeer(t *testing.T, s *Server) *testPeer {
	t.Helper()
	before := s.ClientCount()
	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	waitClients(t, s, before+1)
	return &testPeer{
		conn: conn,
		r:    bufio.NewReader(conn),
		id:   conn.LocalAddr().(*net.TCPAddr).Port,
	}
}

func (p *testPeer) send(t *testing.T, line string) {
	t.Helper()
	if _, err := p.conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("send %q: %v", line, err)
	}
}

func (p *testPeer) expect(t *testing.T, want string) {
	t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	got, err := p.r.ReadString('\n')
	if err != nil {
		t.Fatalf("client[%d] waiting for %q: %v", p.id, want, err)
	}
	if got != want+"\n" {
		t.Fatalf("client[%d] got %q, want %q", p.id, got, want+"\n")
	}
}

func (p *testPeer) expectSilence(t *testing.T, d time.Duration) {
	t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(d))
	got, err := p.r.ReadString('\n')
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("client[%d] expected silence, got %q (%v)", p.id, got, err)
	}
}

func (p *testPeer) expectEOF(t *testing.T) {
	t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	got, err := p.r.ReadString('\n')
	if err != io.EOF {
		t.Fatalf("client[%d] expected EOF, got %q (%v)", p.id, got, err)
	}
}

func TestServer_HelloThenQuitScenario(t *testing.T) {
	s := startServer(t)

	b := dialPeer(t, s)
	a := dialPeer(t, s)

	a.send(t, "hello")
	b.expect(t, Label(a.id)+"hello")
	a.expectSilence(t, 200*time.Millisecond)

	a.send(t, "quit")
	b.expect(t, Label(a.id)+"quit")
	a.expectEOF(t)
	waitClients(t, s, 1)

	// The loop survived A's departure.
	c := dialPeer(t, s)
	b.send(t, "still here")
	c.expect(t, Label(b.id)+"still here")
	b.expectSilence(t, 100*time.Millisecond)

	if s.State() != ServerRunning {
		t.Fatalf("state = %v, want running", s.State())
	}
}

func TestServer_FanOutExactlyOnce(t *testing.T) {
	const n = 5
	s := startServer(t)

	peers := make([]*testPeer, n)
	for i := range peers {
		peers[i] = dialPeer(t, s)
	}
	for _, p := range peers {
		p.send(t, "from me")
	}

	for _, p := range peers {
		seen := map[string]int{}
		for i := 0; i < n-1; i++ {
			p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			line, err := p.r.ReadString('\n')
			if err != nil {
				t.Fatalf("client[%d] read %d: %v", p.id, i, err)
			}
			seen[line]++
		}
		for _, other := range peers {
			want := Label(other.id) + "from me\n"
			switch {
			case other == p && seen[want] != 0:
				t.Fatalf("client[%d] received its own line", p.id)
			case other != p && seen[want] != 1:
				t.Fatalf("client[%d] received %q %d times", p.id, want, seen[want])
			}
		}
		p.expectSilence(t, 50*time.Millisecond)
	}
}

func TestServer_ReassemblesSplitAndBatchedLines(t *testing.T) {
	s := startServer(t)
	b := dialPeer(t, s)
	a := dialPeer(t, s)

	if _, err := a.conn.Write([]byte("hel")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := a.conn.Write([]byte("lo\r\none\ntwo\n")); err != nil {
		t.Fatal(err)
	}

	b.expect(t, Label(a.id)+"hello")
	b.expect(t, Label(a.id)+"one")
	b.expect(t, Label(a.id)+"two")
}

func TestServer_QuitDiscardsRestOfChunk(t *testing.T) {
	s := startServer(t)
	b := dialPeer(t, s)
	a := dialPeer(t, s)

	if _, err := a.conn.Write([]byte("quit\nafter\n")); err != nil {
		t.Fatal(err)
	}
	b.expect(t, Label(a.id)+"quit")
	a.expectEOF(t)
	b.expectSilence(t, 100*time.Millisecond)
	waitClients(t, s, 1)
}

func TestServer_PeerCloseUnregisters(t *testing.T) {
	s := startServer(t)
	b := dialPeer(t, s)
	a := dialPeer(t, s)

	a.conn.Close()
	waitClients(t, s, 1)

	// The survivor still gets relayed lines from newcomers.
	c := dialPeer(t, s)
	c.send(t, "hi")
	b.expect(t, Label(c.id)+"hi")
}

func TestServer_LongLinesFitOneBuffer(t *testing.T) {
	s := startServer(t)
	b := dialPeer(t, s)
	a := dialPeer(t, s)

	a.send(t, strings.Repeat("x", 3*BufferSize))
	a.send(t, "end")

	for {
		b.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		line, err := b.r.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if len(line) > BufferSize {
			t.Fatalf("relayed frame of %d bytes exceeds %d", len(line), BufferSize)
		}
		if !strings.HasPrefix(line, Label(a.id)) {
			t.Fatalf("frame without label: %.40q", line)
		}
		if line == Label(a.id)+"end\n" {
			return
		}
	}
}

func TestServer_UnregisterIsIdempotent(t *testing.T) {
	s := NewServer("127.0.0.1:0", quietLogger())
	p, err := poll.New()
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	s.poller = p

	c, peer := acceptedConn(t, 0)
	id, err := s.register(c.fd, c.peer)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	c.state = ConnClosed // the registered Conn owns the fd now
	registered, _ := s.reg.Get(id)

	s.unregister(id, io.EOF)
	if _, ok := s.reg.Get(id); ok {
		t.Fatal("identity still registered")
	}
	if registered.State() != ConnClosed {
		t.Fatalf("state = %v, want closed", registered.State())
	}
	if s.ClientCount() != 0 {
		t.Fatalf("ClientCount = %d", s.ClientCount())
	}

	s.unregister(id, io.EOF)
	if s.ClientCount() != 0 || s.reg.Len() != 0 {
		t.Fatal("second unregister changed the registry")
	}

	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := peer.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("peer read err = %v, want EOF", err)
	}
}

func TestServer_StopReleasesSockets(t *testing.T) {
	s := NewServer("127.0.0.1:0", quietLogger())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	a := dialPeer(t, s)
	addr := s.Addr().String()

	s.Stop()

	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
	if s.State() != ServerStopped {
		t.Fatalf("state = %v, want stopped", s.State())
	}
	if err := s.Err(); err != nil {
		t.Fatalf("Err = %v, want nil after requested stop", err)
	}
	if s.ClientCount() != 0 {
		t.Fatalf("ClientCount = %d after stop", s.ClientCount())
	}
	a.expectEOF(t)

	if conn, err := net.DialTimeout("tcp", addr, time.Second); err == nil {
		conn.Close()
		t.Fatal("listener still accepting after Stop")
	}

	// A second Stop is harmless.
	s.Stop()
}

func TestServer_StartFailsOnBusyAddress(t *testing.T) {
	s := startServer(t)
	other := NewServer(s.Addr().String(), quietLogger())
	if err := other.Start(); err == nil {
		other.Stop()
		t.Fatal("second server bound an address already in use")
	}
}

func TestServer_SlowPeerDroppedOthersGetEverything(t *testing.T) {
	const (
		lines      = 30000
		maxPending = 4
	)
	s := startServer(t, WithMaxPending(maxPending))

	slow := dialPeer(t, s)
	if tc, ok := slow.conn.(*net.TCPConn); ok {
		tc.SetReadBuffer(4096)
	}
	fast := dialPeer(t, s)
	sender := dialPeer(t, s)

	payload := strings.Repeat("m", 900)
	got := make(chan error, 1)
	go func() {
		fast.conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		for i := 0; i < lines; i++ {
			line, err := fast.r.ReadString('\n')
			if err != nil {
				got <- err
				return
			}
			if want := Label(sender.id) + payload + strconv.Itoa(i) + "\n"; line != want {
				got <- errors.New("line " + strconv.Itoa(i) + " out of order or corrupted")
				return
			}
		}
		got <- nil
	}()

	w := bufio.NewWriter(sender.conn)
	for i := 0; i < lines; i++ {
		if _, err := w.WriteString(payload + strconv.Itoa(i) + "\n"); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	select {
	case err := <-got:
		if err != nil {
			t.Fatalf("fast peer: %v", err)
		}
	case <-time.After(40 * time.Second):
		t.Fatal("fast peer did not receive every line")
	}

	// The peer that never read overflowed its queue and was dropped.
	waitClients(t, s, 2)
	fast.expectSilence(t, 50*time.Millisecond)
	sender.send(t, "after")
	fast.expect(t, Label(sender.id)+"after")
}

func TestServer_RelaysUnterminatedLineOnClose(t *testing.T) {
	s := startServer(t)
	b := dialPeer(t, s)
	a := dialPeer(t, s)

	if _, err := a.conn.Write([]byte("bye")); err != nil {
		t.Fatal(err)
	}
	a.conn.Close()

	b.expect(t, Label(a.id)+"bye")
	waitClients(t, s, 1)
}

func TestServer_LogsRelayAtInfo(t *testing.T) {
	var out syncBuffer
	s := NewServer("127.0.0.1:0", slog.New(slog.NewTextHandler(&out, nil)))
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)

	b := dialPeer(t, s)
	a := dialPeer(t, s)
	a.send(t, "logged line")
	b.expect(t, Label(a.id)+"logged line")

	want := "msg=relay id=" + strconv.Itoa(a.id) + ` line="logged line"`
	if !strings.Contains(out.String(), want) {
		t.Fatalf("log output missing %q:\n%s", want, out.String())
	}
}

func TestServer_AdmitRejectsTakenIdentity(t *testing.T) {
	s := NewServer("127.0.0.1:0", quietLogger())
	p, err := poll.New()
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	s.poller = p

	c, peer := acceptedConn(t, 0)
	s.reg.Insert(newConn(-1, c.id, nil, 0))

	if _, err := s.admit(c); !errors.Is(err, errIdentityTaken) {
		t.Fatalf("admit err = %v, want errIdentityTaken", err)
	}
	if c.State() != ConnClosed {
		t.Fatalf("state = %v, want closed", c.State())
	}
	if s.reg.Len() != 1 || s.ClientCount() != 0 {
		t.Fatalf("registry len %d, ClientCount %d", s.reg.Len(), s.ClientCount())
	}
	if _, ok := s.reg.ByFd(c.fd); ok {
		t.Fatal("rejected fd is tracked")
	}

	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := peer.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("peer read err = %v, want EOF", err)
	}
}
