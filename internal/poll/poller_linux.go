//go:build linux

package poll

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

const maxEvents = 128

// Poller is an epoll instance with an eventfd used to interrupt Wait from
// other goroutines.
type Poller struct {
	epfd   int
	wakefd int
	events []unix.EpollEvent

	// mu guards the descriptors against Close racing a concurrent Wakeup.
	mu     sync.RWMutex
	closed bool
}

// New creates a Poller.
func New() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	p := &Poller{
		epfd:   epfd,
		wakefd: wakefd,
		events: make([]unix.EpollEvent, maxEvents),
	}
	if err := p.ctl(unix.EPOLL_CTL_ADD, wakefd, InRead); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, err
	}
	return p, nil
}

// Add registers fd with the given interest set.
func (p *Poller) Add(fd int, in Interest) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, in)
}

// Modify replaces the interest set of a registered fd.
func (p *Poller) Modify(fd int, in Interest) error {
	return p.ctl(unix.EPOLL_CTL_MOD, fd, in)
}

// Remove deregisters fd. It must be called before fd is closed.
func (p *Poller) Remove(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del %d: %w", fd, err)
	}
	return nil
}

func (p *Poller) ctl(op, fd int, in Interest) error {
	ev := unix.EpollEvent{Fd: int32(fd)}
	if in&InRead != 0 {
		ev.Events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if in&InWrite != 0 {
		ev.Events |= unix.EPOLLOUT
	}
	if err := unix.EpollCtl(p.epfd, op, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl %d: %w", fd, err)
	}
	return nil
}

// Wait blocks until at least one registered descriptor is ready and
// appends the notifications to dst. EINTR is retried.
func (p *Poller) Wait(dst []Event) ([]Event, error) {
	var n int
	for {
		var err error
		n, err = unix.EpollWait(p.epfd, p.events, -1)
		if err == nil {
			break
		}
		if err == unix.EINTR {
			continue
		}
		if err == unix.EBADF {
			return dst, ErrClosed
		}
		return dst, fmt.Errorf("epoll wait: %w", err)
	}

	for i := 0; i < n; i++ {
		ev := p.events[i]
		fd := int(ev.Fd)
		if fd == p.wakefd {
			p.drainWakeup()
			dst = append(dst, Event{Fd: fd, Ready: Woken})
			continue
		}
		var r Ready
		if ev.Events&unix.EPOLLIN != 0 {
			r |= Readable
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			r |= Writable
		}
		if ev.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
			r |= Hangup
		}
		if ev.Events&unix.EPOLLERR != 0 {
			r |= Failed
		}
		dst = append(dst, Event{Fd: fd, Ready: r})
	}
	return dst, nil
}

func (p *Poller) drainWakeup() {
	var buf [8]byte
	for {
		if _, err := unix.Read(p.wakefd, buf[:]); err != unix.EINTR {
			return
		}
	}
}

// Wakeup makes a blocked (or the next) Wait return a Woken event. Safe to
// call from any goroutine.
func (p *Poller) Wakeup() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	for {
		_, err := unix.Write(p.wakefd, buf[:])
		switch err {
		case nil, unix.EAGAIN:
			// EAGAIN: the counter is saturated, a wakeup is already pending.
			return nil
		case unix.EINTR:
			continue
		default:
			return fmt.Errorf("eventfd write: %w", err)
		}
	}
}

// Close releases the epoll instance and the eventfd. Closing twice is a
// no-op.
func (p *Poller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	werr := unix.Close(p.wakefd)
	if err := unix.Close(p.epfd); err != nil {
		return fmt.Errorf("epoll close: %w", err)
	}
	if werr != nil {
		return fmt.Errorf("eventfd close: %w", werr)
	}
	return nil
}
