// Package poll is a thin readiness multiplexer over Linux epoll plus the raw
// non-blocking socket calls the chat reactors drive through it.
//
// The Poller is level-triggered: a descriptor that still has unread input
// (or still has room to write) is reported again by the next Wait.
package poll

import "errors"

var (
	// ErrWouldBlock is returned by Read, Write and Accept when the
	// operation would have to wait for readiness.
	ErrWouldBlock = errors.New("poll: operation would block")
	// ErrClosed is returned by operations on a closed Poller.
	ErrClosed = errors.New("poll: poller closed")
	// ErrUnsupported is returned on platforms without epoll.
	ErrUnsupported = errors.New("poll: platform not supported")
)

// Interest is the set of readiness kinds a descriptor is registered for.
type Interest uint8

const (
	InRead Interest = 1 << iota
	InWrite
)

// Ready is the set of conditions reported for a descriptor.
type Ready uint8

const (
	Readable Ready = 1 << iota
	Writable
	Hangup
	Failed
	// Woken marks the event produced by Wakeup.
	Woken
)

// Has reports whether any of the bits in mask are set.
func (r Ready) Has(mask Ready) bool { return r&mask != 0 }

// Event is one readiness notification returned by Wait.
type Event struct {
	Fd    int
	Ready Ready
}
