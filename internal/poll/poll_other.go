//go:build !linux

package poll

import (
	"net"
	"time"
)

// Poller is unavailable on this platform; New always fails.
type Poller struct{}

func New() (*Poller, error) { return nil, ErrUnsupported }

func (p *Poller) Add(fd int, in Interest) error { return ErrUnsupported }
func (p *Poller) Modify(fd int, in Interest) error { return ErrUnsupported }
func (p *Poller) Remove(fd int) error { return ErrUnsupported }
func (p *Poller) Wait(dst []Event) ([]Event, error) { return dst, ErrUnsupported }
func (p *Poller) Wakeup() error { return ErrUnsupported }
func (p *Poller) Close() error { return nil }
func Listen(addr string) (int, *net.TCPAddr, error) { return -1, nil, ErrUnsupported }
func Accept(lfd int) (int, *net.TCPAddr, error) { return -1, nil, ErrUnsupported }
func Dial(addr string) (int, error) { return -1, ErrUnsupported }
func FinishConnect(fd int) error { return ErrUnsupported }
func Read(fd int, p []byte) (int, error) { return 0, ErrUnsupported }
func Write(fd int, p []byte) (int, error) { return 0, ErrUnsupported }
func WaitWritable(fd int, timeout time.Duration) (bool, error) { return false, ErrUnsupported }
func Close(fd int) error { return ErrUnsupported }
func IsTemporary(err error) bool { return false }
