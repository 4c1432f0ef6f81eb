package chat

import (
	"fmt"
	"sync/atomic"
)

// ConnState is the lifecycle of a single peer connection.
type ConnState int32

const (
	ConnOpen ConnState = iota
	ConnClosed
)

func (s ConnState) String() string {
	if s == ConnOpen {
		return "open"
	}
	return "closed"
}

// ServerState is the lifecycle of the server reactor.
type ServerState int32

const (
	ServerListening ServerState = iota
	ServerRunning
	ServerStopped
)

func (s ServerState) String() string {
	switch s {
	case ServerListening:
		return "listening"
	case ServerRunning:
		return "running"
	default:
		return "stopped"
	}
}

// ClientState is the lifecycle of the client reactor.
type ClientState int32

const (
	ClientConnecting ClientState = iota
	ClientConnected
	ClientClosed
)

func (s ClientState) String() string {
	switch s {
	case ClientConnecting:
		return "connecting"
	case ClientConnected:
		return "connected"
	default:
		return "closed"
	}
}

// atomicState holds one of the state enums above for cross-goroutine reads.
type atomicState struct{ v atomic.Int32 }

func (a *atomicState) load() int32 { return a.v.Load() }
func (a *atomicState) store(s int32) { a.v.Store(s) }

var (
	ErrLineTooLong  = errorString("line exceeds buffer capacity")
	ErrServerClosed = errorString("server closed the connection")
	ErrSlowConsumer = errorString("peer output queue full")
)

type errorString string

func (e errorString) Error() string { return string(e) }

// OpError records which connection an I/O operation failed on.
type OpError struct {
	Op  string // "accept", "read", "write", "register"
	ID  int    // connection identity, 0 when not yet assigned
	Err error
}

func (e *OpError) Error() string {
	if e.ID == 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s client[%d]: %v", e.Op, e.ID, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }
