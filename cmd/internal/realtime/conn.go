package realtime

import (
	"errors"

	v1 "huddle/contracts/realtime/v1"
)

var (
	// ErrSendQueueFull is returned by Conn.Send when the outbound queue is saturated.
	ErrSendQueueFull = errors.New("realtime: send queue full")
	// ErrConnClosed is returned by Conn.Send after Close.
	ErrConnClosed = errors.New("realtime: connection closed")
)

// CloseReason tells the transport why the coordinator is closing a connection.
type CloseReason uint8

const (
	CloseNormal CloseReason = iota
	CloseEvicted
	CloseShutdown
	CloseWriteFailed
	CloseHeartbeat
)

func (r CloseReason) String() string {
	switch r {
	case CloseNormal:
		return "normal"
	case CloseEvicted:
		return "evicted"
	case CloseShutdown:
		return "shutdown"
	case CloseWriteFailed:
		return "write_failed"
	case CloseHeartbeat:
		return "heartbeat_failed"
	default:
		return "unknown"
	}
}

// Conn is one live transport connection as seen by the coordinator.
//
// Send must not block: it enqueues the envelope or fails.
// Close must be idempotent and safe to call from any goroutine.
type Conn interface {
	ID() string
	Send(env v1.Envelope) error
	Close(reason CloseReason)
}

// fanout sends env to every conn and returns how many sends failed.
func fanout(conns []Conn, env v1.Envelope) int {
	dropped := 0
	for _, c := range conns {
		if err := c.Send(env); err != nil {
			dropped++
		}
	}
	return dropped
}
