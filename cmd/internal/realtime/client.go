package realtime

import (
	"sync"

	v1 "huddle/contracts/realtime/v1"

	"github.com/coder/websocket"
)

// Close codes sent to websocket peers.
const (
	StatusEvicted websocket.StatusCode = v1.CloseCodeEvicted
)

// wsClient is the Conn implementation backing one websocket session.
//
// Design notes:
// - send is never closed; done signals shutdown to the writer and heartbeat.
// - Close is idempotent and only records the first reason.
// - The writer drains send after done, so anything enqueued before Close is flushed before the close frame.
type wsClient struct {
	id   string
	send chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once
	reason    CloseReason
}

func newWSClient(id string, sendQueueSize int) *wsClient {
	if sendQueueSize <= 0 {
		sendQueueSize = wsDefaultSendQueueSize
	}
	return &wsClient{
		id:   id,
		send: make(chan v1.Envelope, sendQueueSize),
		done: make(chan struct{}),
	}
}

func (c *wsClient) ID() string { return c.id }

// Send enqueues env without blocking.
func (c *wsClient) Send(env v1.Envelope) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- env:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close signals the connection goroutines to stop (idempotent).
func (c *wsClient) Close(reason CloseReason) {
	c.closeOnce.Do(func() {
		c.reason = reason
		close(c.done)
	})
}

// Done returns a channel that is closed once Close has been called.
func (c *wsClient) Done() <-chan struct{} { return c.done }

// closeStatus maps the recorded reason to a websocket close code. Valid only after Done.
func (c *wsClient) closeStatus() (websocket.StatusCode, string) {
	switch c.reason {
	case CloseEvicted:
		return StatusEvicted, "logged in elsewhere"
	case CloseShutdown:
		return websocket.StatusGoingAway, "server shutting down"
	case CloseWriteFailed:
		return websocket.StatusInternalError, "write failed"
	case CloseHeartbeat:
		return websocket.StatusGoingAway, "heartbeat failed"
	default:
		return websocket.StatusNormalClosure, "bye"
	}
}
