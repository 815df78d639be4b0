package realtime

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	v1 "huddle/contracts/realtime/v1"

	"github.com/stretchr/testify/require"
)

// fakeConn records every envelope it is sent and the close it receives.
type fakeConn struct {
	id string

	mu          sync.Mutex
	sent        []v1.Envelope
	closed      bool
	reason      CloseReason
	sentAtClose int
	sendsAfter  int

	failSend bool
	panicOn  string
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(env v1.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.panicOn != "" && env.Type == c.panicOn {
		panic("boom on " + env.Type)
	}
	if c.closed {
		c.sendsAfter++
		return ErrConnClosed
	}
	if c.failSend {
		return ErrSendQueueFull
	}
	c.sent = append(c.sent, env)
	return nil
}

func (c *fakeConn) Close(reason CloseReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.reason = reason
	c.sentAtClose = len(c.sent)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) envelopes() []v1.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]v1.Envelope(nil), c.sent...)
}

func (c *fakeConn) types() []string {
	envs := c.envelopes()
	out := make([]string, 0, len(envs))
	for _, e := range envs {
		out = append(out, e.Type)
	}
	return out
}

func (c *fakeConn) count(typ string) int {
	n := 0
	for _, e := range c.envelopes() {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = nil
}

// last decodes the payload of the most recent envelope of typ into dst.
func (c *fakeConn) last(t *testing.T, typ string, dst any) {
	t.Helper()
	envs := c.envelopes()
	for i := len(envs) - 1; i >= 0; i-- {
		if envs[i].Type == typ {
			require.NoError(t, json.Unmarshal(envs[i].Payload, dst))
			return
		}
	}
	t.Fatalf("conn %s never received %q (got %v)", c.id, typ, c.types())
}

func (c *fakeConn) roster(t *testing.T) []v1.PresenceEntry {
	t.Helper()
	var out []v1.PresenceEntry
	c.last(t, v1.TypeOnlineUsers, &out)
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// newTestCoordinator returns a coordinator with a fixed clock and private metrics.
func newTestCoordinator(t *testing.T) (*Registry, *Router, *Metrics) {
	t.Helper()
	m := NewMetrics(nil)
	reg, router := NewCoordinator(discardLogger(), m)
	clock := func() time.Time { return fixedNow }
	router.now = clock
	router.arbiter.now = clock
	router.presence.now = clock
	return reg, router, m
}

func announceFrame(userID, username string) []byte {
	return frame(v1.TypeConnectAnnounce, v1.ConnectAnnouncePayload{UserID: userID, Username: username})
}

func frame(typ string, payload any) []byte {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	b, err := json.Marshal(v1.Envelope{V: v1.Version, Type: typ, Payload: raw})
	if err != nil {
		panic(err)
	}
	return b
}
