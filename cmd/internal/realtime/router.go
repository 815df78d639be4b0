package realtime

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	v1 "huddle/contracts/realtime/v1"
)

// State is the lifecycle state of one Endpoint.
type State uint8

const (
	StateUnauthenticated State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Principal is an identity already verified by the transport (from a token).
type Principal struct {
	UserID   string
	Username string
}

const eventInvalid = "invalid"

// Router owns the shared coordinator components and opens one Endpoint per connection.
type Router struct {
	log      *slog.Logger
	reg      *Registry
	arbiter  *Arbiter
	presence *Presence
	metrics  *Metrics
	now      func() time.Time
}

// NewRouter wires a router over the registry, arbiter and presence broadcaster.
func NewRouter(log *slog.Logger, reg *Registry, arbiter *Arbiter, presence *Presence, metrics *Metrics) *Router {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Router{
		log:      log,
		reg:      reg,
		arbiter:  arbiter,
		presence: presence,
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// NewCoordinator builds a registry with its presence broadcaster, arbiter and router.
func NewCoordinator(log *slog.Logger, metrics *Metrics) (*Registry, *Router) {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	reg := NewRegistry()
	presence := NewPresence(log, reg, metrics)
	arbiter := NewArbiter(log, reg, presence, metrics)
	return reg, NewRouter(log, reg, arbiter, presence, metrics)
}

// Open starts tracking conn. principal may be nil when the transport does not authenticate.
func (r *Router) Open(conn Conn, principal *Principal) *Endpoint {
	r.metrics.ConnectionsActive.Inc()
	return &Endpoint{router: r, conn: conn, principal: principal, state: StateUnauthenticated}
}

// Endpoint is the per-connection state machine: Unauthenticated -> Active -> Closed.
// Its methods are meant to be called from the connection's reader goroutine.
type Endpoint struct {
	router    *Router
	conn      Conn
	principal *Principal

	mu       sync.Mutex
	state    State
	released bool
}

// State returns the current state.
func (e *Endpoint) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// HandleFrame decodes one raw frame and dispatches it.
// Malformed frames are answered with an error event; the connection stays open.
func (e *Endpoint) HandleFrame(data []byte) {
	ev, err := v1.Decode(data)
	if err != nil {
		e.router.metrics.Events.WithLabelValues(eventInvalid).Inc()
		e.router.log.Debug("router.frame.invalid", "conn_id", e.conn.ID(), "err", err)
		e.sendError(protocolMessage(err))
		return
	}
	e.Handle(ev)
}

// Handle dispatches one decoded event. Handler panics are recovered and reported as an error event.
func (e *Endpoint) Handle(ev v1.Inbound) {
	e.mu.Lock()
	defer e.mu.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			e.router.log.Error("router.handler.panic", "conn_id", e.conn.ID(), "type", ev.Kind(), "panic", fmt.Sprint(rec))
			e.sendError("internal error")
		}
	}()

	e.router.metrics.Events.WithLabelValues(ev.Kind()).Inc()

	switch e.state {
	case StateClosed:
		e.ignore(ev, "closed")
		return

	case StateUnauthenticated:
		announce, ok := ev.(v1.ConnectAnnounce)
		if !ok {
			e.ignore(ev, "not announced")
			return
		}
		e.onAnnounce(announce)
		return
	}

	sess, ok := e.router.reg.LookupByConnection(e.conn.ID())
	if !ok {
		e.state = StateClosed
		e.router.log.Info("router.endpoint.evicted", "conn_id", e.conn.ID(), "type", ev.Kind())
		return
	}

	var err error
	switch ev := ev.(type) {
	case v1.ConnectAnnounce:
		e.ignore(ev, "already announced")
	case v1.Typing:
		err = e.onTyping(sess, ev)
	case v1.SendMessage:
		err = e.onSendMessage(sess, ev)
	}
	if err != nil {
		e.router.log.Error("router.handler.fail", "conn_id", e.conn.ID(), "type", ev.Kind(), "err", err)
		e.sendError("internal error")
	}
}

// Disconnect handles the transport going away. Safe to call more than once.
func (e *Endpoint) Disconnect() {
	e.mu.Lock()
	prev := e.state
	e.state = StateClosed
	first := !e.released
	e.released = true
	e.mu.Unlock()

	if _, removed := e.router.reg.Remove(e.conn.ID()); removed {
		e.router.presence.Broadcast()
	}
	if first {
		e.router.metrics.ConnectionsActive.Dec()
		e.router.log.Debug("router.endpoint.disconnect", "conn_id", e.conn.ID(), "prev_state", prev.String())
	}
}

func (e *Endpoint) onAnnounce(ev v1.ConnectAnnounce) {
	userID, username := ev.UserID, ev.Username
	if p := e.principal; p != nil {
		if p.UserID != userID {
			e.router.log.Warn("router.announce.mismatch", "conn_id", e.conn.ID(), "user_id", p.UserID, "announced_user_id", userID)
			e.sendError("announced identity does not match the authenticated user")
			return
		}
		username = p.Username
	}

	if _, err := e.router.arbiter.Announce(e.conn, userID, username); err != nil {
		e.router.log.Info("router.announce.fail", "conn_id", e.conn.ID(), "user_id", userID, "err", err)
		if errors.Is(err, ErrRegistryClosed) {
			e.state = StateClosed
			e.conn.Close(CloseShutdown)
			return
		}
		e.sendError("announce failed")
		return
	}
	e.state = StateActive
}

func (e *Endpoint) onTyping(sess IdentitySession, ev v1.Typing) error {
	e.router.reg.SetTyping(e.conn.ID(), ev.IsTyping)

	env, err := newEnvelope(v1.TypeUserTyping, v1.UserTypingPayload{
		UserID:   sess.UserID,
		Username: sess.Username,
		IsTyping: ev.IsTyping,
	}, e.router.now())
	if err != nil {
		return err
	}
	e.broadcast(env, e.router.reg.Conns(e.conn.ID()))
	return nil
}

func (e *Endpoint) onSendMessage(sess IdentitySession, ev v1.SendMessage) error {
	now := e.router.now()
	env, err := newEnvelope(v1.TypeReceiveMessage, v1.ReceiveMessagePayload{
		SenderID:  sess.UserID,
		Message:   ev.Text,
		Timestamp: now,
		Username:  sess.Username,
	}, now)
	if err != nil {
		return err
	}
	e.broadcast(env, e.router.reg.Conns(""))
	return nil
}

func (e *Endpoint) broadcast(env v1.Envelope, conns []Conn) {
	if dropped := fanout(conns, env); dropped > 0 {
		e.router.metrics.BroadcastDropped.Add(float64(dropped))
		e.router.log.Warn("router.broadcast.dropped", "conn_id", e.conn.ID(), "type", env.Type, "dropped", dropped)
	}
}

func (e *Endpoint) ignore(ev v1.Inbound, why string) {
	e.router.log.Debug("router.event.ignored", "conn_id", e.conn.ID(), "type", ev.Kind(), "state", e.state.String(), "why", why)
}

func (e *Endpoint) sendError(msg string) {
	env, err := newEnvelope(v1.TypeError, v1.NoticePayload{Message: msg}, e.router.now())
	if err != nil {
		e.router.log.Error("router.error.envelope.fail", "conn_id", e.conn.ID(), "err", err)
		return
	}
	if err := e.conn.Send(env); err != nil {
		e.router.log.Debug("router.error.send.fail", "conn_id", e.conn.ID(), "err", err)
	}
}

func protocolMessage(err error) string {
	var pe *v1.ProtocolError
	if errors.As(err, &pe) {
		return pe.Reason
	}
	return "invalid event"
}
