package realtime

import (
	"log/slog"
	"sync"
	"time"

	v1 "huddle/contracts/realtime/v1"
)

// Presence pushes the online roster to every registered connection.
//
// Broadcasts are serialized: the snapshot and all enqueues of one broadcast
// happen before the next broadcast takes its snapshot, so every connection
// observes rosters in the order they were taken.
type Presence struct {
	log     *slog.Logger
	reg     *Registry
	metrics *Metrics
	now     func() time.Time

	mu sync.Mutex
}

// NewPresence constructs a broadcaster over reg.
func NewPresence(log *slog.Logger, reg *Registry, metrics *Metrics) *Presence {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Presence{
		log:     log,
		reg:     reg,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Broadcast sends online_users to all registered connections. Send failures are counted, not returned.
func (p *Presence) Broadcast() {
	p.mu.Lock()
	defer p.mu.Unlock()

	roster, conns := p.reg.view()

	env, err := newEnvelope(v1.TypeOnlineUsers, v1.OnlineUsersPayload(roster), p.now())
	if err != nil {
		p.log.Error("presence.envelope.fail", "err", err)
		return
	}

	dropped := fanout(conns, env)
	p.metrics.UsersOnline.Set(float64(len(roster)))
	if dropped > 0 {
		p.metrics.BroadcastDropped.Add(float64(dropped))
		p.log.Warn("presence.broadcast.dropped", "recipients", len(conns), "dropped", dropped)
	}
	p.log.Debug("presence.broadcast", "online", len(roster), "recipients", len(conns))
}
