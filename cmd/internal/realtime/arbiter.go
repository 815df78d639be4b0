package realtime

import (
	"log/slog"
	"time"

	v1 "huddle/contracts/realtime/v1"
)

// LoginElsewhereMessage is the notice sent to a connection displaced by a newer login.
const LoginElsewhereMessage = "Your account has been logged in from another device"

// Arbiter enforces one live connection per user id.
type Arbiter struct {
	log      *slog.Logger
	reg      *Registry
	presence *Presence
	metrics  *Metrics
	now      func() time.Time
}

// NewArbiter constructs an arbiter. presence is notified after every announce.
func NewArbiter(log *slog.Logger, reg *Registry, presence *Presence, metrics *Metrics) *Arbiter {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Arbiter{
		log:      log,
		reg:      reg,
		presence: presence,
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Announce registers conn as the live connection of userID.
//
// Any other connection of userID is removed in the same critical section,
// then sent account_login_elsewhere and force-closed, and only then is the
// new roster broadcast. The displaced connection, if any, is returned.
func (a *Arbiter) Announce(conn Conn, userID, username string) (Conn, error) {
	var (
		displaced Conn
		err       error
	)
	a.reg.Update(func(tx *RegistryTx) {
		if existing, ok := tx.LookupByUser(userID); ok && existing.ID() != conn.ID() {
			tx.Remove(existing.ID())
			displaced = existing
		}
		err = tx.Register(conn, userID, username)
	})
	if err != nil {
		return nil, err
	}

	if displaced != nil {
		a.evict(displaced, userID)
	}

	a.log.Info("presence.announce", "conn_id", conn.ID(), "user_id", userID, "evicted", displaced != nil)

	if a.presence != nil {
		a.presence.Broadcast()
	}
	return displaced, nil
}

func (a *Arbiter) evict(old Conn, userID string) {
	env, err := newEnvelope(v1.TypeAccountLoginElsewhere, v1.NoticePayload{Message: LoginElsewhereMessage}, a.now())
	if err != nil {
		a.log.Error("presence.evict.envelope.fail", "conn_id", old.ID(), "err", err)
	} else if err := old.Send(env); err != nil {
		a.log.Info("presence.evict.notice.fail", "conn_id", old.ID(), "user_id", userID, "err", err)
	}

	old.Close(CloseEvicted)
	a.metrics.Evictions.Inc()
	a.log.Info("presence.evict", "conn_id", old.ID(), "user_id", userID)
}
