package realtime

import (
	"errors"
	"sort"
	"sync"

	v1 "huddle/contracts/realtime/v1"
)

// ErrRegistryClosed is returned when registering into a closed registry.
var ErrRegistryClosed = errors.New("realtime: registry closed")

// IdentitySession is the identity bound to one registered connection.
type IdentitySession struct {
	UserID   string
	Username string
	IsTyping bool
}

type registryEntry struct {
	conn    Conn
	session IdentitySession
}

// Registry maps connection handles to identities and user ids to their single live handle.
//
// Invariant (at every unlock): for every entry in byConnection,
// byUser[entry.session.UserID] is that entry's handle, and byUser never
// points at a handle missing from byConnection.
type Registry struct {
	mu           sync.RWMutex
	byConnection map[string]registryEntry
	byUser       map[string]string
	closed       bool
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byConnection: make(map[string]registryEntry),
		byUser:       make(map[string]string),
	}
}

// RegistryTx exposes registry operations inside an Update critical section.
// It must not escape the callback.
type RegistryTx struct {
	r *Registry
}

// Update runs fn with the write lock held.
// fn must not perform network I/O or call back into the Registry.
func (r *Registry) Update(fn func(tx *RegistryTx)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&RegistryTx{r: r})
}

// Register binds conn to (userID, username), overwriting any previous binding of conn.
// A different live connection of userID must be removed first (see Arbiter.Announce).
func (tx *RegistryTx) Register(conn Conn, userID, username string) error {
	r := tx.r
	if r.closed {
		return ErrRegistryClosed
	}

	handle := conn.ID()
	if prev, ok := r.byConnection[handle]; ok && prev.session.UserID != userID {
		if r.byUser[prev.session.UserID] == handle {
			delete(r.byUser, prev.session.UserID)
		}
	}

	r.byConnection[handle] = registryEntry{
		conn:    conn,
		session: IdentitySession{UserID: userID, Username: username},
	}
	r.byUser[userID] = handle
	return nil
}

// LookupByConnection returns the identity bound to handle.
func (tx *RegistryTx) LookupByConnection(handle string) (IdentitySession, bool) {
	e, ok := tx.r.byConnection[handle]
	return e.session, ok
}

// LookupByUser returns the live connection of userID.
func (tx *RegistryTx) LookupByUser(userID string) (Conn, bool) {
	handle, ok := tx.r.byUser[userID]
	if !ok {
		return nil, false
	}
	e, ok := tx.r.byConnection[handle]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// SetTyping updates the typing flag of handle. Unknown handles are ignored.
func (tx *RegistryTx) SetTyping(handle string, isTyping bool) {
	e, ok := tx.r.byConnection[handle]
	if !ok {
		return
	}
	e.session.IsTyping = isTyping
	tx.r.byConnection[handle] = e
}

// Remove unregisters handle. byUser is only cleared if it still points at handle.
func (tx *RegistryTx) Remove(handle string) (IdentitySession, bool) {
	r := tx.r
	e, ok := r.byConnection[handle]
	if !ok {
		return IdentitySession{}, false
	}
	delete(r.byConnection, handle)
	if r.byUser[e.session.UserID] == handle {
		delete(r.byUser, e.session.UserID)
	}
	return e.session, true
}

// Register is a single-operation Update.
func (r *Registry) Register(conn Conn, userID, username string) error {
	var err error
	r.Update(func(tx *RegistryTx) { err = tx.Register(conn, userID, username) })
	return err
}

func (r *Registry) LookupByConnection(handle string) (IdentitySession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return (&RegistryTx{r: r}).LookupByConnection(handle)
}

func (r *Registry) LookupByUser(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return (&RegistryTx{r: r}).LookupByUser(userID)
}

func (r *Registry) SetTyping(handle string, isTyping bool) {
	r.Update(func(tx *RegistryTx) { tx.SetTyping(handle, isTyping) })
}

func (r *Registry) Remove(handle string) (IdentitySession, bool) {
	var (
		s  IdentitySession
		ok bool
	)
	r.Update(func(tx *RegistryTx) { s, ok = tx.Remove(handle) })
	return s, ok
}

// Snapshot returns the online roster, one entry per user id,
// ordered by username then user id.
func (r *Registry) Snapshot() []v1.PresenceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []v1.PresenceEntry {
	out := make([]v1.PresenceEntry, 0, len(r.byConnection))
	seen := make(map[string]struct{}, len(r.byConnection))
	for _, e := range r.byConnection {
		if _, dup := seen[e.session.UserID]; dup {
			continue
		}
		seen[e.session.UserID] = struct{}{}
		out = append(out, v1.PresenceEntry{UserID: e.session.UserID, Username: e.session.Username})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Username != out[j].Username {
			return out[i].Username < out[j].Username
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// Conns returns all registered connections except the one with handle exclude.
func (r *Registry) Conns(exclude string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connsLocked(exclude)
}

func (r *Registry) connsLocked(exclude string) []Conn {
	out := make([]Conn, 0, len(r.byConnection))
	for handle, e := range r.byConnection {
		if handle == exclude {
			continue
		}
		out = append(out, e.conn)
	}
	return out
}

// view returns a consistent roster and recipient list.
func (r *Registry) view() ([]v1.PresenceEntry, []Conn) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(), r.connsLocked("")
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConnection)
}

// Close releases every entry and force-closes the connections. Later Register calls fail.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	conns := r.connsLocked("")
	r.byConnection = make(map[string]registryEntry)
	r.byUser = make(map[string]string)
	r.mu.Unlock()

	for _, c := range conns {
		c.Close(CloseShutdown)
	}
}

// checkInvariant reports whether the two indexes agree. Used by tests.
func (r *Registry) checkInvariant() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for handle, e := range r.byConnection {
		if r.byUser[e.session.UserID] != handle {
			return errors.New("byUser does not point at registered handle " + handle)
		}
	}
	for uid, handle := range r.byUser {
		e, ok := r.byConnection[handle]
		if !ok {
			return errors.New("byUser entry " + uid + " points at missing handle " + handle)
		}
		if e.session.UserID != uid {
			return errors.New("byUser entry " + uid + " points at handle of another user")
		}
	}
	return nil
}
