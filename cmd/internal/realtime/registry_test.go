package realtime

import (
	"fmt"
	"sync"
	"testing"

	v1 "huddle/contracts/realtime/v1"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	reg := NewRegistry()
	c1 := newFakeConn("c1")

	require.NoError(t, reg.Register(c1, "u1", "alice"))

	sess, ok := reg.LookupByConnection("c1")
	require.True(t, ok)
	require.Equal(t, IdentitySession{UserID: "u1", Username: "alice"}, sess)

	got, ok := reg.LookupByUser("u1")
	require.True(t, ok)
	require.Equal(t, "c1", got.ID())

	_, ok = reg.LookupByUser("u2")
	require.False(t, ok)
	require.Equal(t, 1, reg.Len())
	require.NoError(t, reg.checkInvariant())
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newFakeConn("c1"), "u1", "alice"))

	sess, ok := reg.Remove("c1")
	require.True(t, ok)
	require.Equal(t, "u1", sess.UserID)

	_, ok = reg.Remove("c1")
	require.False(t, ok)

	_, ok = reg.LookupByUser("u1")
	require.False(t, ok)
	require.Equal(t, 0, reg.Len())
	require.NoError(t, reg.checkInvariant())
}

func TestRegistry_RemoveStaleHandleKeepsNewerBinding(t *testing.T) {
	reg := NewRegistry()
	c1, c2 := newFakeConn("c1"), newFakeConn("c2")
	require.NoError(t, reg.Register(c1, "u1", "alice"))

	reg.Update(func(tx *RegistryTx) {
		tx.Remove("c1")
		require.NoError(t, tx.Register(c2, "u1", "alice"))
	})

	_, ok := reg.Remove("c1")
	require.False(t, ok)

	got, ok := reg.LookupByUser("u1")
	require.True(t, ok)
	require.Equal(t, "c2", got.ID())
	require.NoError(t, reg.checkInvariant())
}

func TestRegistry_ReRegisterUnderOtherUserDropsStaleIndex(t *testing.T) {
	reg := NewRegistry()
	c1 := newFakeConn("c1")
	require.NoError(t, reg.Register(c1, "u1", "alice"))
	require.NoError(t, reg.Register(c1, "u2", "bob"))

	_, ok := reg.LookupByUser("u1")
	require.False(t, ok)
	got, ok := reg.LookupByUser("u2")
	require.True(t, ok)
	require.Equal(t, "c1", got.ID())
	require.Equal(t, 1, reg.Len())
	require.NoError(t, reg.checkInvariant())
}

func TestRegistry_SetTyping(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newFakeConn("c1"), "u1", "alice"))

	reg.SetTyping("c1", true)
	sess, _ := reg.LookupByConnection("c1")
	require.True(t, sess.IsTyping)

	reg.SetTyping("c1", false)
	sess, _ = reg.LookupByConnection("c1")
	require.False(t, sess.IsTyping)

	reg.SetTyping("missing", true)
	_, ok := reg.LookupByConnection("missing")
	require.False(t, ok)
}

func TestRegistry_SnapshotSortedAndUnique(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newFakeConn("c1"), "u3", "carol"))
	require.NoError(t, reg.Register(newFakeConn("c2"), "u1", "alice"))
	require.NoError(t, reg.Register(newFakeConn("c3"), "u2", "alice"))

	require.Equal(t, []v1.PresenceEntry{
		{UserID: "u1", Username: "alice"},
		{UserID: "u2", Username: "alice"},
		{UserID: "u3", Username: "carol"},
	}, reg.Snapshot())
}

func TestRegistry_SnapshotEmptyIsNotNil(t *testing.T) {
	snap := NewRegistry().Snapshot()
	require.NotNil(t, snap)
	require.Empty(t, snap)
}

func TestRegistry_ConnsExclude(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newFakeConn("c1"), "u1", "alice"))
	require.NoError(t, reg.Register(newFakeConn("c2"), "u2", "bob"))

	require.Len(t, reg.Conns(""), 2)

	others := reg.Conns("c1")
	require.Len(t, others, 1)
	require.Equal(t, "c2", others[0].ID())
}

func TestRegistry_CloseReleasesEverything(t *testing.T) {
	reg := NewRegistry()
	c1, c2 := newFakeConn("c1"), newFakeConn("c2")
	require.NoError(t, reg.Register(c1, "u1", "alice"))
	require.NoError(t, reg.Register(c2, "u2", "bob"))

	reg.Close()
	reg.Close()

	require.Equal(t, 0, reg.Len())
	require.True(t, c1.isClosed())
	require.True(t, c2.isClosed())
	require.Equal(t, CloseShutdown, c1.reason)

	require.ErrorIs(t, reg.Register(newFakeConn("c3"), "u3", "carol"), ErrRegistryClosed)
	require.Equal(t, 0, reg.Len())
}

func TestRegistry_ConcurrentAnnounceAndRemoveKeepsInvariant(t *testing.T) {
	reg, router, _ := newTestCoordinator(t)

	const workers = 16
	const rounds = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				c := newFakeConn(fmt.Sprintf("c-%d-%d", w, i))
				uid := fmt.Sprintf("u%d", i%5)
				_, err := router.arbiter.Announce(c, uid, "user-"+uid)
				assert.NoError(t, err)
				if i%3 == 0 {
					reg.Remove(c.ID())
				}
			}
		}(w)
	}
	wg.Wait()

	require.NoError(t, reg.checkInvariant())
	require.LessOrEqual(t, reg.Len(), 5)
	require.Len(t, reg.Snapshot(), reg.Len())
}
