package membership

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bully/node/internal/identity"
)

func TestMergeFirstWriteWins(t *testing.T) {
	self := identity.ListenAddress{Host: "h", Port: 1}
	tbl := New(self, identity.Identity{Days: 10, StudentID: 100})

	peer := identity.ListenAddress{Host: "h", Port: 2}
	added := tbl.Merge(map[identity.ListenAddress]identity.Identity{
		peer: {Days: 5, StudentID: 200},
	})
	require.Equal(t, 1, added)

	// Re-merging the same peer with a different identity must not overwrite.
	added = tbl.Merge(map[identity.ListenAddress]identity.Identity{
		peer: {Days: 99, StudentID: 999},
	})
	require.Equal(t, 0, added)
	require.Equal(t, identity.Identity{Days: 5, StudentID: 200}, tbl.Snapshot()[peer])
}

func TestMergeIdempotent(t *testing.T) {
	self := identity.ListenAddress{Host: "h", Port: 1}
	tbl := New(self, identity.Identity{Days: 10, StudentID: 100})
	members := map[identity.ListenAddress]identity.Identity{
		{Host: "h", Port: 2}: {Days: 5, StudentID: 200},
	}
	tbl.Merge(members)
	before := tbl.Len()
	tbl.Merge(members)
	require.Equal(t, before, tbl.Len())
}

func TestHigherPeers(t *testing.T) {
	self := identity.ListenAddress{Host: "h", Port: 1}
	tbl := New(self, identity.Identity{Days: 10, StudentID: 100})
	lower := identity.ListenAddress{Host: "h", Port: 2}
	higher := identity.ListenAddress{Host: "h", Port: 3}
	tbl.Merge(map[identity.ListenAddress]identity.Identity{
		lower:  {Days: 5, StudentID: 200},
		higher: {Days: 20, StudentID: 50},
	})

	result := tbl.HigherPeers()
	require.ElementsMatch(t, []identity.ListenAddress{higher}, result)
}

func TestAllExceptSelf(t *testing.T) {
	self := identity.ListenAddress{Host: "h", Port: 1}
	tbl := New(self, identity.Identity{Days: 10, StudentID: 100})
	peer := identity.ListenAddress{Host: "h", Port: 2}
	tbl.Merge(map[identity.ListenAddress]identity.Identity{peer: {Days: 5, StudentID: 200}})

	require.ElementsMatch(t, []identity.ListenAddress{peer}, tbl.AllExceptSelf())
}

func TestSingletonHasNoHigherPeers(t *testing.T) {
	self := identity.ListenAddress{Host: "h", Port: 1}
	tbl := New(self, identity.Identity{Days: 10, StudentID: 100})
	require.Empty(t, tbl.HigherPeers())
	require.Empty(t, tbl.AllExceptSelf())
}

func TestAddressOfResolvesKnownIdentity(t *testing.T) {
	self := identity.ListenAddress{Host: "h", Port: 1}
	tbl := New(self, identity.Identity{Days: 10, StudentID: 100})
	peer := identity.ListenAddress{Host: "h", Port: 2}
	peerID := identity.Identity{Days: 5, StudentID: 200}
	tbl.Merge(map[identity.ListenAddress]identity.Identity{peer: peerID})

	addr, ok := tbl.AddressOf(peerID)
	require.True(t, ok)
	require.Equal(t, peer, addr)

	_, ok = tbl.AddressOf(identity.Identity{Days: 1, StudentID: 1})
	require.False(t, ok)
}

func TestResetSelfReplacesLocalAddress(t *testing.T) {
	self := identity.ListenAddress{Host: "h", Port: 1}
	tbl := New(self, identity.Identity{Days: 10, StudentID: 100})
	tbl.Merge(map[identity.ListenAddress]identity.Identity{
		{Host: "h", Port: 2}: {Days: 5, StudentID: 200},
	})
	require.Equal(t, 2, tbl.Len())

	newSelf := identity.ListenAddress{Host: "h", Port: 99}
	tbl.ResetSelf(newSelf, identity.Identity{Days: 10, StudentID: 100})

	require.Equal(t, 1, tbl.Len())
	require.Equal(t, newSelf, tbl.SelfAddress())
	require.Equal(t, identity.Identity{Days: 10, StudentID: 100}, tbl.SelfIdentity())
}
