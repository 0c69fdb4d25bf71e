package topology

import (
	"testing"

	"github.com/stretchr/testify/require"

	"lnsim/core/types"
)

func announcement(id types.ChannelID, a, b types.NodeID, ts uint64) *types.ChannelAnnouncement {
	return &types.ChannelAnnouncement{ChannelID: id, NodeA: a, NodeB: b, Capacity: 100_000, Timestamp: ts}
}

func TestAnnouncementIsIdempotent(t *testing.T) {
	g := NewGraph()
	ann := announcement("1x0x0", "a", "b", 1)
	require.NoError(t, g.AddAnnouncedEdge(ann))
	err := g.AddAnnouncedEdge(ann)
	require.True(t, IsKnownChannel(err))
	require.Equal(t, 1, g.NumChannels())
	require.Equal(t, 2, g.NumEdges())
	require.Len(t, g.Outgoing("a"), 1)
	require.Len(t, g.Outgoing("b"), 1)
}

func TestUpdatePolicyDirection(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddAnnouncedEdge(announcement("1x0x0", "a", "b", 1)))
	applied, err := g.UpdatePolicy("b", "1x0x0", types.Policy{CLTVDelta: 40, FeePPM: 1000}, 2)
	require.NoError(t, err)
	require.True(t, applied)

	fromA, ok := g.Edge("1x0x0", "a")
	require.True(t, ok)
	require.False(t, fromA.Priced())
	fromB, ok := g.Edge("1x0x0", "b")
	require.True(t, ok)
	require.True(t, fromB.Priced())
	require.Equal(t, types.NodeID("a"), fromB.Destination)
	require.EqualValues(t, 1000, fromB.Policy.FeePPM)

	applied, err = g.UpdatePolicy("b", "1x0x0", types.Policy{CLTVDelta: 10}, 1)
	require.NoError(t, err)
	require.False(t, applied, "older update must not overwrite")
}

func TestUpdateBeforeAnnouncementIsInvariant(t *testing.T) {
	g := NewGraph()
	_, err := g.UpdatePolicy("a", "9x9x0", types.Policy{}, 1)
	require.ErrorIs(t, err, ErrUnknownEdge)
	require.True(t, types.IsInvariant(err))
}

func TestOutgoingIsSortedAndCopied(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddAnnouncedEdge(announcement("3x0x0", "a", "d", 1)))
	require.NoError(t, g.AddAnnouncedEdge(announcement("1x0x0", "a", "b", 1)))
	require.NoError(t, g.AddAnnouncedEdge(announcement("2x0x0", "c", "a", 1)))
	_, err := g.UpdatePolicy("a", "1x0x0", types.Policy{FeePPM: 5}, 1)
	require.NoError(t, err)

	out := g.Outgoing("a")
	require.Len(t, out, 3)
	require.Equal(t, types.ChannelID("1x0x0"), out[0].ChannelID)
	require.Equal(t, types.ChannelID("2x0x0"), out[1].ChannelID)
	require.Equal(t, types.NodeID("c"), out[1].Destination)
	out[0].Policy.FeePPM = 99
	again, _ := g.Edge("1x0x0", "a")
	require.EqualValues(t, 5, again.Policy.FeePPM)
}

func TestPurgeUnpriced(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddAnnouncedEdge(announcement("1x0x0", "a", "b", 10)))
	require.NoError(t, g.AddAnnouncedEdge(announcement("2x0x0", "b", "c", 10)))
	_, err := g.UpdatePolicy("c", "2x0x0", types.Policy{}, 11)
	require.NoError(t, err)

	require.Empty(t, g.PurgeUnpriced(15, 5))
	purged := g.PurgeUnpriced(16, 5)
	require.Equal(t, []types.ChannelID{"1x0x0"}, purged)
	require.False(t, g.HasChannel("1x0x0"))
	require.Empty(t, g.Outgoing("a"))
	require.Equal(t, []types.NodeID{"b", "c"}, g.Nodes())
}

func TestSnapshotRestore(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddAnnouncedEdge(announcement("1x0x0", "a", "b", 1)))
	_, err := g.UpdatePolicy("a", "1x0x0", types.Policy{CLTVDelta: 18, BaseFee: 1000}, 3)
	require.NoError(t, err)

	restored, err := Restore(g.Snapshot())
	require.NoError(t, err)
	require.Equal(t, g.Snapshot(), restored.Snapshot())
	applied, err := restored.UpdatePolicy("a", "1x0x0", types.Policy{}, 2)
	require.NoError(t, err)
	require.False(t, applied)
}
