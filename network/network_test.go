package network

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"lnsim/channel"
	"lnsim/config"
	"lnsim/core/types"
	"lnsim/observability/logging"
)

func testConfig() config.Config {
	cfg := *config.Default()
	cfg.Simulation.NodeTickMs = 1
	cfg.Chain.BlockTimeMs = 20
	cfg.Chain.BackgroundLoadBytes = 0
	cfg.Concurrency.BootstrapWorkers = 3
	cfg.Concurrency.InvoiceWorkers = 4
	cfg.Profiles = []config.Profile{
		{
			Name:           "hub",
			Nodes:          2,
			Channels:       config.Range{Min: 3, Max: 3},
			ChannelSize:    config.Range{Min: 1_000_000, Max: 2_000_000},
			FundingFeeRate: config.Range{Min: 4, Max: 8},
			BaseFee:        config.Range{Min: 0, Max: 100},
			FeePPM:         config.Range{Min: 100, Max: 500},
			CLTVDelta:      config.Range{Min: 18, Max: 40},
		},
		{
			Name:           "leaf",
			Nodes:          6,
			Channels:       config.Range{Min: 1, Max: 1},
			ChannelSize:    config.Range{Min: 200_000, Max: 400_000},
			FundingFeeRate: config.Range{Min: 1, Max: 4},
			BaseFee:        config.Range{Min: 1000, Max: 1000},
			FeePPM:         config.Range{Min: 1000, Max: 1000},
			CLTVDelta:      config.Range{Min: 18, Max: 18},
		},
	}
	return cfg
}

func newTestNetwork(t *testing.T) *Network {
	t.Helper()
	n, err := New(testConfig(), logging.Discard())
	require.NoError(t, err)
	return n
}

func bootstrapped(t *testing.T) *Network {
	t.Helper()
	n := newTestNetwork(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	report, err := n.BootstrapNetwork(ctx)
	require.NoError(t, err)
	require.Equal(t, 8, report.Nodes)
	require.Equal(t, report.Proposed, report.Opened)
	return n
}

func assertLedgers(t *testing.T, n *Network) {
	t.Helper()
	for _, ch := range n.Channels() {
		a, b := ch.Balance(channel.SideA), ch.Balance(channel.SideB)
		if a+b != ch.Capacity() {
			t.Fatalf("channel %s: expected balances to sum to %d, got %d+%d", ch.ID(), ch.Capacity(), a, b)
		}
		if ch.Pending(channel.SideA) != 0 || ch.Pending(channel.SideB) != 0 {
			t.Fatalf("channel %s: expected no pending amounts", ch.ID())
		}
	}
}

func TestBootstrapStepped(t *testing.T) {
	n := bootstrapped(t)
	require.False(t, n.Running())
	require.True(t, n.Idle())
	assertLedgers(t, n)

	perNode := map[types.NodeID]int{}
	for _, ch := range n.Channels() {
		perNode[ch.Node(channel.SideA)]++
		perNode[ch.Node(channel.SideB)]++
	}
	for _, node := range n.Nodes() {
		require.Len(t, node.Channels(), perNode[node.ID()], "node %s", node.ID())
		require.Zero(t, node.OpenProposals())
		if node.Profile() == "hub" {
			require.GreaterOrEqual(t, len(node.Channels()), 3)
		}
	}
	require.Equal(t, len(n.Channels()), n.GetStats().Channels)
}

func TestBootstrapGossipConverges(t *testing.T) {
	n := bootstrapped(t)
	require.True(t, n.Idle())
	if got := n.GetStats().Invariants; got != 0 {
		t.Fatalf("expected no invariant violations after bootstrap, got %d", got)
	}

	for _, node := range n.Nodes() {
		view := node.Graph()
		require.Equal(t, len(n.Channels()), view.NumChannels(), "node %s", node.ID())
		for _, ch := range n.Channels() {
			for _, side := range []channel.Direction{channel.SideA, channel.SideB} {
				e, ok := view.Edge(ch.ID(), ch.Node(side))
				if !ok || !e.Priced() {
					t.Fatalf("expected %s to have a priced edge %s from %s, got known=%v", node.ID(), ch.ID(), ch.Node(side), ok)
				}
			}
		}
	}
}

func TestBootstrapIsReproducible(t *testing.T) {
	first := bootstrapped(t)
	second := bootstrapped(t)

	capacity := func(n *Network) int64 {
		var total int64
		for _, ch := range n.Channels() {
			total += ch.Capacity()
		}
		return total
	}
	require.Equal(t, capacity(first), capacity(second))
	for i, node := range first.Nodes() {
		other := second.Nodes()[i]
		require.Equal(t, node.ID(), other.ID())
		require.Equal(t, node.Policy(), other.Policy())
		require.Equal(t, len(node.Channels()), len(other.Channels()))
	}
}

func TestStartStopLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	n := newTestNetwork(t)
	a, err := n.AddNode(types.NewIdentity("a", ""), "manual", types.Policy{CLTVDelta: 18, FeePPM: 100})
	require.NoError(t, err)
	_, err = n.AddNode(types.NewIdentity("b", ""), "manual", types.Policy{CLTVDelta: 18, FeePPM: 100})
	require.NoError(t, err)
	_, err = n.AddNode(types.NewIdentity("a", ""), "manual", types.Policy{})
	require.ErrorIs(t, err, ErrDuplicateNode)

	require.NoError(t, n.Start(context.Background()))
	require.ErrorIs(t, n.Start(context.Background()), ErrRunning)
	require.NoError(t, a.OpenChannel("b", 500_000, 4))
	require.Eventually(t, func() bool { return len(n.Channels()) == 1 && n.Idle() }, 5*time.Second, 5*time.Millisecond)

	// A node added while running gets its own loop.
	c, err := n.AddNode(types.NewIdentity("c", ""), "manual", types.Policy{CLTVDelta: 18})
	require.NoError(t, err)
	require.NoError(t, c.OpenChannel("a", 300_000, 4))
	require.Eventually(t, func() bool { return len(n.Channels()) == 2 && n.Idle() }, 5*time.Second, 5*time.Millisecond)

	n.Stop()
	require.False(t, n.Running())
	require.NoError(t, n.Err())
	n.Stop()
	assertLedgers(t, n)
}

func TestGenerateInvoiceEvents(t *testing.T) {
	n := bootstrapped(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := n.GenerateInvoiceEvents(ctx, 4, 2, 1000, 5000, 10_000)
	if !IsNotRunning(err) {
		t.Fatalf("expected not running error, got %v", err)
	}

	require.NoError(t, n.Start(ctx))
	_, err = n.GenerateInvoiceEvents(ctx, 0, 2, 1, 2, 0)
	require.Error(t, err)
	report, err := n.GenerateInvoiceEvents(ctx, 4, 2, 1000, 5000, 10_000)
	require.NoError(t, err)
	require.NoError(t, n.Drain(ctx))
	n.Stop()

	require.Equal(t, 8, report.Events)
	require.Equal(t, 8, report.Paid+report.Failed)

	stats := n.GetStats()
	require.Equal(t, 8, stats.InvoicesGenerated)
	require.Equal(t, 8, stats.PaymentsAttempted)
	require.Equal(t, report.Paid, stats.PaymentsSucceeded)
	require.Equal(t, report.Paid, stats.InvoicesPaid)
	require.Equal(t, report.Fees, stats.FeesPaid)
	if stats.LateSettlements == 0 {
		require.Equal(t, stats.FeesPaid, stats.FeesEarned)
	}
	require.Zero(t, stats.Invariants)
	assertLedgers(t, n)
}
