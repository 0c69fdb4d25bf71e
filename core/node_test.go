package core

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lnsim/channel"
	"lnsim/core/types"
	"lnsim/routing"
)

var relayPolicy = types.Policy{CLTVDelta: 10, BaseFee: 0, FeePPM: 1000}

// chainOf opens A-B, B-C, C-D in sequence, each funded by its first node.
func chainOf(t *testing.T) (*testNet, []*Node, []*channel.Channel) {
	t.Helper()
	tn := newTestNet(t)
	nodes := []*Node{
		tn.addNode("A", relayPolicy),
		tn.addNode("B", relayPolicy),
		tn.addNode("C", relayPolicy),
		tn.addNode("D", relayPolicy),
	}
	var chans []*channel.Channel
	for i := 0; i < 3; i++ {
		chans = append(chans, tn.open(nodes[i], nodes[i+1], 100_000))
	}
	return tn, nodes, chans
}

func TestOpenChannelLifecycle(t *testing.T) {
	tn := newTestNet(t)
	a := tn.addNode("A", relayPolicy)
	b := tn.addNode("B", relayPolicy)

	ch := tn.open(a, b, 50_000)
	if got := ch.ID(); got != types.ChannelID("1x0x0") {
		t.Fatalf("expected channel id 1x0x0, got %s", got)
	}
	assertLedger(t, ch, 50_000, 0)
	require.Equal(t, int64(500), ReserveFor(50_000, 0.01))
	require.Len(t, b.Channels(), 1)
	require.Same(t, ch, b.Channels()[0])
	require.Equal(t, 1, a.Stats().ChannelsOpened)
	require.Equal(t, 1, b.Stats().ChannelsOpened)
	require.False(t, a.HasChannelWith("C"))

	for _, n := range []*Node{a, b} {
		require.True(t, n.Graph().HasChannel(ch.ID()), "node %s", n.ID())
		require.Equal(t, 2, n.Graph().NumEdges(), "node %s", n.ID())
		for _, from := range []types.NodeID{"A", "B"} {
			e, ok := n.Graph().Edge(ch.ID(), from)
			require.True(t, ok)
			require.True(t, e.Priced(), "node %s edge from %s", n.ID(), from)
		}
	}
}

func TestOpenChannelBeforeDepth(t *testing.T) {
	tn := newTestNet(t)
	a := tn.addNode("A", relayPolicy)
	b := tn.addNode("B", relayPolicy)

	require.NoError(t, a.OpenChannel(b.ID(), 10_000, 4))
	tn.settle()
	tn.mine(2)
	tn.settle()
	require.Empty(t, a.Channels())
	require.True(t, a.HasChannelWith(b.ID()))

	tn.mine(1)
	tn.settle()
	require.Len(t, a.Channels(), 1)
	require.Len(t, b.Channels(), 1)
}

func TestDuplicateProposal(t *testing.T) {
	tn := newTestNet(t)
	a := tn.addNode("A", relayPolicy)
	tn.addNode("B", relayPolicy)

	require.NoError(t, a.OpenChannel("B", 10_000, 4))
	err := a.OpenChannel("B", 10_000, 4)
	if !IsProposalPending(err) {
		t.Fatalf("expected pending proposal error, got %v", err)
	}
	require.ErrorIs(t, a.OpenChannel("A", 10_000, 4), ErrSelfChannel)
	require.ErrorIs(t, a.OpenChannel("Z", 10_000, 4), ErrUnknownPeer)
}

func TestCrossProposalsAreBothRejected(t *testing.T) {
	tn := newTestNet(t)
	a := tn.addNode("A", relayPolicy)
	b := tn.addNode("B", relayPolicy)

	require.NoError(t, a.OpenChannel("B", 10_000, 4))
	require.NoError(t, b.OpenChannel("A", 10_000, 4))
	tn.settle()
	tn.mine(5)
	tn.settle()

	require.Empty(t, a.Channels())
	require.Empty(t, b.Channels())
	require.Equal(t, 1, a.Stats().ChannelsRejected)
	require.Equal(t, 1, b.Stats().ChannelsRejected)
	require.False(t, a.HasChannelWith("B"))
}

func TestAcceptorRejectsReserveMismatch(t *testing.T) {
	tn := newTestNet(t)
	a := tn.addNode("A", relayPolicy)
	cfg := testConfig()
	cfg.ReserveFraction = 0.05
	tn.addNodeWith("B", relayPolicy, cfg)

	require.NoError(t, a.OpenChannel("B", 10_000, 4))
	tn.settle()
	require.False(t, a.HasChannelWith("B"))
	require.Equal(t, 1, a.Stats().ChannelsRejected)
}

func TestMultiHopPaymentFees(t *testing.T) {
	tn, nodes, chans := chainOf(t)
	a, b, c, d := nodes[0], nodes[1], nodes[2], nodes[3]

	inv, err := d.CreateInvoice(1000, "coffee")
	require.NoError(t, err)
	require.Nil(t, inv.Preimage)

	res := tn.pay(a, inv, 100)
	require.True(t, res.Paid(), "payment failed: %+v", res)
	require.Equal(t, 1, res.Attempts)
	require.Equal(t, int64(3), res.Fees)
	require.Equal(t, 3, res.Hops)

	assertLedger(t, chans[0], 100_000-1003, 1003)
	assertLedger(t, chans[1], 100_000-1001, 1001)
	assertLedger(t, chans[2], 100_000-1000, 1000)

	require.Equal(t, int64(2), b.Stats().FeesEarned)
	require.Equal(t, int64(1), c.Stats().FeesEarned)
	require.Equal(t, 1, b.Stats().Forwarded)
	require.Equal(t, int64(1000), d.Stats().AmountReceived)

	stored, ok := d.Invoice(inv.PaymentHash)
	require.True(t, ok)
	require.Equal(t, types.InvoicePaid, stored.Status)
	require.NotNil(t, stored.Preimage)
	require.Equal(t, inv.PaymentHash, types.PaymentHash(*stored.Preimage))

	st := a.Stats()
	require.Equal(t, 1, st.PaymentsSucceeded)
	require.Equal(t, int64(3), st.FeesPaid)
	require.Equal(t, []int{3}, st.PaidHops)

	for _, n := range nodes {
		offered, received := n.InFlight()
		require.Zero(t, offered, "node %s", n.ID())
		require.Zero(t, received, "node %s", n.ID())
	}
}

func TestPaymentOverFeeBudgetIsDiscarded(t *testing.T) {
	tn, nodes, chans := chainOf(t)
	inv, err := nodes[3].CreateInvoice(1000, "")
	require.NoError(t, err)

	res := tn.pay(nodes[0], inv, 2)
	require.False(t, res.Paid())
	require.Equal(t, types.InvoiceAbandoned, res.Status)
	require.Zero(t, res.Attempts)
	require.Equal(t, 1, res.Discards[DiscardFeeBudget])
	assertLedger(t, chans[0], 100_000, 0)
}

func TestSelfPaymentRejected(t *testing.T) {
	tn := newTestNet(t)
	a := tn.addNode("A", relayPolicy)
	inv, err := a.CreateInvoice(10, "")
	require.NoError(t, err)
	_, err = a.PayInvoice(context.Background(), inv, 10)
	require.ErrorIs(t, err, ErrSelfPayment)
	_, err = a.CreateInvoice(0, "")
	require.Error(t, err)
}

func TestExpiredHTLCIsFailedBack(t *testing.T) {
	tn, nodes, chans := chainOf(t)
	a, b := nodes[0], nodes[1]
	height := tn.chain.Height()

	secret := types.Hash{1}
	onion := (*types.Onion)(nil).
		Wrap(types.HopPayload{AmountToForward: 1000, OutgoingCLTV: height + 18, PaymentSecret: &secret}).
		Wrap(types.HopPayload{NextChannel: chans[1].ID(), AmountToForward: 1000, OutgoingCLTV: height + 18})
	htlc := types.HTLC{
		ChannelID:   chans[0].ID(),
		ID:          chans[0].NextHTLCID(),
		Amount:      1001,
		PaymentHash: types.Hash{9},
		CLTVExpiry:  height,
		Onion:       onion,
	}
	b.Enqueue(&types.Message{From: a.ID(), To: b.ID(), Payload: &types.AddHTLC{HTLC: htlc}})
	b.Tick()

	msgs := a.inbox[types.CategoryHTLC].take(0)
	require.Len(t, msgs, 1)
	fail, ok := msgs[0].Payload.(*types.FailHTLC)
	require.True(t, ok, "expected fail, got %s", msgs[0])
	require.Equal(t, types.FailureExpiryTooSoon, fail.Reason)
	require.Equal(t, htlc.Key(), types.HTLCKey{ChannelID: fail.ChannelID, ID: fail.ID})

	require.Zero(t, chans[1].Pending(channel.SideA))
	_, received := b.InFlight()
	require.Zero(t, received)
	require.Equal(t, 1, b.Stats().FailuresEmitted[types.FailureExpiryTooSoon])
}

func TestIncorrectPaymentSecret(t *testing.T) {
	tn, nodes, chans := chainOf(t)
	inv, err := nodes[3].CreateInvoice(1000, "")
	require.NoError(t, err)
	forged := *inv
	forged.PaymentSecret = types.Hash{0xff}

	res := tn.pay(nodes[0], &forged, 100)
	require.False(t, res.Paid())
	require.Equal(t, []types.FailureReason{types.FailureIncorrectPaymentDetails}, res.Failures)
	for _, ch := range chans {
		assertLedger(t, ch, 100_000, 0)
	}
	stored, _ := nodes[3].Invoice(inv.PaymentHash)
	require.Equal(t, types.InvoiceGenerated, stored.Status)
}

func TestForwardWithoutLiquidity(t *testing.T) {
	tn := newTestNet(t)
	a := tn.addNode("A", relayPolicy)
	b := tn.addNode("B", relayPolicy)
	c := tn.addNode("C", relayPolicy)
	ab := tn.open(a, b, 100_000)
	// C funds B-C, so B has nothing to forward with.
	bc := tn.open(c, b, 100_000)

	inv, err := c.CreateInvoice(1000, "")
	require.NoError(t, err)
	res := tn.pay(a, inv, 100)
	require.False(t, res.Paid())
	require.Equal(t, []types.FailureReason{types.FailureTemporaryChannel}, res.Failures)
	require.Equal(t, 1, b.Stats().FailuresEmitted[types.FailureTemporaryChannel])
	assertLedger(t, ab, 100_000, 0)
	assertLedger(t, bc, 100_000, 0)
	require.Equal(t, 1, a.Stats().AttemptFailures[types.FailureTemporaryChannel])
}

func TestTimeoutThenLateSettlement(t *testing.T) {
	tn := newTestNet(t)
	a := tn.addNode("A", relayPolicy)
	b := tn.addNode("B", relayPolicy)
	c := tn.addNode("C", relayPolicy)
	ab := tn.open(a, b, 100_000)
	bc := tn.open(b, c, 100_000)

	inv, err := c.CreateInvoice(1000, "")
	require.NoError(t, err)

	done := make(chan *PaymentResult, 1)
	go func() {
		res, err := a.PayInvoice(context.Background(), inv, 100)
		if err != nil {
			done <- nil
			return
		}
		done <- res
	}()

	require.Eventually(t, func() bool {
		a.Tick()
		return b.Pending() > 0
	}, 5*time.Second, time.Millisecond)
	b.Tick()
	c.Tick()
	// The fulfill now waits in B's inbox while the sender's deadline passes.
	require.Equal(t, 1, b.Pending())

	tn.mine(60)
	var res *PaymentResult
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("payment did not time out")
	}
	require.NotNil(t, res)
	require.Equal(t, types.InvoiceAbandoned, res.Status)
	require.Equal(t, []types.FailureReason{types.FailureTimeout}, res.Failures)
	require.Equal(t, 1, res.Attempts)

	tn.settle()
	st := a.Stats()
	require.Equal(t, 1, st.LateSettlements)
	require.Equal(t, 1, st.PaymentsFailed)
	require.Zero(t, st.Invariants)
	assertLedger(t, ab, 100_000-1001, 1001)
	assertLedger(t, bc, 100_000-1000, 1000)
}

func TestUnknownFulfillIsInvariantAndTickContinues(t *testing.T) {
	tn := newTestNet(t)
	a := tn.addNode("A", relayPolicy)
	b := tn.addNode("B", relayPolicy)
	ch := tn.open(a, b, 10_000)

	for id := uint64(90); id < 92; id++ {
		a.Enqueue(&types.Message{From: b.ID(), To: a.ID(), Payload: &types.FulfillHTLC{ChannelID: ch.ID(), ID: id}})
	}
	a.Tick()
	require.Equal(t, 2, a.Stats().Invariants)
	require.Zero(t, a.Pending())
	assertLedger(t, ch, 10_000, 0)

	err := a.HandleMessage(&types.Message{From: b.ID(), To: a.ID()})
	require.ErrorIs(t, err, ErrUnknownMessage)
}

func TestUpdateForUnknownEdgeIsNotMarkedSeen(t *testing.T) {
	tn := newTestNet(t)
	a := tn.addNode("A", relayPolicy)
	tn.addNode("B", relayPolicy)

	upd := &types.ChannelUpdate{ChannelID: "7x0x0", Signer: "B", Policy: relayPolicy, Timestamp: 1}
	for i := 0; i < 2; i++ {
		a.Enqueue(&types.Message{From: "B", To: a.ID(), Payload: upd})
		a.Tick()
	}
	require.Equal(t, 2, a.Stats().Invariants)
	require.Zero(t, a.Graph().NumChannels())
}

func TestGossipReachesNonNeighbours(t *testing.T) {
	_, nodes, chans := chainOf(t)
	a := nodes[0]
	for _, ch := range chans {
		require.True(t, a.Graph().HasChannel(ch.ID()), "A should know %s", ch.ID())
	}
	e, ok := a.Graph().Edge(chans[2].ID(), "C")
	require.True(t, ok)
	require.True(t, e.Priced())
	require.Equal(t, relayPolicy, *e.Policy)
}

func TestRelayStopsAtHopAndAgeBounds(t *testing.T) {
	tn, nodes, chans := chainOf(t)
	a, b, c := nodes[0], nodes[1], nodes[2]
	first := chans[0].ID()

	edgePolicy := func(n *Node) types.Policy {
		t.Helper()
		e, ok := n.Graph().Edge(first, a.ID())
		require.True(t, ok)
		require.True(t, e.Priced())
		return *e.Policy
	}

	worn := types.Policy{CLTVDelta: 11, FeePPM: 2000}
	b.Enqueue(&types.Message{From: a.ID(), To: b.ID(), Payload: &types.ChannelUpdate{
		ChannelID: first, Signer: a.ID(), Policy: worn, Timestamp: tn.chain.Height(), Forwardings: 6,
	}})
	tn.settle()
	require.Equal(t, worn, edgePolicy(b))
	if got := edgePolicy(c); got != relayPolicy {
		t.Fatalf("expected an update at the hop bound to stop at B, got %+v at C", got)
	}

	stamp := tn.chain.Height() + 1
	tn.mine(int(b.cfg.Relay.MaxAge) + 3)
	old := types.Policy{CLTVDelta: 12, FeePPM: 3000}
	b.Enqueue(&types.Message{From: a.ID(), To: b.ID(), Payload: &types.ChannelUpdate{
		ChannelID: first, Signer: a.ID(), Policy: old, Timestamp: stamp,
	}})
	tn.settle()
	require.Equal(t, old, edgePolicy(b))
	if got := edgePolicy(c); got != relayPolicy {
		t.Fatalf("expected a stale update to stop at B, got %+v at C", got)
	}

	fresh := types.Policy{CLTVDelta: 13, FeePPM: 4000}
	b.Enqueue(&types.Message{From: a.ID(), To: b.ID(), Payload: &types.ChannelUpdate{
		ChannelID: first, Signer: a.ID(), Policy: fresh, Timestamp: tn.chain.Height(),
	}})
	tn.settle()
	require.Equal(t, fresh, edgePolicy(c))
	require.Zero(t, b.Stats().Invariants)
}

func TestNewPeerLearnsEarlierChannels(t *testing.T) {
	tn := newTestNet(t)
	a := tn.addNode("A", relayPolicy)
	b := tn.addNode("B", relayPolicy)
	first := tn.open(a, b, 100_000)

	c := tn.addNode("C", relayPolicy)
	second := tn.open(b, c, 100_000)
	d := tn.addNode("D", relayPolicy)
	third := tn.open(d, c, 100_000)

	for _, n := range []*Node{a, b, c, d} {
		for _, ch := range []*channel.Channel{first, second, third} {
			info, ok := n.Graph().Channel(ch.ID())
			if !ok {
				t.Fatalf("expected %s to know %s, got nothing", n.ID(), ch.ID())
			}
			for _, end := range []types.NodeID{info.NodeA, info.NodeB} {
				e, ok := n.Graph().Edge(ch.ID(), end)
				require.True(t, ok, "%s: edge %s from %s", n.ID(), ch.ID(), end)
				require.True(t, e.Priced(), "%s: edge %s from %s unpriced", n.ID(), ch.ID(), end)
				require.Equal(t, relayPolicy, *e.Policy)
			}
		}
		if got := n.Stats().Invariants; got != 0 {
			t.Fatalf("expected no invariant violations at %s, got %d", n.ID(), got)
		}
	}

	inv, err := c.CreateInvoice(1000, "")
	require.NoError(t, err)
	res := tn.pay(a, inv, 100)
	require.True(t, res.Paid(), "payment failed: %+v", res)
	require.Equal(t, 2, res.Hops)
}

func TestPaymentRecordReadableWhilePaying(t *testing.T) {
	tn, nodes, _ := chainOf(t)
	a, d := nodes[0], nodes[3]
	inv, err := d.CreateInvoice(1000, "")
	require.NoError(t, err)

	stop := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if res, ok := a.Payment(inv.PaymentHash); ok {
				_ = res.Attempts + len(res.Failures) + len(res.Discards)
			}
			if st, err := a.Snapshot(); err == nil {
				for _, p := range st.Payments {
					_ = p.Status
				}
			}
		}
	}()

	res := tn.pay(a, inv, 100)
	close(stop)
	<-finished
	require.True(t, res.Paid(), "payment failed: %+v", res)

	stored, ok := a.Payment(inv.PaymentHash)
	require.True(t, ok)
	if stored.Status != types.InvoicePaid || stored.Attempts != 1 {
		t.Fatalf("expected a paid record after one attempt, got %s after %d", stored.Status, stored.Attempts)
	}
	require.Equal(t, res.Fees, stored.Fees)
}

func TestTickIsNotReentrant(t *testing.T) {
	tn := newTestNet(t)
	a := tn.addNode("A", relayPolicy)
	a.ticking.Store(true)
	a.Tick()
	require.Zero(t, a.ticks.Load())
	a.ticking.Store(false)
	a.Tick()
	require.Equal(t, uint64(1), a.ticks.Load())
	require.False(t, a.Busy())
}

func TestBuildOnion(t *testing.T) {
	b := types.Policy{CLTVDelta: 40, FeePPM: 1000}
	c := types.Policy{CLTVDelta: 20, BaseFee: 1000, FeePPM: 0}
	path := routing.Path{
		{ChannelID: "1x0x0", Source: "A", Destination: "B", Capacity: 10_000, Policy: &relayPolicy},
		{ChannelID: "2x0x0", Source: "B", Destination: "C", Capacity: 10_000, Policy: &b},
		{ChannelID: "3x0x0", Source: "C", Destination: "D", Capacity: 10_000, Policy: &c},
	}
	secret := types.Hash{7}
	route, err := BuildOnion(path, 5000, 100, 18, secret)
	require.NoError(t, err)

	// C charges 1 sat base; B charges ceil(5001*1000/1e6) = 6.
	require.Equal(t, int64(5007), route.Amount)
	require.Equal(t, int64(7), route.Fees)
	require.Equal(t, uint64(100+18+20+40), route.CLTVExpiry)
	require.Equal(t, 3, route.Onion.Depth())

	hop, inner, err := route.Onion.Peel()
	require.NoError(t, err)
	require.Equal(t, types.ChannelID("2x0x0"), hop.NextChannel)
	require.Equal(t, int64(5001), hop.AmountToForward)
	require.Equal(t, uint64(100+18+20), hop.OutgoingCLTV)

	hop, inner, err = inner.Peel()
	require.NoError(t, err)
	require.Equal(t, types.ChannelID("3x0x0"), hop.NextChannel)
	require.Equal(t, int64(5000), hop.AmountToForward)

	hop, inner, err = inner.Peel()
	require.NoError(t, err)
	require.True(t, hop.Final())
	require.Nil(t, inner)
	require.Equal(t, secret, *hop.PaymentSecret)

	_, err = BuildOnion(nil, 1, 0, 18, secret)
	require.Error(t, err)
	path[1].Policy = nil
	_, err = BuildOnion(path, 1, 0, 18, secret)
	require.Error(t, err)
}

func TestNodeSnapshotRestore(t *testing.T) {
	tn, nodes, _ := chainOf(t)
	a, d := nodes[0], nodes[3]
	inv, err := d.CreateInvoice(1000, "")
	require.NoError(t, err)
	require.True(t, tn.pay(a, inv, 100).Paid())

	st, err := a.Snapshot()
	require.NoError(t, err)
	raw, err := json.Marshal(st)
	require.NoError(t, err)
	var decoded State
	require.NoError(t, json.Unmarshal(raw, &decoded))

	tn2 := newTestNet(t)
	for _, cs := range decoded.Channels {
		ch, err := channel.Restore(cs)
		require.NoError(t, err)
		require.NoError(t, tn2.RegisterChannel(ch))
	}
	restored, err := Restore(Options{Env: tn2, Chain: tn.chain, Config: testConfig(), Seed: 7}, decoded)
	require.NoError(t, err)
	require.NoError(t, restored.LinkChannels(tn2.Channel))

	require.Equal(t, a.Stats(), restored.Stats())
	require.Equal(t, a.Graph().NumChannels(), restored.Graph().NumChannels())
	require.Equal(t, a.Graph().NumEdges(), restored.Graph().NumEdges())
	require.Len(t, restored.Channels(), 1)
	require.Equal(t, a.Channels()[0].Balance(channel.SideA), restored.Channels()[0].Balance(channel.SideA))
	require.Equal(t, a.randomHash(), restored.randomHash())

	res, ok := restored.Payment(inv.PaymentHash)
	require.True(t, ok)
	require.True(t, res.Paid())

	bad := State{Identity: types.NewIdentity("X", ""), Channels: []channel.State{{ID: "9x9x9"}}}
	x, err := Restore(Options{Env: tn2, Chain: tn.chain}, bad)
	require.NoError(t, err)
	require.ErrorIs(t, x.LinkChannels(tn2.Channel), ErrUnlinkedChannel)
}

func TestNodeSeedIsStable(t *testing.T) {
	require.Equal(t, NodeSeed("A"), NodeSeed("A"))
	require.NotEqual(t, NodeSeed("A"), NodeSeed("B"))
	var _ Env = (*testNet)(nil)
}
