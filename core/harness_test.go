package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"lnsim/chain"
	"lnsim/channel"
	"lnsim/core/types"
	"lnsim/observability/logging"
	"lnsim/p2p"
	"lnsim/routing"
)

// testNet is a minimal in-process network: a registry, a chain advanced by
// hand and nodes ticked by the test.
type testNet struct {
	t     *testing.T
	chain *chain.Blockchain

	mu       sync.Mutex
	nodes    map[types.NodeID]*Node
	order    []types.NodeID
	channels map[types.ChannelID]*channel.Channel
}

func newTestNet(t *testing.T) *testNet {
	t.Helper()
	return &testNet{
		t:        t,
		chain:    chain.NewBlockchain(chain.Config{BlockTime: time.Second, BlockWeight: 100_000}, logging.Discard()),
		nodes:    make(map[types.NodeID]*Node),
		channels: make(map[types.ChannelID]*channel.Channel),
	}
}

func testConfig() Config {
	return Config{
		ToSelfDelay:          144,
		MinimumDepth:         3,
		FinalCLTVDelta:       18,
		ReserveFraction:      0.01,
		MaxPaths:             10,
		QueueBatchSize:       16,
		AttemptTimeoutBlocks: 2,
		FundingTxSize:        250,
		Relay:                p2p.RelayPolicy{MaxHops: 6, MaxAge: 144},
		GossipFlushSize:      16,
		GossipFlushPeriod:    1,
		SeenCacheSize:        128,
	}
}

func (tn *testNet) addNode(id string, policy types.Policy) *Node {
	tn.t.Helper()
	return tn.addNodeWith(id, policy, testConfig())
}

func (tn *testNet) addNodeWith(id string, policy types.Policy, cfg Config) *Node {
	tn.t.Helper()
	finder, err := routing.NewFinder(routing.FeeWeightedName)
	if err != nil {
		tn.t.Fatalf("finder: %v", err)
	}
	n, err := NewNode(Options{
		Identity: types.NewIdentity(types.NodeID(id), ""),
		Policy:   policy,
		Config:   cfg,
		Env:      tn,
		Chain:    tn.chain,
		Finder:   finder,
		Logger:   logging.Discard(),
		Seed:     7,
	})
	if err != nil {
		tn.t.Fatalf("new node %s: %v", id, err)
	}
	tn.mu.Lock()
	tn.nodes[n.ID()] = n
	tn.order = append(tn.order, n.ID())
	tn.mu.Unlock()
	return n
}

func (tn *testNet) Send(msg *types.Message) error {
	tn.mu.Lock()
	n, ok := tn.nodes[msg.To]
	tn.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, msg.To)
	}
	n.Enqueue(msg)
	return nil
}

func (tn *testNet) Identity(id types.NodeID) (types.Identity, bool) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	n, ok := tn.nodes[id]
	if !ok {
		return types.Identity{}, false
	}
	return n.Identity(), true
}

func (tn *testNet) RegisterChannel(ch *channel.Channel) error {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	if _, ok := tn.channels[ch.ID()]; ok {
		return fmt.Errorf("channel %s registered twice", ch.ID())
	}
	tn.channels[ch.ID()] = ch
	return nil
}

func (tn *testNet) Channel(id types.ChannelID) (*channel.Channel, bool) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	ch, ok := tn.channels[id]
	return ch, ok
}

func (tn *testNet) tickAll() {
	tn.mu.Lock()
	order := append([]types.NodeID(nil), tn.order...)
	tn.mu.Unlock()
	for _, id := range order {
		tn.nodes[id].Tick()
	}
}

// settle ticks every node until all inboxes are empty.
func (tn *testNet) settle() {
	tn.t.Helper()
	for round := 0; round < 200; round++ {
		tn.tickAll()
		pending := 0
		for _, n := range tn.nodes {
			pending += n.Pending()
		}
		if pending == 0 {
			return
		}
	}
	tn.t.Fatalf("network did not settle")
}

func (tn *testNet) mine(blocks int) {
	tn.t.Helper()
	for i := 0; i < blocks; i++ {
		if _, err := tn.chain.AdvanceOneBlock(); err != nil {
			tn.t.Fatalf("mine: %v", err)
		}
	}
}

// open runs the full opening protocol and returns the confirmed ledger.
func (tn *testNet) open(from, to *Node, capacity int64) *channel.Channel {
	tn.t.Helper()
	if err := from.OpenChannel(to.ID(), capacity, 4); err != nil {
		tn.t.Fatalf("open %s->%s: %v", from.ID(), to.ID(), err)
	}
	tn.settle()
	tn.mine(int(from.cfg.MinimumDepth))
	tn.settle()
	for _, ch := range from.Channels() {
		if peer, _ := ch.Peer(from.ID()); peer == to.ID() {
			return ch
		}
	}
	tn.t.Fatalf("channel %s->%s not open", from.ID(), to.ID())
	return nil
}

// pay runs PayInvoice while ticking the network until it returns.
func (tn *testNet) pay(from *Node, inv *types.Invoice, maxFee int64) *PaymentResult {
	tn.t.Helper()
	type outcome struct {
		res *PaymentResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := from.PayInvoice(context.Background(), inv, maxFee)
		done <- outcome{res, err}
	}()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case out := <-done:
			if out.err != nil {
				tn.t.Fatalf("pay: %v", out.err)
			}
			tn.settle()
			return out.res
		case <-deadline:
			tn.t.Fatalf("payment did not resolve")
			return nil
		default:
			tn.tickAll()
			time.Sleep(time.Millisecond)
		}
	}
}

func assertLedger(t *testing.T, ch *channel.Channel, a, b int64) {
	t.Helper()
	if ch.Balance(channel.SideA) != a || ch.Balance(channel.SideB) != b {
		t.Fatalf("channel %s: expected %d/%d, got %d/%d", ch.ID(), a, b, ch.Balance(channel.SideA), ch.Balance(channel.SideB))
	}
	if ch.Pending(channel.SideA) != 0 || ch.Pending(channel.SideB) != 0 {
		t.Fatalf("channel %s: expected no pending reservations", ch.ID())
	}
	if ch.Balance(channel.SideA)+ch.Balance(channel.SideB) != ch.Capacity() {
		t.Fatalf("channel %s: balances do not sum to capacity", ch.ID())
	}
}
