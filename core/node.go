package core

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"lukechampine.com/blake3"

	"lnsim/channel"
	"lnsim/core/types"
	"lnsim/observability/metrics"
	"lnsim/p2p"
	"lnsim/routing"
	"lnsim/topology"
)

// Chain is the part of the blockchain a node agent uses.
type Chain interface {
	Height() uint64
	Submit(tx *types.Transaction) error
	AwaitBlocks(n uint64) <-chan struct{}
	Locate(txID string) (types.TxLocation, bool)
	Confirmations(txID string) uint64
}

// Env is what a node needs from the network it lives in. All inter-node
// effects go through Send; ledgers are shared through the registry.
type Env interface {
	Send(msg *types.Message) error
	Identity(id types.NodeID) (types.Identity, bool)
	RegisterChannel(ch *channel.Channel) error
	Channel(id types.ChannelID) (*channel.Channel, bool)
}

// Config holds the protocol knobs a node agent runs with.
type Config struct {
	ToSelfDelay          uint32
	MinimumDepth         uint64
	FinalCLTVDelta       uint32
	ReserveFraction      float64
	MaxPaths             int
	QueueBatchSize       int
	AttemptTimeoutBlocks uint64
	FundingTxSize        int64
	Relay                p2p.RelayPolicy
	GossipFlushSize      int
	GossipFlushPeriod    int
	SeenCacheSize        int
}

func (c *Config) applyDefaults() {
	if c.MinimumDepth == 0 {
		c.MinimumDepth = 1
	}
	if c.FinalCLTVDelta == 0 {
		c.FinalCLTVDelta = 18
	}
	if c.MaxPaths <= 0 {
		c.MaxPaths = 10
	}
	if c.QueueBatchSize <= 0 {
		c.QueueBatchSize = 64
	}
	if c.AttemptTimeoutBlocks == 0 {
		c.AttemptTimeoutBlocks = 6
	}
	if c.FundingTxSize <= 0 {
		c.FundingTxSize = 250
	}
	if c.GossipFlushSize <= 0 {
		c.GossipFlushSize = 32
	}
	if c.GossipFlushPeriod <= 0 {
		c.GossipFlushPeriod = 1
	}
}

// Node is a node agent. It drains its inbox on every Tick, single threaded;
// invoice routing runs on caller goroutines and waits on completion futures.
type Node struct {
	identity types.Identity
	profile  string
	policy   types.Policy
	cfg      Config
	env      Env
	chain    Chain
	finder   routing.Finder
	logger   *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
	pcg   *rand.PCG

	inbox   [types.NumCategories]inbox
	ticking atomic.Bool
	ticks   atomic.Uint64

	graph *topology.Graph
	seen  *p2p.SeenCache

	payments *metrics.PaymentMetrics
	gossip   *p2p.GossipMetrics

	mu        sync.Mutex
	channels  map[types.ChannelID]*channel.Channel
	proposals map[types.NodeID]*Proposal
	offered   map[types.HTLCKey]*types.HTLC
	received  map[types.HTLCKey]*types.HTLC
	forwards  map[types.HTLCKey]types.HTLCKey
	attempts  map[types.HTLCKey]*attempt
	invoices  map[types.Hash]*types.Invoice
	sent      map[types.Hash]*PaymentResult
	lastPurge uint64
	stats     Stats

	// pendingLinks are restored channel ids awaiting LinkChannels.
	pendingLinks []types.ChannelID
}

// Options configures NewNode.
type Options struct {
	Identity types.Identity
	Profile  string
	Policy   types.Policy
	Config   Config
	Env      Env
	Chain    Chain
	Finder   routing.Finder
	Logger   *slog.Logger

	// Seed is the master seed; the node derives its own generator from it.
	Seed uint64
}

// NewNode creates a node agent with an empty topology view.
func NewNode(opts Options) (*Node, error) {
	if opts.Env == nil || opts.Chain == nil {
		return nil, fmt.Errorf("core: node %s needs an env and a chain", opts.Identity.ID)
	}
	if opts.Identity.ID == "" {
		return nil, fmt.Errorf("core: node id is required")
	}
	finder := opts.Finder
	if finder == nil {
		var err error
		if finder, err = routing.NewFinder(""); err != nil {
			return nil, err
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config
	cfg.applyDefaults()
	seen, err := p2p.NewSeenCache(cfg.SeenCacheSize)
	if err != nil {
		return nil, err
	}
	pcg := rand.NewPCG(opts.Seed^NodeSeed(opts.Identity.ID), opts.Seed)
	return &Node{
		identity:  opts.Identity,
		profile:   opts.Profile,
		policy:    opts.Policy,
		cfg:       cfg,
		env:       opts.Env,
		chain:     opts.Chain,
		finder:    finder,
		logger:    logger.With(slog.String("node", string(opts.Identity.ID))),
		pcg:       pcg,
		rng:       rand.New(pcg),
		graph:     topology.NewGraph(),
		seen:      seen,
		payments:  metrics.Payments(),
		gossip:    p2p.Metrics(),
		channels:  make(map[types.ChannelID]*channel.Channel),
		proposals: make(map[types.NodeID]*Proposal),
		offered:   make(map[types.HTLCKey]*types.HTLC),
		received:  make(map[types.HTLCKey]*types.HTLC),
		forwards:  make(map[types.HTLCKey]types.HTLCKey),
		attempts:  make(map[types.HTLCKey]*attempt),
		invoices:  make(map[types.Hash]*types.Invoice),
		sent:      make(map[types.Hash]*PaymentResult),
		stats:     newStats(),
	}, nil
}

// NodeSeed hashes a node id into the value XORed with the master seed.
func NodeSeed(id types.NodeID) uint64 {
	sum := blake3.Sum256([]byte("lnsim/seed/" + string(id)))
	return binary.LittleEndian.Uint64(sum[:8])
}

// ID returns the node id.
func (n *Node) ID() types.NodeID {
	return n.identity.ID
}

// Identity returns the node identity.
func (n *Node) Identity() types.Identity {
	return n.identity
}

// Profile returns the bootstrap profile name.
func (n *Node) Profile() string {
	return n.profile
}

// Policy returns the forwarding policy the node applies to its channels.
func (n *Node) Policy() types.Policy {
	return n.policy
}

// Graph returns the node's topology view.
func (n *Node) Graph() *topology.Graph {
	return n.graph
}

// Logger returns the node-scoped logger.
func (n *Node) Logger() *slog.Logger {
	return n.logger
}

// Rand runs fn with exclusive access to the node's generator.
func (n *Node) Rand(fn func(r *rand.Rand)) {
	n.rngMu.Lock()
	defer n.rngMu.Unlock()
	fn(n.rng)
}

func (n *Node) randomHash() types.Hash {
	var h types.Hash
	n.Rand(func(r *rand.Rand) {
		for i := 0; i < len(h); i += 8 {
			binary.LittleEndian.PutUint64(h[i:], r.Uint64())
		}
	})
	return h
}

// Enqueue delivers msg to the inbox of its category. It never blocks on the
// node's tick.
func (n *Node) Enqueue(msg *types.Message) {
	n.inbox[msg.Type().Category()].push(msg)
}

// Pending returns the number of queued messages across all categories.
func (n *Node) Pending() int {
	total := 0
	for i := range n.inbox {
		total += n.inbox[i].len()
	}
	return total
}

// Busy reports whether a tick is running.
func (n *Node) Busy() bool {
	return n.ticking.Load()
}

// Tick runs one round of node services. A tick that overlaps a running one
// returns immediately.
func (n *Node) Tick() {
	if !n.ticking.CompareAndSwap(false, true) {
		return
	}
	defer n.ticking.Store(false)
	tick := n.ticks.Add(1)

	n.guard("fundings", n.checkFundings)
	n.drain(types.CategoryOpening, n.cfg.QueueBatchSize)
	n.drain(types.CategoryHTLC, n.cfg.QueueBatchSize)
	if tick%uint64(n.cfg.GossipFlushPeriod) == 0 {
		n.drain(types.CategoryGossip, n.cfg.GossipFlushSize)
	}
	n.guard("purge", n.purgeUnpriced)
}

// Run ticks every period until ctx is cancelled. A tick in progress runs to
// completion.
func (n *Node) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.Tick()
		}
	}
}

func (n *Node) drain(cat types.Category, max int) {
	for _, msg := range n.inbox[cat].take(max) {
		n.handle(msg)
	}
}

// handle processes one message. A failing or panicking message is logged and
// does not stop the rest of the batch.
func (n *Node) handle(msg *types.Message) {
	defer func() {
		if r := recover(); r != nil {
			n.reportError(msg.Type().String(), types.Invariantf("panic: %v", r))
		}
	}()
	if err := n.HandleMessage(msg); err != nil {
		n.reportError(msg.Type().String(), err)
	}
}

func (n *Node) guard(step string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			n.reportError(step, types.Invariantf("panic: %v", r))
		}
	}()
	if err := fn(); err != nil {
		n.reportError(step, err)
	}
}

func (n *Node) reportError(step string, err error) {
	if types.IsInvariant(err) {
		n.logger.Error("engine invariant violated",
			slog.String("step", step),
			slog.String("reason", err.Error()))
		n.payments.RecordInvariant("node")
		n.mu.Lock()
		n.stats.Invariants++
		n.mu.Unlock()
		return
	}
	n.logger.Warn("message rejected", slog.String("step", step), slog.Any("error", err))
}

// HandleMessage is the single dispatch point for every protocol message.
func (n *Node) HandleMessage(msg *types.Message) error {
	switch payload := msg.Payload.(type) {
	case *types.OpenChannel:
		return n.processOpenChannel(msg.From, payload)
	case *types.AcceptChannel:
		return n.processAcceptChannel(msg.From, payload)
	case *types.AddHTLC:
		return n.processAddHTLC(msg.From, payload)
	case *types.FulfillHTLC:
		return n.processFulfillHTLC(msg.From, payload)
	case *types.FailHTLC:
		return n.processFailHTLC(msg.From, payload)
	case *types.ChannelAnnouncement:
		return n.processAnnouncement(msg.From, payload)
	case *types.ChannelUpdate:
		return n.processUpdate(msg.From, payload)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownMessage, msg.Payload)
	}
}

func (n *Node) send(to types.NodeID, payload types.Payload) {
	msg := &types.Message{From: n.identity.ID, To: to, Payload: payload}
	if err := n.env.Send(msg); err != nil {
		n.logger.Warn("send failed", slog.String("to", string(to)), slog.String("type", msg.Type().String()), slog.Any("error", err))
	}
}

// Channels returns the node's open channels ordered by id.
func (n *Node) Channels() []*channel.Channel {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.channelsLocked()
}

func (n *Node) channelsLocked() []*channel.Channel {
	out := make([]*channel.Channel, 0, len(n.channels))
	for _, ch := range n.channels {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// ChannelPeers returns the distinct counterparties of the node's channels.
func (n *Node) ChannelPeers() []types.NodeID {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.peersLocked()
}

func (n *Node) peersLocked() []types.NodeID {
	set := make(map[types.NodeID]struct{}, len(n.channels))
	for _, ch := range n.channels {
		if peer, err := ch.Peer(n.identity.ID); err == nil {
			set[peer] = struct{}{}
		}
	}
	out := make([]types.NodeID, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HasChannelWith reports whether an open channel or a proposal exists with peer.
func (n *Node) HasChannelWith(peer types.NodeID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.proposals[peer]; ok {
		return true
	}
	for _, ch := range n.channels {
		if p, err := ch.Peer(n.identity.ID); err == nil && p == peer {
			return true
		}
	}
	return false
}

func (n *Node) ownChannel(id types.ChannelID) (*channel.Channel, channel.Direction, error) {
	n.mu.Lock()
	ch, ok := n.channels[id]
	n.mu.Unlock()
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s at %s", ErrUnknownChannel, id, n.identity.ID)
	}
	side, err := ch.SideOf(n.identity.ID)
	if err != nil {
		return nil, 0, types.Invariantf("%v", err)
	}
	return ch, side, nil
}
