package network

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"lnsim/chain"
	"lnsim/channel"
	"lnsim/config"
	"lnsim/core"
	"lnsim/core/types"
	"lnsim/p2p"
	"lnsim/routing"
)

// Network is the registry of node agents and shared channel ledgers, plus the
// scheduler that drives the chain loop and one tick loop per node.
type Network struct {
	cfg    config.Config
	logger *slog.Logger
	chain  *chain.Blockchain
	finder routing.Finder

	rngMu sync.Mutex
	pcg   *rand.PCG
	rng   *rand.Rand

	mu       sync.RWMutex
	nodes    map[types.NodeID]*core.Node
	order    []types.NodeID
	channels map[types.ChannelID]*channel.Channel

	runMu  sync.Mutex
	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	halted error

	metrics *networkMetrics
}

// New creates an empty network with a fresh chain.
func New(cfg config.Config, logger *slog.Logger) (*Network, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	bc := chain.NewBlockchain(chainConfig(cfg), logger)
	return newNetwork(cfg, logger, bc)
}

func newNetwork(cfg config.Config, logger *slog.Logger, bc *chain.Blockchain) (*Network, error) {
	finder, err := routing.NewFinder(cfg.Simulation.PathFinder)
	if err != nil {
		return nil, err
	}
	seed := cfg.Simulation.Seed
	pcg := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	return &Network{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "network")),
		chain:    bc,
		finder:   finder,
		pcg:      pcg,
		rng:      rand.New(pcg),
		nodes:    make(map[types.NodeID]*core.Node),
		channels: make(map[types.ChannelID]*channel.Channel),
		metrics:  defaultNetworkMetrics(),
	}, nil
}

func chainConfig(cfg config.Config) chain.Config {
	return chain.Config{
		BlockTime:           cfg.Chain.BlockTime(),
		BlockWeight:         cfg.Chain.BlockWeight,
		BackgroundLoadBytes: cfg.Chain.BackgroundLoadBytes,
		BackgroundFeeRate:   cfg.Chain.BackgroundFeeRate,
	}
}

func nodeConfig(cfg config.Config) core.Config {
	return core.Config{
		ToSelfDelay:          cfg.Simulation.ToSelfDelay,
		MinimumDepth:         cfg.Simulation.MinimumDepth,
		FinalCLTVDelta:       cfg.Simulation.FinalCLTVDelta,
		ReserveFraction:      cfg.Simulation.ReserveFraction,
		MaxPaths:             cfg.Simulation.MaxPaths,
		QueueBatchSize:       cfg.Simulation.QueueBatchSize,
		AttemptTimeoutBlocks: cfg.Simulation.AttemptTimeoutBlocks,
		FundingTxSize:        cfg.Chain.FundingTxSize,
		Relay:                p2p.RelayPolicy{MaxHops: cfg.Gossip.MaxHops, MaxAge: cfg.Gossip.MaxAge},
		GossipFlushSize:      cfg.Gossip.FlushSize,
		GossipFlushPeriod:    cfg.Gossip.FlushPeriodTicks,
		SeenCacheSize:        cfg.Gossip.SeenCacheSize,
	}
}

func (n *Network) nodeOptions() core.Options {
	return core.Options{
		Config: nodeConfig(n.cfg),
		Env:    n,
		Chain:  n.chain,
		Finder: n.finder,
		Logger: n.logger,
		Seed:   n.cfg.Simulation.Seed,
	}
}

// Config returns the configuration the network runs with.
func (n *Network) Config() config.Config {
	return n.cfg
}

// Chain returns the shared blockchain.
func (n *Network) Chain() *chain.Blockchain {
	return n.chain
}

// Logger returns the network logger.
func (n *Network) Logger() *slog.Logger {
	return n.logger
}

// AddNode creates and registers a node agent. On a running network the node's
// tick loop starts immediately.
func (n *Network) AddNode(identity types.Identity, profile string, policy types.Policy) (*core.Node, error) {
	opts := n.nodeOptions()
	opts.Identity = identity
	opts.Profile = profile
	opts.Policy = policy
	node, err := core.NewNode(opts)
	if err != nil {
		return nil, err
	}
	if err := n.register(node); err != nil {
		return nil, err
	}
	n.runMu.Lock()
	if n.runCtx != nil {
		n.startNodeLocked(node)
	}
	n.runMu.Unlock()
	return node, nil
}

func (n *Network) register(node *core.Node) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, dup := n.nodes[node.ID()]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, node.ID())
	}
	n.nodes[node.ID()] = node
	n.order = append(n.order, node.ID())
	n.metrics.nodes.Set(float64(len(n.nodes)))
	return nil
}

// Node returns a registered node.
func (n *Network) Node(id types.NodeID) (*core.Node, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	node, ok := n.nodes[id]
	return node, ok
}

// Nodes returns every node in registration order.
func (n *Network) Nodes() []*core.Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*core.Node, 0, len(n.order))
	for _, id := range n.order {
		out = append(out, n.nodes[id])
	}
	return out
}

// Channels returns every registered ledger ordered by id.
func (n *Network) Channels() []*channel.Channel {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*channel.Channel, 0, len(n.channels))
	for _, ch := range n.channels {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Start launches the chain loop and every node's tick loop.
func (n *Network) Start(ctx context.Context) error {
	n.runMu.Lock()
	defer n.runMu.Unlock()
	if n.runCtx != nil {
		return ErrRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	n.runCtx, n.cancel = runCtx, cancel
	n.halted = nil

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.chain.Run(runCtx); err != nil {
			n.runMu.Lock()
			n.halted = err
			n.runMu.Unlock()
		}
	}()
	for _, node := range n.Nodes() {
		n.startNodeLocked(node)
	}
	n.logger.Info("network started",
		slog.Int("nodes", len(n.order)),
		slog.Duration("block_time", n.cfg.Chain.BlockTime()),
		slog.Duration("tick", n.cfg.Simulation.NodeTick()))
	return nil
}

func (n *Network) startNodeLocked(node *core.Node) {
	ctx := n.runCtx
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		node.Run(ctx, n.cfg.Simulation.NodeTick())
	}()
}

// Stop cancels every loop and waits for in-flight ticks to finish.
func (n *Network) Stop() {
	n.runMu.Lock()
	cancel := n.cancel
	n.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	n.wg.Wait()
	n.runMu.Lock()
	n.runCtx, n.cancel = nil, nil
	n.runMu.Unlock()
	n.logger.Info("network stopped", slog.Uint64("height", n.chain.Height()))
}

// Running reports whether the scheduler is active.
func (n *Network) Running() bool {
	n.runMu.Lock()
	defer n.runMu.Unlock()
	return n.runCtx != nil
}

// Err returns the invariant violation that halted the chain loop, if any.
func (n *Network) Err() error {
	n.runMu.Lock()
	defer n.runMu.Unlock()
	return n.halted
}

// Step ticks every node once, in registration order.
func (n *Network) Step() {
	for _, node := range n.Nodes() {
		node.Tick()
	}
}

// MineBlock advances the chain by one block.
func (n *Network) MineBlock() error {
	_, err := n.chain.AdvanceOneBlock()
	return err
}

// Idle reports whether every inbox is empty and no tick is running.
func (n *Network) Idle() bool {
	for _, node := range n.Nodes() {
		if node.Pending() > 0 || node.Busy() {
			return false
		}
	}
	return true
}

// Drain waits until every inbox is empty. On a stopped network it ticks the
// nodes itself.
func (n *Network) Drain(ctx context.Context) error {
	period := n.cfg.Simulation.NodeTick()
	for {
		if n.Idle() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !n.Running() {
			n.Step()
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(period):
		}
	}
}

// Rand runs fn with exclusive access to the master generator.
func (n *Network) Rand(fn func(r *rand.Rand)) {
	n.rngMu.Lock()
	defer n.rngMu.Unlock()
	fn(n.rng)
}
