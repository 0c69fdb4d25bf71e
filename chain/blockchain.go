package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lnsim/core/types"
	"lnsim/mempool"
	"lnsim/observability/metrics"
)

const (
	defaultBlockTime   = time.Second
	defaultBlockWeight = 1_000_000
)

// ErrStopped is returned by waits that outlive the chain loop.
var ErrStopped = errors.New("chain: stopped")

// Config holds the block production knobs.
type Config struct {
	BlockTime           time.Duration
	BlockWeight         int64
	BackgroundLoadBytes int64
	BackgroundFeeRate   int64
}

type waiter struct {
	target uint64
	ready  chan struct{}
}

// Blockchain is the logical chain clock. Blocks are produced by
// AdvanceOneBlock, either driven by Run or called directly in tests.
type Blockchain struct {
	cfg     Config
	logger  *slog.Logger
	pool    *mempool.Pool
	metrics *metrics.ChainMetrics

	mu      sync.RWMutex
	height  uint64
	blocks  []*types.Block
	index   map[string]types.TxLocation
	waiters []waiter
}

// NewBlockchain creates a chain holding only the empty genesis block.
func NewBlockchain(cfg Config, logger *slog.Logger) *Blockchain {
	if cfg.BlockTime <= 0 {
		cfg.BlockTime = defaultBlockTime
	}
	if cfg.BlockWeight <= 0 {
		cfg.BlockWeight = defaultBlockWeight
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "chain"))
	return &Blockchain{
		cfg:     cfg,
		logger:  logger,
		pool:    mempool.New(logger),
		metrics: metrics.Chain(),
		blocks:  []*types.Block{types.NewBlock(0, nil)},
		index:   make(map[string]types.TxLocation),
	}
}

// Submit admits a transaction into the fee-ordered pool.
func (bc *Blockchain) Submit(tx *types.Transaction) error {
	if err := bc.pool.Submit(tx); err != nil {
		return fmt.Errorf("submit %s: %w", tx.ID, err)
	}
	bc.metrics.RecordSubmit(tx.Type.String())
	return nil
}

// AdvanceOneBlock mines the next block. An error is an engine invariant
// violation and the caller must stop producing blocks.
func (bc *Blockchain) AdvanceOneBlock() (*types.Block, error) {
	bc.mu.RLock()
	next := bc.height + 1
	bc.mu.RUnlock()

	if bc.cfg.BackgroundLoadBytes > 0 {
		blob := &types.Transaction{
			ID:      fmt.Sprintf("blob-%d", next),
			Type:    types.TxTypeBlob,
			FeeRate: bc.cfg.BackgroundFeeRate,
			Size:    bc.cfg.BackgroundLoadBytes,
		}
		if err := bc.pool.Submit(blob); err != nil {
			return nil, fmt.Errorf("inject background load: %w", err)
		}
	}

	txs, err := bc.pool.BuildBlock(bc.cfg.BlockWeight)
	if err != nil {
		return nil, fmt.Errorf("build block %d: %w", next, err)
	}
	block := types.NewBlock(next, txs)

	bc.mu.Lock()
	bc.height = next
	bc.blocks = append(bc.blocks, block)
	for i, tx := range txs {
		if tx.Divisible() {
			continue
		}
		if _, ok := bc.index[tx.ID]; !ok {
			bc.index[tx.ID] = types.TxLocation{Height: next, Index: i}
		}
	}
	ready := bc.releaseWaitersLocked()
	bc.mu.Unlock()

	for _, ch := range ready {
		close(ch)
	}
	bc.metrics.ObserveBlock(next, block.Weight, len(txs), bc.pool.Usage().ByBand)
	bc.logger.Debug("mined block",
		slog.Uint64("height", next),
		slog.Int("txs", len(txs)),
		slog.Int64("weight", block.Weight))
	return block, nil
}

func (bc *Blockchain) releaseWaitersLocked() []chan struct{} {
	var ready []chan struct{}
	kept := bc.waiters[:0]
	for _, w := range bc.waiters {
		if w.target <= bc.height {
			ready = append(ready, w.ready)
			continue
		}
		kept = append(kept, w)
	}
	bc.waiters = kept
	return ready
}

// AwaitBlocks returns a channel closed once n further blocks are mined.
func (bc *Blockchain) AwaitBlocks(n uint64) <-chan struct{} {
	ch := make(chan struct{})
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if n == 0 {
		close(ch)
		return ch
	}
	bc.waiters = append(bc.waiters, waiter{target: bc.height + n, ready: ch})
	return ch
}

// WaitBlocks blocks until n further blocks are mined or ctx is done.
func (bc *Blockchain) WaitBlocks(ctx context.Context, n uint64) error {
	select {
	case <-bc.AwaitBlocks(n):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Locate returns the block height and index at which tx was mined.
func (bc *Blockchain) Locate(txID string) (types.TxLocation, bool) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	loc, ok := bc.index[txID]
	return loc, ok
}

// Confirmations returns the depth of a mined transaction, counting its own block.
func (bc *Blockchain) Confirmations(txID string) uint64 {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	loc, ok := bc.index[txID]
	if !ok {
		return 0
	}
	return bc.height - loc.Height + 1
}

// Height returns the current tip height.
func (bc *Blockchain) Height() uint64 {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.height
}

// Block returns the block at height.
func (bc *Blockchain) Block(height uint64) (*types.Block, bool) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	if height >= uint64(len(bc.blocks)) {
		return nil, false
	}
	return bc.blocks[height], true
}

// Congestion reports the outstanding pool bytes per fee band.
func (bc *Blockchain) Congestion() mempool.Usage {
	return bc.pool.Usage()
}

// BlockTime returns the configured block interval.
func (bc *Blockchain) BlockTime() time.Duration {
	return bc.cfg.BlockTime
}

// Run mines a block every BlockTime until ctx is cancelled. An invariant
// violation aborts the loop and is returned.
func (bc *Blockchain) Run(ctx context.Context) error {
	ticker := time.NewTicker(bc.cfg.BlockTime)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := bc.AdvanceOneBlock(); err != nil {
				bc.logger.Error("chain halted", slog.Any("error", err))
				metrics.Payments().RecordInvariant("chain")
				return err
			}
		}
	}
}
