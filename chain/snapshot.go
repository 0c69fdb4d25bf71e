package chain

import (
	"fmt"
	"log/slog"

	"lnsim/core/types"
)

// State is the persisted form of the chain: mined blocks plus the pending pool
// in priority order.
type State struct {
	Height  uint64              `json:"height"`
	Blocks  []*types.Block      `json:"blocks"`
	Pending []types.Transaction `json:"pending"`
}

// Snapshot captures the chain and pool. Waiters are runtime-only and are not
// part of the snapshot.
func (bc *Blockchain) Snapshot() State {
	bc.mu.RLock()
	blocks := make([]*types.Block, len(bc.blocks))
	copy(blocks, bc.blocks)
	height := bc.height
	bc.mu.RUnlock()
	return State{
		Height:  height,
		Blocks:  blocks,
		Pending: bc.pool.Pending(),
	}
}

// Restore rebuilds a chain from a snapshot.
func Restore(cfg Config, logger *slog.Logger, st State) (*Blockchain, error) {
	bc := NewBlockchain(cfg, logger)
	if len(st.Blocks) == 0 {
		return nil, fmt.Errorf("restore chain: no blocks")
	}
	if uint64(len(st.Blocks)) != st.Height+1 {
		return nil, fmt.Errorf("restore chain: %d blocks for height %d", len(st.Blocks), st.Height)
	}
	bc.height = st.Height
	bc.blocks = st.Blocks
	for _, block := range st.Blocks {
		for i, tx := range block.Transactions {
			if tx.Divisible() {
				continue
			}
			if _, ok := bc.index[tx.ID]; !ok {
				bc.index[tx.ID] = types.TxLocation{Height: block.Height, Index: i}
			}
		}
	}
	for i := range st.Pending {
		tx := st.Pending[i]
		if err := bc.pool.Submit(&tx); err != nil {
			return nil, fmt.Errorf("restore pending %s: %w", tx.ID, err)
		}
	}
	return bc, nil
}
