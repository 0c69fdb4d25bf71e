package mempool

import (
	"log/slog"
	"sync"

	"github.com/google/btree"

	"lnsim/core/types"
)

const defaultTreeDegree = 32

type entry struct {
	tx   *types.Transaction
	seq  uint64
	band FeeBand
}

// less orders by fee rate descending, then by admission order.
func less(a, b *entry) bool {
	if a.tx.FeeRate != b.tx.FeeRate {
		return a.tx.FeeRate > b.tx.FeeRate
	}
	return a.seq < b.seq
}

// Pool is a fee-prioritized pending transaction pool. It is safe for
// concurrent use.
type Pool struct {
	mu         sync.Mutex
	tree       *btree.BTreeG[*entry]
	seq        uint64
	bands      []int64
	ids        map[string]int
	bytes      int64
	duplicates uint64
	logger     *slog.Logger
}

// New returns an empty pool.
func New(logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		tree:   btree.NewG(defaultTreeDegree, less),
		bands:  make([]int64, NumBands),
		ids:    make(map[string]int),
		logger: logger,
	}
}

// Submit admits tx. Duplicate ids are accepted as distinct entries.
func (p *Pool) Submit(tx *types.Transaction) error {
	band, err := classify(tx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ids[tx.ID] > 0 && tx.ID != "" {
		p.duplicates++
		p.logger.Debug("duplicate mempool submission", slog.String("tx", tx.ID))
	}
	p.seq++
	p.tree.ReplaceOrInsert(&entry{tx: tx, seq: p.seq, band: band})
	p.ids[tx.ID]++
	p.bands[band] += tx.Size
	p.bytes += tx.Size
	return nil
}

// BuildBlock removes transactions for the next block, highest fee rate first,
// while the cumulative size stays within budget. A divisible entry at the head
// is split to fill the remaining space instead of being skipped.
func (p *Pool) BuildBlock(budget int64) ([]*types.Transaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var (
		selected []*types.Transaction
		used     int64
	)
	for used < budget {
		head, ok := p.tree.Min()
		if !ok {
			break
		}
		remaining := budget - used
		if head.tx.Size <= remaining {
			p.tree.DeleteMin()
			if err := p.debitLocked(head, head.tx.Size); err != nil {
				return selected, err
			}
			p.forgetLocked(head.tx.ID)
			selected = append(selected, head.tx)
			used += head.tx.Size
			continue
		}
		if !head.tx.Divisible() {
			break
		}
		// Split in place; fee rate and seq are unchanged so tree order holds.
		part := head.tx.Split(remaining)
		if err := p.debitLocked(head, part.Size); err != nil {
			return selected, err
		}
		selected = append(selected, part)
		used += part.Size
	}
	return selected, nil
}

func (p *Pool) debitLocked(e *entry, size int64) error {
	p.bands[e.band] -= size
	p.bytes -= size
	if p.bands[e.band] < 0 || p.bytes < 0 {
		return ErrNegativeWeight
	}
	return nil
}

func (p *Pool) forgetLocked(id string) {
	if p.ids[id] <= 1 {
		delete(p.ids, id)
		return
	}
	p.ids[id]--
}

// Len returns the number of pending entries.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tree.Len()
}

// Usage returns the outstanding bytes per fee band.
func (p *Pool) Usage() Usage {
	p.mu.Lock()
	defer p.mu.Unlock()
	usage := Usage{
		Bytes:      p.bytes,
		Count:      p.tree.Len(),
		Duplicates: p.duplicates,
		ByBand:     make(map[string]int64, len(p.bands)),
	}
	for i, bytes := range p.bands {
		usage.ByBand[FeeBand(i).Label()] = bytes
	}
	return usage
}

// Pending returns copies of the pending transactions in priority order.
func (p *Pool) Pending() []types.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.Transaction, 0, p.tree.Len())
	p.tree.Ascend(func(e *entry) bool {
		out = append(out, *e.tx)
		return true
	})
	return out
}
