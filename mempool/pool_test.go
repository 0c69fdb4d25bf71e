package mempool

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"lnsim/core/types"
)

func tx(id string, typ types.TxType, feeRate, size int64) *types.Transaction {
	return &types.Transaction{ID: id, Type: typ, FeeRate: feeRate, Size: size}
}

func TestBuildBlockTakesHighestFeeRateFirst(t *testing.T) {
	pool := New(nil)
	require.NoError(t, pool.Submit(tx("low", types.TxTypeFunding, 2, 100)))
	require.NoError(t, pool.Submit(tx("high", types.TxTypeFunding, 50, 100)))
	require.NoError(t, pool.Submit(tx("mid", types.TxTypeFunding, 10, 100)))

	block, err := pool.BuildBlock(200)
	require.NoError(t, err)
	require.Len(t, block, 2)
	require.Equal(t, "high", block[0].ID)
	require.Equal(t, "mid", block[1].ID)
	require.Equal(t, 1, pool.Len())
	require.Equal(t, int64(100), pool.Usage().Bytes)
}

func TestBuildBlockStopsAtFirstNonFittingTransaction(t *testing.T) {
	pool := New(nil)
	require.NoError(t, pool.Submit(tx("big", types.TxTypeFunding, 20, 150)))
	require.NoError(t, pool.Submit(tx("small", types.TxTypeFunding, 5, 10)))

	block, err := pool.BuildBlock(100)
	require.NoError(t, err)
	require.Empty(t, block, "a lower fee-rate tx must not jump a higher one")
	require.Equal(t, 2, pool.Len())
}

func TestBuildBlockSplitsBlob(t *testing.T) {
	pool := New(nil)
	blob := tx("load", types.TxTypeBlob, 30, 1000)
	require.NoError(t, pool.Submit(blob))
	require.NoError(t, pool.Submit(tx("funding", types.TxTypeFunding, 10, 100)))

	block, err := pool.BuildBlock(400)
	require.NoError(t, err)
	require.Len(t, block, 1)
	require.Equal(t, int64(400), block[0].Size)
	require.Equal(t, types.TxTypeBlob, block[0].Type)

	usage := pool.Usage()
	require.Equal(t, int64(700), usage.Bytes)
	require.Equal(t, int64(600), usage.ByBand["16-31"])
	require.Equal(t, int64(100), usage.ByBand["8-15"])

	block, err = pool.BuildBlock(700)
	require.NoError(t, err)
	require.Len(t, block, 2)
	require.Equal(t, int64(600), block[0].Size)
	require.Equal(t, "funding", block[1].ID)
	require.Zero(t, pool.Len())
}

func TestSubmitRejectsUnknownFeeBand(t *testing.T) {
	pool := New(nil)
	err := pool.Submit(tx("free", types.TxTypeFunding, 0, 100))
	if !errors.Is(err, ErrUnknownFeeBand) {
		t.Fatalf("expected ErrUnknownFeeBand, got %v", err)
	}
	if !types.IsInvariant(err) {
		t.Fatalf("expected unknown fee band to be an engine invariant")
	}
	if err := pool.Submit(tx("empty", types.TxTypeFunding, 5, 0)); !errors.Is(err, ErrInvalidTransaction) {
		t.Fatalf("expected ErrInvalidTransaction, got %v", err)
	}
}

func TestSubmitAcceptsDuplicateIDs(t *testing.T) {
	pool := New(nil)
	require.NoError(t, pool.Submit(tx("dup", types.TxTypeFunding, 5, 100)))
	require.NoError(t, pool.Submit(tx("dup", types.TxTypeFunding, 5, 100)))
	usage := pool.Usage()
	require.Equal(t, 2, usage.Count)
	require.Equal(t, uint64(1), usage.Duplicates)
}

// Every included transaction pays at least as much as any same-type
// transaction left behind.
func TestBuildBlockOrderingProperty(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for round := 0; round < 50; round++ {
		pool := New(nil)
		for i := 0; i < 40; i++ {
			typ := types.TxTypeFunding
			if i%3 == 0 {
				typ = types.TxTypeClosing
			}
			require.NoError(t, pool.Submit(tx(fmt.Sprintf("tx-%d", i), typ, 1+rng.Int64N(300), 50+rng.Int64N(400))))
		}
		block, err := pool.BuildBlock(4000)
		require.NoError(t, err)

		var weight int64
		minIncluded := map[types.TxType]int64{}
		for _, included := range block {
			weight += included.Size
			if cur, ok := minIncluded[included.Type]; !ok || included.FeeRate < cur {
				minIncluded[included.Type] = included.FeeRate
			}
		}
		require.LessOrEqual(t, weight, int64(4000))
		for _, left := range pool.Pending() {
			if floor, ok := minIncluded[left.Type]; ok && left.FeeRate > floor {
				t.Fatalf("round %d: left %s at %d while including %s at %d", round, left.ID, left.FeeRate, left.Type, floor)
			}
		}
	}
}

func TestBandLabels(t *testing.T) {
	band, err := BandOf(3)
	require.NoError(t, err)
	require.Equal(t, "2-3", band.Label())
	band, err = BandOf(10_000)
	require.NoError(t, err)
	require.Equal(t, "256+", band.Label())
}
