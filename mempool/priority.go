package mempool

import (
	"fmt"

	"lnsim/core/types"
)

// FeeBand groups pending transactions by fee rate for congestion introspection.
type FeeBand int

// bandFloors are the inclusive lower bounds (sat/vbyte) of each band.
var bandFloors = []int64{1, 2, 4, 8, 16, 32, 64, 128, 256}

// NumBands is the number of fee bands tracked by the pool.
var NumBands = len(bandFloors)

// BandOf classifies a fee rate. Rates below the lowest floor have no band.
func BandOf(feeRate int64) (FeeBand, error) {
	if feeRate < bandFloors[0] {
		return -1, fmt.Errorf("%w: fee rate %d", ErrUnknownFeeBand, feeRate)
	}
	band := 0
	for i, floor := range bandFloors {
		if feeRate >= floor {
			band = i
		}
	}
	return FeeBand(band), nil
}

// Label renders the band as "floor+" or "floor-ceiling".
func (b FeeBand) Label() string {
	i := int(b)
	if i < 0 || i >= len(bandFloors) {
		return "unknown"
	}
	if i == len(bandFloors)-1 {
		return fmt.Sprintf("%d+", bandFloors[i])
	}
	return fmt.Sprintf("%d-%d", bandFloors[i], bandFloors[i+1]-1)
}

// Usage captures the outstanding bytes per fee band at a point in time.
type Usage struct {
	Bytes      int64
	Count      int
	Duplicates uint64
	ByBand     map[string]int64
}

func classify(tx *types.Transaction) (FeeBand, error) {
	if tx == nil {
		return -1, ErrInvalidTransaction
	}
	if tx.Size <= 0 {
		return -1, fmt.Errorf("%w: size %d", ErrInvalidTransaction, tx.Size)
	}
	return BandOf(tx.FeeRate)
}
