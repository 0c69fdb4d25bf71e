package mempool

import (
	"errors"
	"fmt"

	"lnsim/core/types"
)

var (
	// ErrInvalidTransaction is returned for nil or empty submissions.
	ErrInvalidTransaction = errors.New("mempool: invalid transaction")
	// ErrUnknownFeeBand is an engine invariant: every admitted rate maps to a band.
	ErrUnknownFeeBand = fmt.Errorf("%w: mempool: unknown fee band", types.ErrInvariant)
	// ErrNegativeWeight is an engine invariant on the band byte counters.
	ErrNegativeWeight = fmt.Errorf("%w: mempool: negative weight", types.ErrInvariant)
)
