package channel

import (
	"errors"
	"fmt"

	"lnsim/core/types"
)

var (
	// ErrInsufficientLiquidity is the recoverable reservation failure.
	ErrInsufficientLiquidity = errors.New("channel: insufficient liquidity")
	// ErrInvalidAmount rejects non-positive amounts.
	ErrInvalidAmount = errors.New("channel: invalid amount")
	// ErrNotParticipant is returned when a node is not one of the two sides.
	ErrNotParticipant = errors.New("channel: node is not a participant")

	// ErrCapacityMismatch means a commit would break balanceA+balanceB == capacity.
	ErrCapacityMismatch = fmt.Errorf("%w: channel: balances do not sum to capacity", types.ErrInvariant)
	// ErrReleaseUnderflow means a release was not paired with a reservation.
	ErrReleaseUnderflow = fmt.Errorf("%w: channel: release exceeds pending reservation", types.ErrInvariant)
)

// IsInsufficientLiquidity reports whether err is a recoverable liquidity failure.
func IsInsufficientLiquidity(err error) bool {
	return errors.Is(err, ErrInsufficientLiquidity)
}
