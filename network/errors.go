package network

import "errors"

var (
	// ErrRunning is returned by operations that need a stopped network.
	ErrRunning = errors.New("network: already running")
	// ErrNotRunning is returned by operations that need the scheduler running.
	ErrNotRunning = errors.New("network: not running")
	// ErrDuplicateNode rejects a second node with the same id.
	ErrDuplicateNode = errors.New("network: duplicate node id")
	// ErrUnknownNode is returned for ids the registry does not hold.
	ErrUnknownNode = errors.New("network: unknown node")
	// ErrTooFewNodes is returned when a workload needs at least two nodes.
	ErrTooFewNodes = errors.New("network: at least two nodes are required")
	// ErrInvalidSnapshot is returned when a status snapshot is incomplete or out of order.
	ErrInvalidSnapshot = errors.New("network: invalid status snapshot")
)

// IsNotRunning reports whether err was caused by a stopped scheduler.
func IsNotRunning(err error) bool {
	return errors.Is(err, ErrNotRunning)
}
