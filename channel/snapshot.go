package channel

import (
	"fmt"

	"lnsim/core/types"
)

// State is the persisted form of a channel ledger.
type State struct {
	ID        types.ChannelID `json:"id"`
	Capacity  int64           `json:"capacity"`
	Initiator Direction       `json:"initiator"`
	Sides     [2]Side         `json:"sides"`
	Status    Status          `json:"status"`
	FundingTx string          `json:"fundingTx,omitempty"`
	NextHTLC  uint64          `json:"nextHtlc"`
}

// Snapshot returns a consistent copy of the ledger.
func (c *Channel) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := State{
		ID:        c.id,
		Capacity:  c.capacity,
		Initiator: c.initiator,
		Sides:     c.sides,
		Status:    c.status,
		FundingTx: c.fundingTx,
		NextHTLC:  c.nextHTLC,
	}
	for i := range st.Sides {
		if p := c.sides[i].Policy; p != nil {
			cp := *p
			st.Sides[i].Policy = &cp
		}
	}
	return st
}

// Restore rebuilds a ledger, re-checking the capacity invariant.
func Restore(st State) (*Channel, error) {
	if st.Sides[SideA].Balance+st.Sides[SideB].Balance != st.Capacity {
		return nil, fmt.Errorf("restore %s: %w", st.ID, ErrCapacityMismatch)
	}
	return &Channel{
		id:        st.ID,
		capacity:  st.Capacity,
		initiator: st.Initiator,
		sides:     st.Sides,
		status:    st.Status,
		fundingTx: st.FundingTx,
		nextHTLC:  st.NextHTLC,
	}, nil
}
