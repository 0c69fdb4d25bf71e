package channel

import (
	"fmt"
	"sync"

	"lnsim/core/types"
)

// Direction selects one of the two sides of a channel.
type Direction int

const (
	SideA Direction = 0
	SideB Direction = 1
)

// Other returns the opposite side.
func (d Direction) Other() Direction {
	return 1 - d
}

func (d Direction) String() string {
	if d == SideA {
		return "A"
	}
	return "B"
}

// Status is the lifecycle stage of a channel. A ledger is only created once
// its funding is confirmed; earlier stages are tracked by the opening
// protocol.
type Status string

// StatusOpen marks a ledger that can carry HTLCs.
const StatusOpen Status = "open"

// Side is one participant's view of the ledger.
type Side struct {
	Node    types.NodeID  `json:"node"`
	PubKey  string        `json:"pubkey"`
	Policy  *types.Policy `json:"policy,omitempty"`
	Balance int64         `json:"balance"`
	Pending int64         `json:"pending"`
	Reserve int64         `json:"reserve"`
}

// Channel is the bilateral balance and reservation ledger. Both participants
// hold the same *Channel; every mutation happens under its own lock and no
// method ever locks a second channel.
type Channel struct {
	mu        sync.Mutex
	id        types.ChannelID
	capacity  int64
	initiator Direction
	sides     [2]Side
	status    Status
	fundingTx string
	nextHTLC  uint64
}

// New creates an open ledger funded entirely by the initiator. reserve is
// applied to both sides.
func New(id types.ChannelID, a, b types.Identity, capacity, reserve int64, initiator Direction) *Channel {
	ch := &Channel{
		id:        id,
		capacity:  capacity,
		initiator: initiator,
		status:    StatusOpen,
	}
	ch.sides[SideA] = Side{Node: a.ID, PubKey: a.PubKey, Reserve: reserve}
	ch.sides[SideB] = Side{Node: b.ID, PubKey: b.PubKey, Reserve: reserve}
	ch.sides[initiator].Balance = capacity
	return ch
}

// ID returns the channel id.
func (c *Channel) ID() types.ChannelID {
	return c.id
}

// Capacity returns the total channel capacity.
func (c *Channel) Capacity() int64 {
	return c.capacity
}

// Initiator returns the side that funded the channel.
func (c *Channel) Initiator() Direction {
	return c.initiator
}

// Node returns the node id on side d.
func (c *Channel) Node(d Direction) types.NodeID {
	return c.sides[d].Node
}

// SideOf returns the side node occupies.
func (c *Channel) SideOf(node types.NodeID) (Direction, error) {
	switch node {
	case c.sides[SideA].Node:
		return SideA, nil
	case c.sides[SideB].Node:
		return SideB, nil
	default:
		return SideA, fmt.Errorf("%w: %s on %s", ErrNotParticipant, node, c.id)
	}
}

// Peer returns the counterparty of node.
func (c *Channel) Peer(node types.NodeID) (types.NodeID, error) {
	d, err := c.SideOf(node)
	if err != nil {
		return "", err
	}
	return c.sides[d.Other()].Node, nil
}

// SetFundingTx records the funding transaction id.
func (c *Channel) SetFundingTx(txID string) {
	c.mu.Lock()
	c.fundingTx = txID
	c.mu.Unlock()
}

// Status returns the lifecycle stage.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Balance returns the committed balance of side d.
func (c *Channel) Balance(d Direction) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sides[d].Balance
}

// Pending returns the in-flight reservations of side d.
func (c *Channel) Pending(d Direction) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sides[d].Pending
}

// Available returns balance - reserve - pending for side d.
func (c *Channel) Available(d Direction) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.availableLocked(d)
}

func (c *Channel) availableLocked(d Direction) int64 {
	s := c.sides[d]
	return s.Balance - s.Reserve - s.Pending
}

// Reserve earmarks amount on side d. It is the only liquidity admission check
// for sending and forwarding; on failure nothing changes.
func (c *Channel) Reserve(d Direction, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusOpen {
		return fmt.Errorf("%w: channel %s is %s", ErrInsufficientLiquidity, c.id, c.status)
	}
	if avail := c.availableLocked(d); amount > avail {
		return fmt.Errorf("%w: side %s needs %d, has %d", ErrInsufficientLiquidity, d, amount, avail)
	}
	c.sides[d].Pending += amount
	return nil
}

// Release returns a reservation made by Reserve without moving funds.
func (c *Channel) Release(d Direction, amount int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.releaseLocked(d, amount)
}

func (c *Channel) releaseLocked(d Direction, amount int64) error {
	if amount <= 0 || amount > c.sides[d].Pending {
		return fmt.Errorf("%w: side %s releasing %d of %d", ErrReleaseUnderflow, d, amount, c.sides[d].Pending)
	}
	c.sides[d].Pending -= amount
	return nil
}

// Commit atomically replaces both balances.
func (c *Channel) Commit(balanceA, balanceB int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commitLocked(balanceA, balanceB)
}

func (c *Channel) commitLocked(balanceA, balanceB int64) error {
	if balanceA < 0 || balanceB < 0 || balanceA+balanceB != c.capacity {
		return fmt.Errorf("%w: %d + %d != %d on %s", ErrCapacityMismatch, balanceA, balanceB, c.capacity, c.id)
	}
	c.sides[SideA].Balance = balanceA
	c.sides[SideB].Balance = balanceB
	return nil
}

// Settle releases a reservation on side d and shifts amount to the other side
// under a single lock acquisition.
func (c *Channel) Settle(d Direction, amount int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.releaseLocked(d, amount); err != nil {
		return err
	}
	balances := [2]int64{c.sides[SideA].Balance, c.sides[SideB].Balance}
	balances[d] -= amount
	balances[d.Other()] += amount
	if err := c.commitLocked(balances[SideA], balances[SideB]); err != nil {
		c.sides[d].Pending += amount
		return err
	}
	return nil
}

// Push moves amount from side d to the other side immediately.
func (c *Channel) Push(d Direction, amount int64) error {
	if err := c.Reserve(d, amount); err != nil {
		return err
	}
	return c.Settle(d, amount)
}

// SetPolicy replaces the forwarding policy announced by side d.
func (c *Channel) SetPolicy(d Direction, policy types.Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := policy
	c.sides[d].Policy = &p
}

// Policy returns the policy of side d, if one was assigned.
func (c *Channel) Policy(d Direction) (types.Policy, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sides[d].Policy == nil {
		return types.Policy{}, false
	}
	return *c.sides[d].Policy, true
}

// NextHTLCID returns the next monotonic HTLC id for this channel.
func (c *Channel) NextHTLCID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextHTLC
	c.nextHTLC++
	return id
}
