package core

import "lnsim/core/types"

// maxSamples bounds the per-node history kept for distribution summaries.
const maxSamples = 4096

// Stats are the per-node counters reported by the network.
type Stats struct {
	ChannelsOpened    int   `json:"channelsOpened"`
	ChannelsRejected  int   `json:"channelsRejected"`
	InvoicesGenerated int   `json:"invoicesGenerated"`
	InvoicesPaid      int   `json:"invoicesPaid"`
	AmountReceived    int64 `json:"amountReceived"`

	PaymentsAttempted int   `json:"paymentsAttempted"`
	PaymentsSucceeded int   `json:"paymentsSucceeded"`
	PaymentsFailed    int   `json:"paymentsFailed"`
	Attempts          int   `json:"attempts"`
	AmountSent        int64 `json:"amountSent"`
	FeesPaid          int64 `json:"feesPaid"`
	LateSettlements   int   `json:"lateSettlements"`

	Forwarded  int   `json:"forwarded"`
	FeesEarned int64 `json:"feesEarned"`
	Invariants int   `json:"invariants"`

	Discards        map[string]int              `json:"discards"`
	AttemptFailures map[types.FailureReason]int `json:"attemptFailures"`
	FailuresEmitted map[types.FailureReason]int `json:"failuresEmitted"`

	PaidHops []int   `json:"paidHops,omitempty"`
	PaidFees []int64 `json:"paidFees,omitempty"`
}

func newStats() Stats {
	return Stats{
		Discards:        map[string]int{},
		AttemptFailures: map[types.FailureReason]int{},
		FailuresEmitted: map[types.FailureReason]int{},
	}
}

func (s *Stats) recordPaid(hops int, fees int64) {
	if len(s.PaidHops) >= maxSamples {
		s.PaidHops = s.PaidHops[1:]
		s.PaidFees = s.PaidFees[1:]
	}
	s.PaidHops = append(s.PaidHops, hops)
	s.PaidFees = append(s.PaidFees, fees)
}

// clone deep-copies the maps and slices. Nil maps come back allocated.
func (s Stats) clone() Stats {
	out := s
	out.Discards = make(map[string]int, len(s.Discards))
	for k, v := range s.Discards {
		out.Discards[k] = v
	}
	out.AttemptFailures = make(map[types.FailureReason]int, len(s.AttemptFailures))
	for k, v := range s.AttemptFailures {
		out.AttemptFailures[k] = v
	}
	out.FailuresEmitted = make(map[types.FailureReason]int, len(s.FailuresEmitted))
	for k, v := range s.FailuresEmitted {
		out.FailuresEmitted[k] = v
	}
	out.PaidHops = append([]int(nil), s.PaidHops...)
	out.PaidFees = append([]int64(nil), s.PaidFees...)
	return out
}

// Stats returns a copy of the node's counters.
func (n *Node) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats.clone()
}

// InFlight returns the number of outstanding offered and received HTLCs.
func (n *Node) InFlight() (offered, received int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.offered), len(n.received)
}
