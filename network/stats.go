package network

import (
	"sort"

	"github.com/btcsuite/btcutil"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"lnsim/channel"
	"lnsim/core"
	"lnsim/core/types"
)

// Distribution summarises a sample.
type Distribution struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

func summarize(xs []float64) Distribution {
	if len(xs) == 0 {
		return Distribution{}
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	d := Distribution{
		Count:  len(sorted),
		Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
		Min:    floats.Min(sorted),
		Max:    floats.Max(sorted),
	}
	if len(sorted) > 1 {
		d.Mean, d.StdDev = stat.MeanStdDev(sorted, nil)
	} else {
		d.Mean = sorted[0]
	}
	return d
}

// Stats is the network-wide report.
type Stats struct {
	Height       uint64 `json:"height"`
	Nodes        int    `json:"nodes"`
	Channels     int    `json:"channels"`
	Capacity     int64  `json:"capacity"`
	CapacityText string `json:"capacityText"`
	MempoolBytes int64  `json:"mempoolBytes"`
	MempoolTxs   int    `json:"mempoolTxs"`

	InvoicesGenerated int     `json:"invoicesGenerated"`
	InvoicesPaid      int     `json:"invoicesPaid"`
	PaymentsAttempted int     `json:"paymentsAttempted"`
	PaymentsSucceeded int     `json:"paymentsSucceeded"`
	PaymentsFailed    int     `json:"paymentsFailed"`
	SuccessRate       float64 `json:"successRate"`
	Attempts          int     `json:"attempts"`
	AmountSent        int64   `json:"amountSent"`
	AmountSentText    string  `json:"amountSentText"`
	FeesPaid          int64   `json:"feesPaid"`
	FeesEarned        int64   `json:"feesEarned"`
	Forwarded         int     `json:"forwarded"`
	LateSettlements   int     `json:"lateSettlements"`
	ChannelsRejected  int     `json:"channelsRejected"`
	Invariants        int     `json:"invariants"`

	Discards        map[string]int              `json:"discards"`
	AttemptFailures map[types.FailureReason]int `json:"attemptFailures"`
	FailuresEmitted map[types.FailureReason]int `json:"failuresEmitted"`

	PathLength Distribution `json:"pathLength"`
	Fees       Distribution `json:"fees"`
}

// GetStats aggregates every node's counters.
func (n *Network) GetStats() Stats {
	usage := n.chain.Congestion()
	s := Stats{
		Height:          n.chain.Height(),
		MempoolBytes:    usage.Bytes,
		MempoolTxs:      usage.Count,
		Discards:        map[string]int{},
		AttemptFailures: map[types.FailureReason]int{},
		FailuresEmitted: map[types.FailureReason]int{},
	}
	for _, ch := range n.Channels() {
		s.Channels++
		s.Capacity += ch.Capacity()
	}
	s.CapacityText = btcutil.Amount(s.Capacity).String()

	var hops, fees []float64
	for _, node := range n.Nodes() {
		s.Nodes++
		ns := node.Stats()
		s.InvoicesGenerated += ns.InvoicesGenerated
		s.InvoicesPaid += ns.InvoicesPaid
		s.PaymentsAttempted += ns.PaymentsAttempted
		s.PaymentsSucceeded += ns.PaymentsSucceeded
		s.PaymentsFailed += ns.PaymentsFailed
		s.Attempts += ns.Attempts
		s.AmountSent += ns.AmountSent
		s.FeesPaid += ns.FeesPaid
		s.FeesEarned += ns.FeesEarned
		s.Forwarded += ns.Forwarded
		s.LateSettlements += ns.LateSettlements
		s.ChannelsRejected += ns.ChannelsRejected
		s.Invariants += ns.Invariants
		for k, v := range ns.Discards {
			s.Discards[k] += v
		}
		for k, v := range ns.AttemptFailures {
			s.AttemptFailures[k] += v
		}
		for k, v := range ns.FailuresEmitted {
			s.FailuresEmitted[k] += v
		}
		for i, h := range ns.PaidHops {
			hops = append(hops, float64(h))
			fees = append(fees, float64(ns.PaidFees[i]))
		}
	}
	if done := s.PaymentsSucceeded + s.PaymentsFailed; done > 0 {
		s.SuccessRate = float64(s.PaymentsSucceeded) / float64(done)
	}
	s.AmountSentText = btcutil.Amount(s.AmountSent).String()
	s.PathLength = summarize(hops)
	s.Fees = summarize(fees)
	return s
}

// ChannelView is a read-only rendering of a ledger from one node's side.
type ChannelView struct {
	ID        types.ChannelID `json:"id"`
	Peer      types.NodeID    `json:"peer"`
	Capacity  int64           `json:"capacity"`
	Local     int64           `json:"local"`
	Remote    int64           `json:"remote"`
	Pending   int64           `json:"pending"`
	Available int64           `json:"available"`
	Status    string          `json:"status"`
}

// NodeSummary is one row of the node listing.
type NodeSummary struct {
	ID       types.NodeID `json:"id"`
	Alias    string       `json:"alias"`
	Profile  string       `json:"profile"`
	Channels int          `json:"channels"`
	Local    int64        `json:"local"`
	Pending  int          `json:"pending"`
}

// NodeView is the detailed rendering of one node.
type NodeView struct {
	Identity      types.Identity `json:"identity"`
	Profile       string         `json:"profile"`
	Policy        types.Policy   `json:"policy"`
	Channels      []ChannelView  `json:"channels"`
	KnownChannels int            `json:"knownChannels"`
	KnownNodes    int            `json:"knownNodes"`
	Offered       int            `json:"offered"`
	Received      int            `json:"received"`
	Stats         core.Stats     `json:"stats"`
}

func channelView(node *core.Node, ch *channel.Channel) ChannelView {
	v := ChannelView{ID: ch.ID(), Capacity: ch.Capacity(), Status: string(ch.Status())}
	side, err := ch.SideOf(node.ID())
	if err != nil {
		return v
	}
	v.Peer = ch.Node(side.Other())
	v.Local = ch.Balance(side)
	v.Remote = ch.Balance(side.Other())
	v.Pending = ch.Pending(side)
	v.Available = ch.Available(side)
	return v
}

// NodeSummaries lists every node in registration order.
func (n *Network) NodeSummaries() []NodeSummary {
	nodes := n.Nodes()
	out := make([]NodeSummary, 0, len(nodes))
	for _, node := range nodes {
		s := NodeSummary{
			ID:      node.ID(),
			Alias:   node.Identity().Alias,
			Profile: node.Profile(),
			Pending: node.Pending(),
		}
		for _, ch := range node.Channels() {
			s.Channels++
			if side, err := ch.SideOf(node.ID()); err == nil {
				s.Local += ch.Balance(side)
			}
		}
		out = append(out, s)
	}
	return out
}

// NodeView renders one node.
func (n *Network) NodeView(id types.NodeID) (NodeView, bool) {
	node, ok := n.Node(id)
	if !ok {
		return NodeView{}, false
	}
	offered, received := node.InFlight()
	v := NodeView{
		Identity:      node.Identity(),
		Profile:       node.Profile(),
		Policy:        node.Policy(),
		KnownChannels: node.Graph().NumChannels(),
		KnownNodes:    len(node.Graph().Nodes()),
		Offered:       offered,
		Received:      received,
		Stats:         node.Stats(),
	}
	for _, ch := range node.Channels() {
		v.Channels = append(v.Channels, channelView(node, ch))
	}
	return v, true
}

// ChainView is the chain summary served to introspection clients.
type ChainView struct {
	Height      uint64           `json:"height"`
	BlockTimeMs int64            `json:"blockTimeMs"`
	MempoolTxs  int              `json:"mempoolTxs"`
	Mempool     int64            `json:"mempoolBytes"`
	Duplicates  uint64           `json:"duplicates"`
	ByBand      map[string]int64 `json:"byBand"`
}

// ChainView summarises the chain and its pending pool.
func (n *Network) ChainView() ChainView {
	usage := n.chain.Congestion()
	return ChainView{
		Height:      n.chain.Height(),
		BlockTimeMs: n.chain.BlockTime().Milliseconds(),
		MempoolTxs:  usage.Count,
		Mempool:     usage.Bytes,
		Duplicates:  usage.Duplicates,
		ByBand:      usage.ByBand,
	}
}

// Block returns a mined block.
func (n *Network) Block(height uint64) (*types.Block, bool) {
	return n.chain.Block(height)
}
