package core

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"lnsim/core/types"
	"lnsim/observability/logging"
	"lnsim/routing"
)

// Path discard causes.
const (
	DiscardNoPolicy    = "no_policy"
	DiscardCapacity    = "insufficient_capacity"
	DiscardLiquidity   = "first_hop_liquidity"
	DiscardFeeBudget   = "fee_budget"
	DiscardNoRoute     = "no_route"
	DiscardInvalidPath = "invalid_path"
)

var tracer = otel.Tracer("lnsim/core")

// PaymentResult is the sender-side record of one invoice.
type PaymentResult struct {
	PaymentHash types.Hash            `json:"paymentHash"`
	Destination types.NodeID          `json:"destination"`
	Amount      int64                 `json:"amount"`
	Status      types.InvoiceStatus   `json:"status"`
	Attempts    int                   `json:"attempts"`
	Fees        int64                 `json:"fees"`
	Hops        int                   `json:"hops,omitempty"`
	Candidates  int                   `json:"candidates"`
	Discards    map[string]int        `json:"discards,omitempty"`
	Failures    []types.FailureReason `json:"failures,omitempty"`
}

// Paid reports whether the invoice was settled.
func (r *PaymentResult) Paid() bool {
	return r != nil && r.Status == types.InvoicePaid
}

// clone copies r so the result can leave n.mu. The caller holds n.mu.
func (r *PaymentResult) clone() PaymentResult {
	out := *r
	out.Discards = maps.Clone(r.Discards)
	out.Failures = slices.Clone(r.Failures)
	return out
}

// attempt is the completion future for one sender HTLC.
type attempt struct {
	key       types.HTLCKey
	hash      types.Hash
	route     Route
	done      chan struct{}
	success   bool
	reason    types.FailureReason
	abandoned bool
}

// CreateInvoice generates an invoice payable to this node and returns the
// copy a payer may see.
func (n *Node) CreateInvoice(amount int64, message string) (*types.Invoice, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("core: invoice amount must be positive, got %d", amount)
	}
	preimage := n.randomHash()
	inv := &types.Invoice{
		PaymentHash:   types.PaymentHash(preimage),
		PaymentSecret: n.randomHash(),
		Amount:        amount,
		Destination:   n.identity.ID,
		Message:       message,
		Status:        types.InvoiceGenerated,
		Preimage:      &preimage,
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, dup := n.invoices[inv.PaymentHash]; dup {
		return nil, types.Invariantf("duplicate payment hash %s", inv.PaymentHash)
	}
	n.invoices[inv.PaymentHash] = inv
	n.stats.InvoicesGenerated++
	return inv.Public(), nil
}

// Invoice returns a copy of a generated invoice.
func (n *Node) Invoice(hash types.Hash) (types.Invoice, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	inv, ok := n.invoices[hash]
	if !ok {
		return types.Invoice{}, false
	}
	return *inv, true
}

// Payment returns the sender-side record for hash.
func (n *Node) Payment(hash types.Hash) (PaymentResult, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	res, ok := n.sent[hash]
	if !ok {
		return PaymentResult{}, false
	}
	return res.clone(), true
}

// PayInvoice routes inv from this node. Candidate paths are filtered, then
// attempted one at a time in finder order; each attempt resolves before the
// next starts. Failing to pay is a normal outcome reported in the result.
func (n *Node) PayInvoice(ctx context.Context, inv *types.Invoice, maxFee int64) (*PaymentResult, error) {
	if inv.Destination == n.identity.ID {
		return nil, ErrSelfPayment
	}
	ctx, span := tracer.Start(ctx, "PayInvoice", trace.WithAttributes(
		attribute.String("node", string(n.identity.ID)),
		attribute.String("destination", string(inv.Destination)),
		attribute.Int64("amount", inv.Amount),
	))
	defer span.End()

	res := &PaymentResult{
		PaymentHash: inv.PaymentHash,
		Destination: inv.Destination,
		Amount:      inv.Amount,
		Status:      types.InvoicePending,
		Discards:    map[string]int{},
	}
	n.mu.Lock()
	if _, dup := n.sent[inv.PaymentHash]; dup {
		n.mu.Unlock()
		return nil, fmt.Errorf("core: invoice %s already paid from %s", inv.PaymentHash, n.identity.ID)
	}
	n.sent[inv.PaymentHash] = res
	n.stats.PaymentsAttempted++
	n.mu.Unlock()

	paths := n.finder.FindPaths(n.graph, n.identity.ID, inv.Destination, n.cfg.MaxPaths)
	candidates := n.filterPaths(paths, inv, maxFee, res)
	n.mu.Lock()
	res.Candidates = len(candidates)
	n.mu.Unlock()
	if len(candidates) == 0 {
		n.discard(res, DiscardNoRoute)
	}

	for _, route := range candidates {
		if ctx.Err() != nil {
			break
		}
		n.mu.Lock()
		res.Attempts++
		n.mu.Unlock()
		ok, reason := n.attemptRoute(ctx, inv, route)
		if ok {
			n.mu.Lock()
			res.Status = types.InvoicePaid
			res.Fees = route.Fees
			res.Hops = len(route.Path)
			n.mu.Unlock()
			break
		}
		if reason == types.FailureNone {
			n.logger.Error("attempt resolved without a reason", logging.ShortHash("payment_hash", inv.PaymentHash.String()))
			reason = types.FailureUnknown
		}
		n.mu.Lock()
		res.Failures = append(res.Failures, reason)
		n.mu.Unlock()
		if reason == types.FailureTimeout {
			break
		}
	}
	out := n.finishPayment(res)
	span.SetAttributes(attribute.Int("attempts", out.Attempts), attribute.String("status", string(out.Status)))
	if !out.Paid() {
		span.SetStatus(codes.Error, "payment failed")
	}
	return &out, nil
}

// finishPayment settles pending and returns a copy of the final result. A
// published result is only written under n.mu since Payment and Snapshot read
// it concurrently.
func (n *Node) finishPayment(pending *PaymentResult) PaymentResult {
	n.mu.Lock()
	if pending.Status != types.InvoicePaid {
		pending.Status = types.InvoiceAbandoned
		n.stats.PaymentsFailed++
	} else {
		n.stats.PaymentsSucceeded++
		n.stats.FeesPaid += pending.Fees
		n.stats.AmountSent += pending.Amount
		n.stats.recordPaid(pending.Hops, pending.Fees)
	}
	n.stats.Attempts += pending.Attempts
	for _, r := range pending.Failures {
		n.stats.AttemptFailures[r]++
	}
	res := pending.clone()
	n.mu.Unlock()

	outcome := "failed"
	if res.Status == types.InvoicePaid {
		outcome = "paid"
	}
	n.payments.RecordPayment(outcome, res.Attempts, res.Fees)
	n.logger.Debug("payment finished",
		logging.ShortHash("payment_hash", res.PaymentHash.String()),
		slog.String("status", string(res.Status)),
		slog.Int("attempts", res.Attempts))
	return res
}

// filterPaths drops candidates that cannot carry the payment, counting why.
func (n *Node) filterPaths(paths []routing.Path, inv *types.Invoice, maxFee int64, res *PaymentResult) []Route {
	height := n.chain.Height()
	routes := make([]Route, 0, len(paths))
	for _, p := range paths {
		if !p.Priced() {
			n.discard(res, DiscardNoPolicy)
			continue
		}
		route, err := BuildOnion(p, inv.Amount, height, n.cfg.FinalCLTVDelta, inv.PaymentSecret)
		if err != nil {
			n.discard(res, DiscardInvalidPath)
			continue
		}
		if p.MinCapacity() < route.Amount {
			n.discard(res, DiscardCapacity)
			continue
		}
		ch, side, err := n.ownChannel(p[0].ChannelID)
		if err != nil || ch.Available(side) < route.Amount {
			n.discard(res, DiscardLiquidity)
			continue
		}
		if route.Fees > maxFee {
			n.discard(res, DiscardFeeBudget)
			continue
		}
		routes = append(routes, route)
	}
	return routes
}

func (n *Node) discard(res *PaymentResult, cause string) {
	n.mu.Lock()
	res.Discards[cause]++
	n.stats.Discards[cause]++
	n.mu.Unlock()
	n.payments.RecordDiscard(cause)
}

// attemptRoute offers the first-hop HTLC and waits for its terminal outcome,
// bounded by the HTLC expiry plus a margin of blocks.
func (n *Node) attemptRoute(ctx context.Context, inv *types.Invoice, route Route) (bool, types.FailureReason) {
	first := route.Path[0]
	ch, side, err := n.ownChannel(first.ChannelID)
	if err != nil {
		return false, types.FailureUnknownNextPeer
	}
	if err := ch.Reserve(side, route.Amount); err != nil {
		return false, types.FailureTemporaryChannel
	}
	htlc := types.HTLC{
		ChannelID:   ch.ID(),
		ID:          ch.NextHTLCID(),
		Amount:      route.Amount,
		PaymentHash: inv.PaymentHash,
		CLTVExpiry:  route.CLTVExpiry,
		Onion:       route.Onion,
	}
	key := htlc.Key()
	att := &attempt{key: key, hash: inv.PaymentHash, route: route, done: make(chan struct{})}

	height := n.chain.Height()
	wait := n.cfg.AttemptTimeoutBlocks
	if route.CLTVExpiry > height {
		wait += route.CLTVExpiry - height
	}
	timeout := n.chain.AwaitBlocks(wait)

	n.mu.Lock()
	n.offered[key] = &htlc
	n.attempts[key] = att
	n.mu.Unlock()
	n.send(first.Destination, &types.AddHTLC{HTLC: htlc})

	select {
	case <-att.done:
		n.mu.Lock()
		defer n.mu.Unlock()
		return att.success, att.reason
	case <-timeout:
	case <-ctx.Done():
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	select {
	case <-att.done:
		return att.success, att.reason
	default:
	}
	att.abandoned = true
	return false, types.FailureTimeout
}

// resolveAttempt completes the future of a sender HTLC. Outcomes arriving
// after the sender gave up are only logged.
func (n *Node) resolveAttempt(att *attempt, success bool, reason types.FailureReason) {
	n.mu.Lock()
	delete(n.attempts, att.key)
	att.success = success
	att.reason = reason
	abandoned := att.abandoned
	if abandoned && success {
		n.stats.LateSettlements++
	}
	close(att.done)
	n.mu.Unlock()
	if abandoned {
		n.logger.Warn("htlc resolved after the attempt timed out",
			logging.ShortHash("payment_hash", att.hash.String()),
			slog.Bool("fulfilled", success))
	}
}
