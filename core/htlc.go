package core

import (
	"fmt"
	"log/slog"

	"lnsim/channel"
	"lnsim/core/types"
	"lnsim/observability/logging"
)

func (n *Node) processAddHTLC(from types.NodeID, msg *types.AddHTLC) error {
	in := msg.HTLC
	inCh, _, err := n.ownChannel(in.ChannelID)
	if err != nil {
		return err
	}
	if peer, err := inCh.Peer(n.identity.ID); err != nil || peer != from {
		return types.Invariantf("htlc %s/%d from %s who is not the channel peer", in.ChannelID, in.ID, from)
	}
	inKey := in.Key()
	n.mu.Lock()
	if _, dup := n.received[inKey]; dup {
		n.mu.Unlock()
		return types.Invariantf("htlc %s/%d received twice", in.ChannelID, in.ID)
	}
	n.received[inKey] = &in
	n.mu.Unlock()

	height := n.chain.Height()
	payload, inner, err := in.Onion.Peel()
	if err != nil {
		n.failBack(inKey, types.FailureTemporaryChannel)
		return err
	}
	if payload.Final() {
		return n.receivePayment(inKey, &in, payload, height)
	}
	return n.forward(inKey, &in, payload, inner, height)
}

// receivePayment settles an HTLC addressed to this node against one of its
// generated invoices.
func (n *Node) receivePayment(inKey types.HTLCKey, in *types.HTLC, payload types.HopPayload, height uint64) error {
	n.mu.Lock()
	inv, ok := n.invoices[in.PaymentHash]
	matches := ok && inv.Preimage != nil &&
		payload.PaymentSecret != nil && *payload.PaymentSecret == inv.PaymentSecret &&
		in.Amount >= inv.Amount && payload.AmountToForward == inv.Amount &&
		inv.Status != types.InvoicePaid
	n.mu.Unlock()
	if !matches {
		n.failBack(inKey, types.FailureIncorrectPaymentDetails)
		return nil
	}
	if in.CLTVExpiry <= height {
		n.failBack(inKey, types.FailureExpiryTooSoon)
		return nil
	}

	n.mu.Lock()
	inv.Status = types.InvoicePaid
	preimage := *inv.Preimage
	delete(n.received, inKey)
	n.stats.InvoicesPaid++
	n.stats.AmountReceived += in.Amount
	n.mu.Unlock()

	n.logger.Debug("invoice paid",
		logging.ShortHash("payment_hash", in.PaymentHash.String()),
		logging.MaskField("preimage", preimage.String()),
		slog.Int64("amount", in.Amount))
	n.payments.RecordHTLC("received", "")
	n.sendFulfill(inKey, preimage)
	return nil
}

// forward checks an HTLC against the outgoing channel's policy and liquidity
// and, if every check passes, offers the next-hop HTLC. A failed check fails
// the incoming HTLC and reserves nothing.
func (n *Node) forward(inKey types.HTLCKey, in *types.HTLC, payload types.HopPayload, inner *types.Onion, height uint64) error {
	if in.CLTVExpiry <= height {
		n.failBack(inKey, types.FailureExpiryTooSoon)
		return nil
	}
	outCh, outSide, err := n.ownChannel(payload.NextChannel)
	if err != nil || outCh.Status() != channel.StatusOpen {
		n.failBack(inKey, types.FailureUnknownNextPeer)
		return nil
	}
	policy, ok := outCh.Policy(outSide)
	if !ok {
		n.failBack(inKey, types.FailureTemporaryChannel)
		return nil
	}
	fee := policy.Fee(payload.AmountToForward)
	if fee < 0 || payload.AmountToForward <= 0 {
		n.failBack(inKey, types.FailureTemporaryChannel)
		return nil
	}
	if in.Amount-payload.AmountToForward < fee {
		n.failBack(inKey, types.FailureFeeInsufficient)
		return nil
	}
	if payload.OutgoingCLTV <= height || in.CLTVExpiry < payload.OutgoingCLTV+uint64(policy.CLTVDelta) {
		n.failBack(inKey, types.FailureExpiryTooSoon)
		return nil
	}
	if err := outCh.Reserve(outSide, payload.AmountToForward); err != nil {
		if !channel.IsInsufficientLiquidity(err) {
			n.logger.Warn("reservation failed", slog.Any("error", err))
		}
		n.failBack(inKey, types.FailureTemporaryChannel)
		return nil
	}

	out := types.HTLC{
		ChannelID:   outCh.ID(),
		ID:          outCh.NextHTLCID(),
		Amount:      payload.AmountToForward,
		PaymentHash: in.PaymentHash,
		CLTVExpiry:  payload.OutgoingCLTV,
		Onion:       inner,
	}
	outKey := out.Key()
	n.mu.Lock()
	n.offered[outKey] = &out
	n.forwards[outKey] = inKey
	n.mu.Unlock()

	n.send(outCh.Node(outSide.Other()), &types.AddHTLC{HTLC: out})
	n.payments.RecordForward()
	return nil
}

func (n *Node) processFulfillHTLC(from types.NodeID, msg *types.FulfillHTLC) error {
	key := types.HTLCKey{ChannelID: msg.ChannelID, ID: msg.ID}
	ch, side, err := n.ownChannel(msg.ChannelID)
	if err != nil {
		return err
	}
	n.mu.Lock()
	out, ok := n.offered[key]
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: fulfill %s/%d from %s", ErrMissingHTLC, key.ChannelID, key.ID, from)
	}
	if types.PaymentHash(msg.Preimage) != out.PaymentHash {
		return fmt.Errorf("%w: %s/%d", ErrPreimageMismatch, key.ChannelID, key.ID)
	}
	if err := ch.Settle(side, out.Amount); err != nil {
		return err
	}

	n.mu.Lock()
	delete(n.offered, key)
	inKey, forwarded := n.forwards[key]
	delete(n.forwards, key)
	var in *types.HTLC
	if forwarded {
		in = n.received[inKey]
		n.stats.Forwarded++
		if in != nil {
			n.stats.FeesEarned += in.Amount - out.Amount
		}
	}
	att := n.attempts[key]
	n.mu.Unlock()
	n.payments.RecordHTLC("fulfilled", "")

	switch {
	case forwarded:
		if in == nil {
			return fmt.Errorf("%w: incoming leg %s/%d", ErrMissingHTLC, inKey.ChannelID, inKey.ID)
		}
		n.sendFulfill(inKey, msg.Preimage)
		return nil
	case att != nil:
		n.resolveAttempt(att, true, types.FailureNone)
		return nil
	default:
		return fmt.Errorf("%w: fulfilled htlc %s/%d has no origin", ErrMissingHTLC, key.ChannelID, key.ID)
	}
}

func (n *Node) processFailHTLC(from types.NodeID, msg *types.FailHTLC) error {
	key := types.HTLCKey{ChannelID: msg.ChannelID, ID: msg.ID}
	ch, side, err := n.ownChannel(msg.ChannelID)
	if err != nil {
		return err
	}
	n.mu.Lock()
	out, ok := n.offered[key]
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: fail %s/%d from %s", ErrMissingHTLC, key.ChannelID, key.ID, from)
	}
	if err := ch.Release(side, out.Amount); err != nil {
		return err
	}

	n.mu.Lock()
	delete(n.offered, key)
	inKey, forwarded := n.forwards[key]
	delete(n.forwards, key)
	att := n.attempts[key]
	n.mu.Unlock()
	n.payments.RecordHTLC("failed", string(msg.Reason))

	switch {
	case forwarded:
		n.failBack(inKey, msg.Reason)
		return nil
	case att != nil:
		n.resolveAttempt(att, false, msg.Reason)
		return nil
	default:
		return fmt.Errorf("%w: failed htlc %s/%d has no origin", ErrMissingHTLC, key.ChannelID, key.ID)
	}
}

// failBack fails an incoming HTLC towards the peer that offered it.
func (n *Node) failBack(inKey types.HTLCKey, reason types.FailureReason) {
	peer, ok := n.releaseIncoming(inKey)
	if !ok {
		return
	}
	n.mu.Lock()
	n.stats.FailuresEmitted[reason]++
	n.mu.Unlock()
	n.logger.Debug("htlc failed", slog.String("channel", string(inKey.ChannelID)), slog.Uint64("id", inKey.ID), slog.String("reason", string(reason)))
	n.send(peer, &types.FailHTLC{ChannelID: inKey.ChannelID, ID: inKey.ID, Reason: reason})
}

func (n *Node) sendFulfill(inKey types.HTLCKey, preimage types.Hash) {
	peer, ok := n.releaseIncoming(inKey)
	if !ok {
		return
	}
	n.send(peer, &types.FulfillHTLC{ChannelID: inKey.ChannelID, ID: inKey.ID, Preimage: preimage})
}

// releaseIncoming forgets an incoming leg and returns the peer it came from.
func (n *Node) releaseIncoming(inKey types.HTLCKey) (types.NodeID, bool) {
	n.mu.Lock()
	delete(n.received, inKey)
	ch, ok := n.channels[inKey.ChannelID]
	n.mu.Unlock()
	if !ok {
		n.reportError("htlc", fmt.Errorf("%w: %s", ErrUnknownChannel, inKey.ChannelID))
		return "", false
	}
	peer, err := ch.Peer(n.identity.ID)
	if err != nil {
		n.reportError("htlc", types.Invariantf("%v", err))
		return "", false
	}
	return peer, true
}
