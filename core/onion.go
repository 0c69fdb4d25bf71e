package core

import (
	"fmt"

	"lnsim/core/types"
	"lnsim/routing"
)

// Route is the sender's view of an onion built for a path.
type Route struct {
	Path routing.Path
	// Amount is what the sender locks on the first hop, fees included.
	Amount int64
	// Fees is Amount minus the invoice amount.
	Fees int64
	// CLTVExpiry is the absolute expiry of the first-hop HTLC.
	CLTVExpiry uint64
	Onion      *types.Onion
}

// BuildOnion wraps per-hop payloads from the final hop backward. Each
// intermediate hop's layer states what it must forward and by when; the fee
// and CLTV delta of the edge it forwards over are added on the way out.
func BuildOnion(path routing.Path, amount int64, height uint64, finalCLTVDelta uint32, secret types.Hash) (Route, error) {
	if len(path) == 0 {
		return Route{}, fmt.Errorf("core: empty path")
	}
	amt := amount
	cltv := height + uint64(finalCLTVDelta)
	s := secret
	onion := (*types.Onion)(nil).Wrap(types.HopPayload{
		AmountToForward: amt,
		OutgoingCLTV:    cltv,
		PaymentSecret:   &s,
	})
	for i := len(path) - 1; i >= 1; i-- {
		e := path[i]
		if e.Policy == nil {
			return Route{}, fmt.Errorf("core: edge %s from %s has no policy", e.ChannelID, e.Source)
		}
		onion = onion.Wrap(types.HopPayload{
			NextChannel:     e.ChannelID,
			AmountToForward: amt,
			OutgoingCLTV:    cltv,
		})
		amt += e.Policy.Fee(amt)
		cltv += uint64(e.Policy.CLTVDelta)
	}
	return Route{
		Path:       path,
		Amount:     amt,
		Fees:       amt - amount,
		CLTVExpiry: cltv,
		Onion:      onion,
	}, nil
}
