package core

import (
	"errors"
	"fmt"

	"lnsim/core/types"
)

var (
	// ErrUnknownPeer is returned when a message names a node the network does not know.
	ErrUnknownPeer = errors.New("core: unknown peer")
	// ErrProposalPending rejects a second channel proposal to the same peer.
	ErrProposalPending = errors.New("core: channel proposal already pending")
	// ErrSelfChannel rejects channels and payments to oneself.
	ErrSelfChannel = errors.New("core: cannot open a channel to self")
	// ErrStaleAccept is returned for an accept that matches no proposal.
	ErrStaleAccept = errors.New("core: accept for unknown proposal")
	// ErrSelfPayment rejects invoices addressed to the payer.
	ErrSelfPayment = errors.New("core: invoice destination is the payer")
	// ErrUnknownMessage is returned for payloads the dispatcher does not handle.
	ErrUnknownMessage = errors.New("core: unknown message type")

	// ErrMissingHTLC means a fulfill or fail names an HTLC this node never offered.
	ErrMissingHTLC = fmt.Errorf("%w: core: no pending HTLC", types.ErrInvariant)
	// ErrPreimageMismatch means a fulfill carried a preimage that does not hash to the HTLC.
	ErrPreimageMismatch = fmt.Errorf("%w: core: preimage does not match payment hash", types.ErrInvariant)
	// ErrUnknownChannel means a message references a channel this node does not own.
	ErrUnknownChannel = fmt.Errorf("%w: core: unknown channel", types.ErrInvariant)
	// ErrUnlinkedChannel means a restored channel id has no ledger in the registry.
	ErrUnlinkedChannel = fmt.Errorf("%w: core: channel ledger not registered", types.ErrInvariant)
)

// IsProposalPending reports whether err is a duplicate proposal rejection.
func IsProposalPending(err error) bool {
	return errors.Is(err, ErrProposalPending)
}
