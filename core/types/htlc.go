package types

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash is a 32-byte payment hash, preimage or secret.
type Hash [32]byte

// String renders the hash as hex.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether the hash is unset.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// MarshalText implements encoding.TextMarshaler so hashes can key JSON maps.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(raw) != len(h) {
		return ErrMalformedHash
	}
	copy(h[:], raw)
	return nil
}

// PaymentHash returns sha256(preimage).
func PaymentHash(preimage Hash) Hash {
	return sha256.Sum256(preimage[:])
}

// HTLC is a pending conditional payment over one channel.
type HTLC struct {
	ChannelID   ChannelID `json:"channelId"`
	ID          uint64    `json:"id"`
	Amount      int64     `json:"amount"`
	PaymentHash Hash      `json:"paymentHash"`
	CLTVExpiry  uint64    `json:"cltvExpiry"`
	Onion       *Onion    `json:"onion,omitempty"`
}

// Key returns the (channel, id) pair identifying the HTLC.
func (h *HTLC) Key() HTLCKey {
	return HTLCKey{ChannelID: h.ChannelID, ID: h.ID}
}

// HTLCKey identifies an HTLC leg.
type HTLCKey struct {
	ChannelID ChannelID `json:"channelId"`
	ID        uint64    `json:"id"`
}

// FailureReason is the recoverable protocol failure carried by a fail message.
type FailureReason string

const (
	FailureNone                    FailureReason = ""
	FailureExpiryTooSoon           FailureReason = "expiry_too_soon"
	FailureTemporaryChannel        FailureReason = "temporary_channel_failure"
	FailureFeeInsufficient         FailureReason = "fee_insufficient"
	FailureUnknownNextPeer         FailureReason = "unknown_next_peer"
	FailureIncorrectPaymentDetails FailureReason = "incorrect_payment_details"
	FailureTimeout                 FailureReason = "timeout"
	FailureUnknown                 FailureReason = "unknown"
)
