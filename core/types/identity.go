package types

import (
	"encoding/hex"

	"lukechampine.com/blake3"
)

// NodeID is the opaque key identifying a participant.
type NodeID string

// ChannelID identifies a channel. Before confirmation it is derived from the
// ordered pubkey pair, afterwards it is the chain location of the funding tx.
type ChannelID string

// Identity is the immutable description of a participant.
type Identity struct {
	ID     NodeID `json:"id"`
	Alias  string `json:"alias"`
	PubKey string `json:"pubkey"`
}

// NewIdentity builds an identity whose pubkey is a deterministic digest of
// the id.
func NewIdentity(id NodeID, alias string) Identity {
	if alias == "" {
		alias = string(id)
	}
	return Identity{ID: id, Alias: alias, PubKey: DerivePubKey(id)}
}

// DerivePubKey returns a 33-byte compressed-key-shaped hex string for id.
func DerivePubKey(id NodeID) string {
	sum := blake3.Sum256([]byte("lnsim/node/" + string(id)))
	key := make([]byte, 33)
	key[0] = 0x02 | (sum[31] & 0x01)
	copy(key[1:], sum[:])
	return hex.EncodeToString(key)
}

// TemporaryChannelID derives the pre-confirmation channel id from two pubkeys.
// The pair is ordered lexicographically so both parties compute the same id.
func TemporaryChannelID(pubA, pubB string) ChannelID {
	if pubB < pubA {
		pubA, pubB = pubB, pubA
	}
	sum := blake3.Sum256([]byte(pubA + pubB))
	return ChannelID("tmp-" + hex.EncodeToString(sum[:16]))
}
