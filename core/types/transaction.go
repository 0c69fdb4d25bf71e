package types

import "fmt"

// TxType defines the purpose of a chain transaction.
type TxType byte

const (
	TxTypeFunding TxType = 0x01 // Opens a channel between two parties
	TxTypeClosing TxType = 0x02 // Cooperative close of a channel
	TxTypeBlob    TxType = 0x03 // Divisible placeholder modelling background load
)

func (t TxType) String() string {
	switch t {
	case TxTypeFunding:
		return "funding"
	case TxTypeClosing:
		return "closing"
	case TxTypeBlob:
		return "blob"
	default:
		return fmt.Sprintf("0x%02x", byte(t))
	}
}

// Transaction is a logical on-chain transaction. FeeRate is expressed in
// sat/vbyte and Size in vbytes.
type Transaction struct {
	ID      string   `json:"id"`
	Type    TxType   `json:"type"`
	Amount  int64    `json:"amount"`
	Parties []NodeID `json:"parties,omitempty"`
	FeeRate int64    `json:"feeRate"`
	Size    int64    `json:"size"`
}

// Divisible reports whether the block builder may split the transaction.
func (tx *Transaction) Divisible() bool {
	return tx != nil && tx.Type == TxTypeBlob
}

// Fee returns the absolute fee paid by the transaction.
func (tx *Transaction) Fee() int64 {
	if tx == nil {
		return 0
	}
	return tx.FeeRate * tx.Size
}

// Split carves size vbytes off a divisible transaction. The receiver keeps the
// remainder.
func (tx *Transaction) Split(size int64) *Transaction {
	if size > tx.Size {
		size = tx.Size
	}
	part := *tx
	part.Size = size
	part.Parties = append([]NodeID(nil), tx.Parties...)
	tx.Size -= size
	return &part
}
