package types

import "fmt"

// Block is an ordered list of transactions mined at a height.
type Block struct {
	Height       uint64         `json:"height"`
	Transactions []*Transaction `json:"transactions"`
	Weight       int64          `json:"weight"`
}

// NewBlock creates a new block from a height and a set of transactions.
func NewBlock(height uint64, txs []*Transaction) *Block {
	var weight int64
	for _, tx := range txs {
		weight += tx.Size
	}
	return &Block{
		Height:       height,
		Transactions: txs,
		Weight:       weight,
	}
}

// TxLocation pins a transaction to its block height and position.
type TxLocation struct {
	Height uint64 `json:"height"`
	Index  int    `json:"index"`
}

// ShortChannelID renders the location in the familiar
// block x index x output form used as a confirmed channel id.
func (l TxLocation) ShortChannelID() ChannelID {
	return ChannelID(fmt.Sprintf("%dx%dx0", l.Height, l.Index))
}
