package types

// InvoiceStatus tracks an invoice through generated -> pending -> paid|abandoned.
type InvoiceStatus string

const (
	InvoiceGenerated InvoiceStatus = "generated"
	InvoicePending   InvoiceStatus = "pending"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceAbandoned InvoiceStatus = "abandoned"
)

// Invoice is a payment request. It is unique by PaymentHash.
type Invoice struct {
	PaymentHash   Hash          `json:"paymentHash"`
	PaymentSecret Hash          `json:"paymentSecret"`
	Amount        int64         `json:"amount"`
	Destination   NodeID        `json:"destination"`
	Message       string        `json:"message,omitempty"`
	Status        InvoiceStatus `json:"status"`
	// Preimage is only known to the destination.
	Preimage *Hash `json:"preimage,omitempty"`
}

// Public returns a copy that omits the preimage, suitable for handing to a payer.
func (inv *Invoice) Public() *Invoice {
	cp := *inv
	cp.Preimage = nil
	return &cp
}
