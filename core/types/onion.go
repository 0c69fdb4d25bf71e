package types

// HopPayload is what a single hop learns when it peels its layer.
type HopPayload struct {
	// NextChannel is empty at the final hop.
	NextChannel     ChannelID `json:"nextChannel,omitempty"`
	AmountToForward int64     `json:"amountToForward"`
	OutgoingCLTV    uint64    `json:"outgoingCltv"`
	// PaymentSecret is only set on the final layer.
	PaymentSecret *Hash `json:"paymentSecret,omitempty"`
}

// Final reports whether the payload terminates the route.
func (p HopPayload) Final() bool {
	return p.NextChannel == ""
}

// Onion is a singly linked chain of hop payloads. The outermost layer belongs
// to the first hop; Inner is what that hop forwards.
type Onion struct {
	Payload HopPayload `json:"payload"`
	Inner   *Onion     `json:"inner,omitempty"`
}

// Wrap puts payload on top of o and returns the new outer layer.
func (o *Onion) Wrap(payload HopPayload) *Onion {
	return &Onion{Payload: payload, Inner: o}
}

// Peel returns this hop's payload and the onion for the next hop.
func (o *Onion) Peel() (HopPayload, *Onion, error) {
	if o == nil {
		return HopPayload{}, nil, ErrEmptyOnion
	}
	if o.Payload.Final() && o.Inner != nil {
		return HopPayload{}, nil, ErrMalformedOnion
	}
	if !o.Payload.Final() && o.Inner == nil {
		return HopPayload{}, nil, ErrMalformedOnion
	}
	return o.Payload, o.Inner, nil
}

// Depth returns the number of layers.
func (o *Onion) Depth() int {
	n := 0
	for cur := o; cur != nil; cur = cur.Inner {
		n++
	}
	return n
}
