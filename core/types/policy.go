package types

// Policy is the forwarding policy one side of a channel announces.
// BaseFee is in millisatoshi, FeePPM in parts per million.
type Policy struct {
	CLTVDelta uint32 `json:"cltvDelta"`
	BaseFee   int64  `json:"baseFee"`
	FeePPM    int64  `json:"feePpm"`
}

// Fee returns the forwarding fee in satoshi for amount, rounded up:
// ceil(amount/1e6*fee_ppm + base_fee/1000).
func (p Policy) Fee(amount int64) int64 {
	num := amount*p.FeePPM + p.BaseFee*1000
	return ceilDiv(num, 1_000_000)
}

// Weight is the additive cost used by the fee-aware path finder.
func (p Policy) Weight() int64 {
	return p.BaseFee + p.FeePPM + int64(p.CLTVDelta)
}

func ceilDiv(num, den int64) int64 {
	q := num / den
	if num%den != 0 && (num > 0) == (den > 0) {
		q++
	}
	return q
}
