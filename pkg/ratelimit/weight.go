package ratelimit

// BatchWeight is the weight of a batched exchange action with n items.
func BatchWeight(n int) uint32 {
	if n < 0 {
		n = 0
	}
	return uint32(1 + n/40)
}

// QuantizedExtra charges one token per full block of per items beyond the
// base weight, e.g. +1 per 20 returned rows.
func QuantizedExtra(items, per int) uint32 {
	if items <= 0 || per <= 0 {
		return 0
	}
	return uint32(items / per)
}
