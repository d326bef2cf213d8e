package engine

// entrySize computes the quote-currency size for a new entry: a fixed
// fraction of the available balance, clamped to the configured notional
// bounds. The second return is false when no valid size exists, either
// because the fraction lands under the minimum or the minimum itself
// exceeds what the account can spend.
func entrySize(balance, fraction, min, max float64) (float64, bool) {
	size := balance * fraction
	if size < min {
		return 0, false
	}
	if max > 0 && size > max {
		size = max
	}
	if size > balance {
		return 0, false
	}
	return size, true
}
