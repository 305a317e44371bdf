package engine

// NextIncrement returns the minimum legal raise over the given amount.
// Steps are tiered: 50 below 1000, 100 below 5000, 250 from 5000 up.
func NextIncrement(amount int64) int64 {
	switch {
	case amount < 1000:
		return 50
	case amount < 5000:
		return 100
	default:
		return 250
	}
}

// MinimumNextBid is the lowest amount a new bid may carry.
func MinimumNextBid(current int64) int64 {
	return current + NextIncrement(current)
}

// QuickBids returns the suggested bid ladder over the current amount:
// one, two and five increments up. Used for quick-bid buttons.
func QuickBids(current int64) [3]int64 {
	step := NextIncrement(current)
	return [3]int64{current + step, current + 2*step, current + 5*step}
}
