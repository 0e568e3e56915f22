package core

// Total is the sum of every record's amount. An empty collection sums to 0.
func (c Collection) Total() float64 {
	var total float64
	for _, r := range c {
		total += r.Amount
	}
	return total
}

// Summary sums amounts per category. Only categories that occur appear.
func (c Collection) Summary() map[string]float64 {
	out := make(map[string]float64)
	for _, r := range c {
		out[r.Category] += r.Amount
	}
	return out
}
