package bounce

// Score sums, for every registered header present, one point for presence
// plus the fraction of its values that matched, then divides by max. A
// header can therefore add up to 2 and the total can exceed 1.
func Score(reg *Registry, headers *HeaderMap, matches *MatchMap, max int) float64 {
	if max <= 0 {
		return 0
	}

	var total float64
	for _, name := range headers.Keys() {
		if !reg.HasKey(name) {
			continue
		}
		total++
		if m := matches.Get(name); len(m) > 0 {
			total += float64(len(m)) / float64(len(headers.Values(name)))
		}
	}
	return total / float64(max)
}
