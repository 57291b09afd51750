package validate

// SelectBest returns the index of the highest-scoring passing result. Ties
// keep the earlier entry so candidate enumeration order decides. ok is false
// when no result passed.
func SelectBest(results []Result) (best int, ok bool) {
	best = -1
	for i, r := range results {
		if !r.Passed {
			continue
		}
		if best == -1 || r.Score > results[best].Score {
			best = i
		}
	}
	return best, best != -1
}
