package match

// Similarity scores between two token sets. All scores are 0 when either side
// falls below minTokens; a window with almost no distinct text must never
// match anything.

// Jaccard returns |L∩R| / |L∪R|.
func Jaccard(left, right map[string]struct{}, minTokens int) float64 {
	if len(left) < minTokens || len(right) < minTokens {
		return 0
	}
	o := overlap(left, right)
	union := len(left) + len(right) - o
	if union == 0 {
		return 0
	}
	return float64(o) / float64(union)
}

// Containment returns |L∩R| / min(|L|,|R|).
func Containment(left, right map[string]struct{}, minTokens int) float64 {
	if len(left) < minTokens || len(right) < minTokens {
		return 0
	}
	smaller := len(left)
	if len(right) < smaller {
		smaller = len(right)
	}
	if smaller == 0 {
		return 0
	}
	return float64(overlap(left, right)) / float64(smaller)
}

// Hybrid averages Jaccard and Containment. Jaccard alone punishes a short
// last-exchange against a long scrollback; containment alone rewards trivial
// subsets. The mean holds up for both shapes.
func Hybrid(left, right map[string]struct{}, minTokens int) float64 {
	if len(left) < minTokens || len(right) < minTokens {
		return 0
	}
	return (Jaccard(left, right, minTokens) + Containment(left, right, minTokens)) / 2
}

func overlap(left, right map[string]struct{}) int {
	small, large := left, right
	if len(right) < len(left) {
		small, large = right, left
	}
	n := 0
	for t := range small {
		if _, ok := large[t]; ok {
			n++
		}
	}
	return n
}
