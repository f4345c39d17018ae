package evaluation

func relevantSet(relevant []string) map[string]struct{} {
	set := make(map[string]struct{}, len(relevant))
	for _, r := range relevant {
		set[r] = struct{}{}
	}
	return set
}

func topK(retrieved []string, k int) []string {
	if k >= 0 && k < len(retrieved) {
		return retrieved[:k]
	}
	return retrieved
}

// RecallAtK is the fraction of relevant items found in the top-K retrieved
// results. Repeated retrievals of one item count once. Returns 0 when relevant is empty.
func RecallAtK(relevant, retrieved []string, k int) float64 {
	if len(relevant) == 0 {
		return 0.0
	}
	want := relevantSet(relevant)

	found := make(map[string]struct{})
	for _, r := range topK(retrieved, k) {
		if _, ok := want[r]; ok {
			found[r] = struct{}{}
		}
	}
	return float64(len(found)) / float64(len(want))
}

// MRRAtK is the reciprocal rank of the first relevant item in the top-K
// retrieved results, or 0 when none is found
func MRRAtK(relevant, retrieved []string, k int) float64 {
	if len(relevant) == 0 {
		return 0.0
	}
	want := relevantSet(relevant)

	for i, r := range topK(retrieved, k) {
		if _, ok := want[r]; ok {
			return 1.0 / float64(i+1)
		}
	}
	return 0.0
}
