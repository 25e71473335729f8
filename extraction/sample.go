package extraction

import (
	"math/rand/v2"
)

// Sample picks k ids uniformly without replacement using a partial
// Fisher-Yates shuffle. ids is not modified. When k is out of (0, len(ids))
// a copy of ids is returned.
func Sample(ids []string, k int, rng *rand.Rand) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	if k <= 0 || k >= len(out) {
		return out
	}
	for i := 0; i < k; i++ {
		j := i + rng.IntN(len(out)-i)
		out[i], out[j] = out[j], out[i]
	}
	return out[:k]
}
