package index

import (
	"fmt"
	"math"
	"sort"
)

func dotProduct(vec1, vec2 []float32) (float64, error) {
	if len(vec1) != len(vec2) {
		return 0, fmt.Errorf("vectors must have the same dimension (%d != %d)", len(vec1), len(vec2))
	}
	var product float64
	for i := range vec1 {
		product += float64(vec1[i]) * float64(vec2[i])
	}
	return product, nil
}

// magnitude calculates the L2 norm of a vector.
func magnitude(vec []float32) float64 {
	var sumOfSquares float64
	for _, val := range vec {
		sumOfSquares += float64(val) * float64(val)
	}
	return math.Sqrt(sumOfSquares)
}

// CosineSimilarity returns 0 when either vector has zero magnitude.
func CosineSimilarity(vec1, vec2 []float32) (float64, error) {
	if len(vec1) == 0 || len(vec2) == 0 {
		return 0, fmt.Errorf("vectors cannot be empty")
	}
	dot, err := dotProduct(vec1, vec2)
	if err != nil {
		return 0, err
	}

	mag1 := magnitude(vec1)
	mag2 := magnitude(vec2)
	if mag1 == 0 || mag2 == 0 {
		return 0, nil
	}
	return dot / (mag1 * mag2), nil
}

type scored struct {
	idx   int
	score float64
}

// nearest returns the indexes of the n vectors most similar to query, best first.
func nearest(query []float32, vectors [][]float32, n int) ([]scored, error) {
	all := make([]scored, 0, len(vectors))
	for i, v := range vectors {
		sim, err := CosineSimilarity(query, v)
		if err != nil {
			return nil, err
		}
		all = append(all, scored{idx: i, score: sim})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })
	if n < len(all) {
		all = all[:n]
	}
	return all, nil
}

// maxMarginalRelevance picks up to k candidates balancing similarity to the query against
// similarity to candidates already picked. lambda=1 is pure relevance, lambda=0 pure
// diversity. The result holds candidate positions in selection order.
func maxMarginalRelevance(query []float32, candidates [][]float32, k int, lambda float64) ([]int, error) {
	if k <= 0 || len(candidates) == 0 {
		return nil, nil
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	relevance := make([]float64, len(candidates))
	for i, c := range candidates {
		sim, err := CosineSimilarity(query, c)
		if err != nil {
			return nil, err
		}
		relevance[i] = sim
	}

	// redundancy[i] tracks the max similarity of candidate i to anything selected so far.
	redundancy := make([]float64, len(candidates))
	for i := range redundancy {
		redundancy[i] = math.Inf(-1)
	}
	picked := make([]bool, len(candidates))
	selected := make([]int, 0, k)

	for len(selected) < k {
		best, bestScore := -1, math.Inf(-1)
		for i := range candidates {
			if picked[i] {
				continue
			}
			score := relevance[i]
			if len(selected) > 0 {
				score = lambda*relevance[i] - (1-lambda)*redundancy[i]
			}
			if score > bestScore {
				best, bestScore = i, score
			}
		}

		picked[best] = true
		selected = append(selected, best)
		for i := range candidates {
			if picked[i] {
				continue
			}
			sim, err := CosineSimilarity(candidates[i], candidates[best])
			if err != nil {
				return nil, err
			}
			if sim > redundancy[i] {
				redundancy[i] = sim
			}
		}
	}
	return selected, nil
}
