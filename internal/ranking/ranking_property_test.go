package ranking

import (
	"math"
	"testing"

	"pgregory.net/rapid"
)

func genVector(rt *rapid.T, dim int, label string) []float32 {
	raw := rapid.SliceOfN(rapid.Float64Range(-100, 100), dim, dim).Draw(rt, label)
	v := make([]float32, dim)
	for i, f := range raw {
		v[i] = float32(f)
	}
	return v
}

// TestProperty_Rank_ScoresNonIncreasing tests result ordering
// *For any* candidate set with non-nil vectors, Rank SHALL return entries
// sorted by strictly non-increasing score.
func TestProperty_Rank_ScoresNonIncreasing(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		dim := rapid.IntRange(1, 16).Draw(rt, "dim")
		n := rapid.IntRange(0, 30).Draw(rt, "n")

		query := genVector(rt, dim, "query")
		candidates := make([]Candidate, n)
		for i := range candidates {
			candidates[i] = Candidate{ID: int64(i + 1), Vector: genVector(rt, dim, "candidate")}
		}

		results := Rank(query, candidates, nil, 0)

		for i := 1; i < len(results); i++ {
			if results[i].Score > results[i-1].Score {
				t.Fatalf("PROPERTY VIOLATION: results not sorted, score[%d]=%v > score[%d]=%v",
					i, results[i].Score, i-1, results[i-1].Score)
			}
		}
	})
}

// TestProperty_Rank_TopKBoundsResultSize tests top-k truncation
// *For any* candidate set and unfiltering threshold, Rank with top_k=k SHALL
// return exactly min(k, len(candidates)) entries.
func TestProperty_Rank_TopKBoundsResultSize(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		dim := rapid.IntRange(1, 8).Draw(rt, "dim")
		n := rapid.IntRange(0, 20).Draw(rt, "n")
		k := rapid.IntRange(0, 25).Draw(rt, "k")

		query := genVector(rt, dim, "query")
		candidates := make([]Candidate, n)
		for i := range candidates {
			candidates[i] = Candidate{ID: int64(i + 1), Vector: genVector(rt, dim, "candidate")}
		}

		results := Rank(query, candidates, &k, 0)

		want := k
		if n < k {
			want = n
		}
		if len(results) != want {
			t.Fatalf("PROPERTY VIOLATION: expected %d results for top_k=%d over %d candidates, got %d",
				want, k, n, len(results))
		}
	})
}

// TestProperty_Rank_TruncationKeepsBestScores tests that no excluded candidate
// outscores a returned one
// *For any* candidate set, every returned score SHALL be >= the score of every
// candidate excluded by top-k truncation.
func TestProperty_Rank_TruncationKeepsBestScores(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		dim := rapid.IntRange(1, 8).Draw(rt, "dim")
		n := rapid.IntRange(1, 20).Draw(rt, "n")
		k := rapid.IntRange(0, 10).Draw(rt, "k")

		query := genVector(rt, dim, "query")
		candidates := make([]Candidate, n)
		for i := range candidates {
			candidates[i] = Candidate{ID: int64(i + 1), Vector: genVector(rt, dim, "candidate")}
		}

		truncated := Rank(query, candidates, &k, 0)
		full := Rank(query, candidates, nil, 0)

		returned := make(map[int64]bool, len(truncated))
		minReturned := math.Inf(1)
		for _, r := range truncated {
			returned[r.ID] = true
			if r.Score < minReturned {
				minReturned = r.Score
			}
		}

		for _, r := range full {
			if !returned[r.ID] && len(truncated) == k && r.Score > minReturned {
				t.Fatalf("PROPERTY VIOLATION: excluded candidate %d scores %v above returned minimum %v",
					r.ID, r.Score, minReturned)
			}
		}
	})
}

// TestProperty_Rank_ScoresWithinUnitInterval tests the cosine range
// *For any* vectors, every score SHALL lie in [-1, 1] and never be NaN.
func TestProperty_Rank_ScoresWithinUnitInterval(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		dim := rapid.IntRange(1, 16).Draw(rt, "dim")
		a := genVector(rt, dim, "a")
		b := genVector(rt, dim, "b")

		score := CosineSimilarity(a, b)

		if math.IsNaN(score) {
			t.Fatalf("PROPERTY VIOLATION: cosine similarity is NaN")
		}
		const eps = 1e-6
		if score < -1-eps || score > 1+eps {
			t.Fatalf("PROPERTY VIOLATION: cosine similarity %v outside [-1, 1]", score)
		}
	})
}

// TestProperty_Rank_ThresholdFiltersAllBelow tests threshold semantics
// *For any* positive threshold, no returned score SHALL be below it.
func TestProperty_Rank_ThresholdFiltersAllBelow(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		dim := rapid.IntRange(1, 8).Draw(rt, "dim")
		n := rapid.IntRange(0, 20).Draw(rt, "n")
		threshold := rapid.Float64Range(0.01, 1).Draw(rt, "threshold")

		query := genVector(rt, dim, "query")
		candidates := make([]Candidate, n)
		for i := range candidates {
			candidates[i] = Candidate{ID: int64(i + 1), Vector: genVector(rt, dim, "candidate")}
		}

		for _, r := range Rank(query, candidates, nil, threshold) {
			if r.Score < threshold {
				t.Fatalf("PROPERTY VIOLATION: score %v below threshold %v returned", r.Score, threshold)
			}
		}
	})
}

// TestProperty_Rank_Deterministic tests reproducibility
// *For any* inputs, two calls with identical arguments SHALL return identical
// results.
func TestProperty_Rank_Deterministic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		dim := rapid.IntRange(1, 8).Draw(rt, "dim")
		n := rapid.IntRange(0, 20).Draw(rt, "n")

		query := genVector(rt, dim, "query")
		candidates := make([]Candidate, n)
		for i := range candidates {
			candidates[i] = Candidate{ID: int64(i + 1), Vector: genVector(rt, dim, "candidate")}
		}

		first := Rank(query, candidates, nil, 0)
		second := Rank(query, candidates, nil, 0)

		if len(first) != len(second) {
			t.Fatalf("PROPERTY VIOLATION: result lengths differ: %d vs %d", len(first), len(second))
		}
		for i := range first {
			if first[i] != second[i] {
				t.Fatalf("PROPERTY VIOLATION: results differ at %d: %+v vs %+v", i, first[i], second[i])
			}
		}
	})
}
