package ranking

import (
	"math"
	"sort"
)

// Candidate is one scoreable document: its index ID and embedding vector.
// A nil vector marks a document that has no embedding yet; it is excluded
// from scoring.
type Candidate struct {
	ID     int64
	Vector []float32
}

// Result is a scored candidate
type Result struct {
	ID    int64   `json:"id"`
	Score float64 `json:"score"`
}

// CosineSimilarity computes the cosine similarity between two vectors,
// in [-1, 1]. When either vector has zero norm the score is 0; a zero
// vector carries no direction, so "no similarity" is the defined outcome
// rather than NaN.
func CosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Rank scores every candidate against the query vector and returns an
// ordered, filtered, size-bounded result list.
//
// Results are sorted by descending score; ties break by ascending ID so
// the order is deterministic. A threshold > 0 drops candidates scoring
// below it; a threshold <= 0 disables filtering. A nil topK returns every
// surviving candidate; otherwise at most *topK entries are returned.
// Filtering happens before truncation, so a small topK always yields the
// best surviving matches.
//
// Rank is a pure function and safe for concurrent use.
func Rank(query []float32, candidates []Candidate, topK *int, threshold float64) []Result {
	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		if c.Vector == nil {
			continue
		}
		score := CosineSimilarity(query, c.Vector)
		if threshold > 0 && score < threshold {
			continue
		}
		results = append(results, Result{ID: c.ID, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if topK != nil {
		k := *topK
		if k < 0 {
			k = 0
		}
		if len(results) > k {
			results = results[:k]
		}
	}

	return results
}
