package search

import (
	"sort"

	"github.com/hyperjump/raglite/internal/models"
)

// Merge combines vector and lexical hits by chunk id. A chunk found by both sources
// gets the sum of its scores; a chunk found by one keeps that score. The result is
// sorted by score descending and cut to k. Ties keep vector hits before lexical ones,
// each in their source order. Inputs are not modified.
func Merge(vectorHits, lexicalHits []*models.Hit, k int) []*models.Hit {
	merged := make([]*models.Hit, 0, len(vectorHits)+len(lexicalHits))
	byID := make(map[string]*models.Hit, cap(merged))
	add := func(h *models.Hit) {
		if existing, ok := byID[h.ID]; ok {
			existing.Score += h.Score
			return
		}
		c := h.Clone()
		byID[c.ID] = c
		merged = append(merged, c)
	}
	for _, h := range vectorHits {
		add(h)
	}
	for _, h := range lexicalHits {
		add(h)
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if k >= 0 && len(merged) > k {
		merged = merged[:k]
	}
	return merged
}

// ApplyFloor drops hits scoring below floor, keeping order.
func ApplyFloor(hits []*models.Hit, floor float64) []*models.Hit {
	out := make([]*models.Hit, 0, len(hits))
	for _, h := range hits {
		if h.Score >= floor {
			out = append(out, h)
		}
	}
	return out
}
