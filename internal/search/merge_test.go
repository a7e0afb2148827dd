package search

import (
	"testing"

	"github.com/hyperjump/raglite/internal/models"
)

func hit(id string, score float64) *models.Hit {
	return &models.Hit{ID: id, Score: score}
}

func TestMerge(t *testing.T) {
	vec := []*models.Hit{hit("a", 0.9), hit("b", 0.5)}
	lex := []*models.Hit{hit("b", 0.7), hit("c", 0.2)}

	got := Merge(vec, lex, 10)
	want := []struct {
		id    string
		score float64
	}{{"b", 1.2}, {"a", 0.9}, {"c", 0.2}}
	if len(got) != len(want) {
		t.Fatalf("got %d hits, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].ID != w.id || got[i].Score < w.score-1e-9 || got[i].Score > w.score+1e-9 {
			t.Errorf("hit %d = %s (%v), want %s (%v)", i, got[i].ID, got[i].Score, w.id, w.score)
		}
	}
	if vec[1].Score != 0.5 || lex[0].Score != 0.7 {
		t.Error("Merge modified its inputs")
	}
}

func TestMerge_TruncatesAndKeepsTieOrder(t *testing.T) {
	vec := []*models.Hit{hit("v1", 1), hit("v2", 1)}
	lex := []*models.Hit{hit("l1", 1)}

	got := Merge(vec, lex, 2)
	if len(got) != 2 || got[0].ID != "v1" || got[1].ID != "v2" {
		t.Errorf("got %v, want [v1 v2]", ids(got))
	}
	if len(Merge(nil, nil, 5)) != 0 {
		t.Error("empty inputs should merge to nothing")
	}
}

func TestApplyFloor(t *testing.T) {
	hits := []*models.Hit{hit("a", 0.9), hit("b", 0.1), hit("c", 0.5)}
	got := ApplyFloor(hits, 0.5)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Errorf("got %v, want [a c]", ids(got))
	}
}
