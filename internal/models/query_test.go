package models

import (
	"testing"
)

func TestQueryRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		query   *QueryRequest
		wantErr bool
		wantK   int
	}{
		{"empty query", &QueryRequest{Query: ""}, true, 0},
		{"valid query", &QueryRequest{Query: "hello", K: 3}, false, 3},
		{"sets default k", &QueryRequest{Query: "x", K: 0}, false, DefaultK},
		{"caps k", &QueryRequest{Query: "x", K: 200}, false, MaxK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.query.K != tt.wantK {
				t.Errorf("K = %d, want %d", tt.query.K, tt.wantK)
			}
		})
	}
}

func TestQueryRequest_RewriteEnabled(t *testing.T) {
	q := &QueryRequest{Query: "x"}
	if !q.RewriteEnabled() {
		t.Error("rewrite should default to enabled")
	}
	off := false
	q.Rewrite = &off
	if q.RewriteEnabled() {
		t.Error("rewrite should be disabled when set to false")
	}
}

func TestJobStatus_Terminal(t *testing.T) {
	for _, s := range []JobStatus{JobPending, JobRunning} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	for _, s := range []JobStatus{JobSucceeded, JobFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestHitFromPayload(t *testing.T) {
	h := HitFromPayload("c1", 0.5, ChunkPayload{DocumentID: "d1", DatasetID: "ds1", Text: "alpha", Start: 3, End: 8})
	if h.ID != "c1" || h.DocumentID != "d1" || h.DatasetID != "ds1" || h.Text != "alpha" {
		t.Errorf("unexpected hit %+v", h)
	}
	if h.Meta["start"] != 3 || h.Meta["end"] != 8 {
		t.Errorf("meta = %v", h.Meta)
	}
	c := h.Clone()
	c.Score = 1
	if h.Score != 0.5 {
		t.Error("Clone should not share score")
	}
}
