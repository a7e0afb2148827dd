package indexer

import (
	"strings"
	"testing"

	"github.com/hyperjump/raglite/internal/fileid"
	"github.com/hyperjump/raglite/internal/models"
)

func TestWindows_Overlap(t *testing.T) {
	got := Windows("alpha beta gamma", 2, 1)
	want := []Window{
		{Start: 0, End: 10, Text: "alpha beta"},
		{Start: 6, End: 16, Text: "beta gamma"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d windows, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("window %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestWindows_CoverEveryToken(t *testing.T) {
	text := "one two three four five six seven eight nine ten eleven"
	words := strings.Fields(text)
	size, overlap := 4, 2
	windows := Windows(text, size, overlap)

	seen := make([]int, len(words))
	pos := 0
	for i, w := range windows {
		toks := strings.Fields(w.Text)
		if i < len(windows)-1 && len(toks) != size {
			t.Errorf("window %d has %d tokens, want %d", i, len(toks), size)
		}
		if i > 0 {
			prev := strings.Fields(windows[i-1].Text)
			shared := prev[len(prev)-overlap:]
			if strings.Join(toks[:overlap], " ") != strings.Join(shared, " ") {
				t.Errorf("window %d does not start with the last %d tokens of window %d", i, overlap, i-1)
			}
		}
		for j := range toks {
			seen[pos+j]++
		}
		if text[w.Start:w.End] != w.Text {
			t.Errorf("window %d offsets [%d,%d) do not match its text", i, w.Start, w.End)
		}
		pos += size - overlap
	}
	for i, n := range seen {
		if n == 0 {
			t.Errorf("token %d (%s) not covered", i, words[i])
		}
	}
}

func TestWindows_RepeatedTokensKeepExactOffsets(t *testing.T) {
	text := "a  b\na b\ta b"
	windows := Windows(text, 2, 0)
	if len(windows) != 3 {
		t.Fatalf("got %d windows", len(windows))
	}
	starts := []int{0, 5, 9}
	for i, w := range windows {
		if w.Start != starts[i] {
			t.Errorf("window %d start = %d, want %d", i, w.Start, starts[i])
		}
		if w.Text != "a b" {
			t.Errorf("window %d text = %q", i, w.Text)
		}
	}
	if windows[0].End != 4 {
		t.Errorf("first window end = %d, want 4", windows[0].End)
	}
}

func TestWindows_Edges(t *testing.T) {
	if got := Windows("   \n\t  ", 5, 1); got != nil {
		t.Errorf("blank text should return nil, got %v", got)
	}
	if got := Windows("x y z", 2, 5); len(got) != 2 {
		t.Errorf("overlap >= size steps by one token: got %d windows", len(got))
	}
	if got := Windows("x y", 10, 2); len(got) != 1 || got[0].Text != "x y" {
		t.Errorf("short text is one window, got %+v", got)
	}
}

func TestChunker_Chunk(t *testing.T) {
	doc := &models.Document{ID: "d1", TenantID: "acme", DatasetID: "ds1", Filename: "a.txt"}
	chunks := NewChunker(2, 1).Chunk(doc, "alpha beta gamma")
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	for i, ch := range chunks {
		if ch.TenantID != "acme" || ch.DatasetID != "ds1" || ch.DocumentID != "d1" {
			t.Errorf("chunk %d has wrong owner: %+v", i, ch)
		}
		if ch.ID != fileid.ChunkID("d1", ch.Start) {
			t.Errorf("chunk %d id not derived from its start offset", i)
		}
		if ch.Metadata["index"] != i {
			t.Errorf("chunk %d index = %v", i, ch.Metadata["index"])
		}
	}
	if chunks[0].Text != "alpha beta" || chunks[1].Text != "beta gamma" {
		t.Errorf("unexpected texts %q, %q", chunks[0].Text, chunks[1].Text)
	}
	if got := NewChunker(2, 1).Chunk(doc, ""); len(got) != 0 {
		t.Errorf("empty text should give no chunks, got %d", len(got))
	}
}
