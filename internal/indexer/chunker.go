// Package indexer turns uploaded documents into indexed chunks: upload acceptance,
// the per-document ingestion pipeline, dataset reindexing and deletes.
package indexer

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hyperjump/raglite/internal/fileid"
	"github.com/hyperjump/raglite/internal/models"
)

// Window is one chunk of a text: its whitespace-joined tokens and the byte offsets
// of the first token's start and the last token's end in the original text.
type Window struct {
	Start int
	End   int
	Text  string
}

type token struct {
	start, end int
}

// tokenize returns the byte spans of the whitespace-separated tokens of text.
func tokenize(text string) []token {
	var toks []token
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				toks = append(toks, token{start, i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		toks = append(toks, token{start, len(text)})
	}
	return toks
}

// Windows splits text into windows of size tokens, each starting size-overlap tokens
// after the previous one. The last window ends at the last token. Offsets are exact
// even when tokens repeat.
func Windows(text string, size, overlap int) []Window {
	if size <= 0 {
		size = 1
	}
	step := size - overlap
	if step <= 0 {
		step = 1
	}
	toks := tokenize(text)
	if len(toks) == 0 {
		return nil
	}
	var out []Window
	for i := 0; i < len(toks); i += step {
		end := i + size
		if end > len(toks) {
			end = len(toks)
		}
		words := make([]string, 0, end-i)
		for _, t := range toks[i:end] {
			words = append(words, text[t.start:t.end])
		}
		out = append(out, Window{
			Start: toks[i].start,
			End:   toks[end-1].end,
			Text:  strings.Join(words, " "),
		})
		if end == len(toks) {
			break
		}
	}
	return out
}

// Chunker splits document text into chunks.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker with the given size and overlap (in tokens).
func NewChunker(size, overlap int) *Chunker {
	return &Chunker{size: size, overlap: overlap}
}

// Chunk splits text into chunks owned by doc.
func (c *Chunker) Chunk(doc *models.Document, text string) []*models.Chunk {
	windows := Windows(text, c.size, c.overlap)
	chunks := make([]*models.Chunk, 0, len(windows))
	for i, w := range windows {
		chunks = append(chunks, &models.Chunk{
			ID:         fileid.ChunkID(doc.ID, w.Start),
			TenantID:   doc.TenantID,
			DatasetID:  doc.DatasetID,
			DocumentID: doc.ID,
			Text:       w.Text,
			Start:      w.Start,
			End:        w.End,
			Metadata: map[string]interface{}{
				"index":    i,
				"filename": doc.Filename,
				"chars":    utf8.RuneCountInString(w.Text),
			},
		})
	}
	return chunks
}
