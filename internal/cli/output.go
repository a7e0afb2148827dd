// Package cli provides output formatting and a small HTTP client for the RAGLite CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/raglite/internal/models"
)

// OutputFormat is the format for query result output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact prints one result per line.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat validates a --output value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case OutputText, OutputCompact, OutputJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text, compact, or json", s)
	}
}

// WriteQueryResults writes a query response to w in the given format.
func WriteQueryResults(w io.Writer, resp *models.QueryResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	case OutputCompact:
		for i, h := range resp.Results {
			fmt.Fprintf(w, "%d\t%.4f\t%s\t%s\n", i+1, h.Score, source(h), TruncateWords(oneLine(h.Text), 12))
		}
		return nil
	default:
		writeQueryResultsText(w, resp)
		return nil
	}
}

func writeQueryResultsText(w io.Writer, resp *models.QueryResponse) {
	fmt.Fprintf(w, "\nFound %d results in %dms (%d vector, %d lexical candidates)\n",
		len(resp.Results), resp.QueryTimeMS, resp.VectorCount, resp.LexicalCount)
	if resp.Rewritten != "" {
		fmt.Fprintf(w, "Rewritten query: %s\n", resp.Rewritten)
	}
	if resp.Reranked {
		fmt.Fprintf(w, "Reranked with %s\n", resp.RerankModel)
	}
	fmt.Fprintln(w)
	for i, h := range resp.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "[%d] Score: %.4f | %s\n", i+1, h.Score, source(h))
		fmt.Fprintf(w, "Chunk: %s  Document: %s\n", h.ID, h.DocumentID)
		fmt.Fprintf(w, "\n%s\n\n", Truncate(h.Text, 200))
	}
	if resp.Answer != "" {
		fmt.Fprintln(w, "--- Answer ---")
		fmt.Fprintln(w, resp.Answer)
	}
}

func source(h *models.Hit) string {
	if h.SourceURI != "" {
		return h.SourceURI
	}
	return h.DocumentID
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate truncates s to maxLen bytes and appends "..." if truncated. It never
// splits a UTF-8 sequence.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
