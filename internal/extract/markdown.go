package extract

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
)

// extractMarkdown renders Markdown to HTML and keeps only the text nodes, so markup
// such as emphasis markers and link targets does not reach the index.
func extractMarkdown(content []byte) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(rawText(content)), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return extractHTML(buf.Bytes())
}
