package extract

import (
	"fmt"
	"regexp"
	"strings"
)

const openDocumentContentPath = "content.xml"

var (
	odParagraph = regexp.MustCompile(`<text:p[^>]*>([^<]*)</text:p>`)
	odSpan      = regexp.MustCompile(`<text:span[^>]*>([^<]*)</text:span>`)
	odHeading   = regexp.MustCompile(`<text:h[^>]*>([^<]*)</text:h>`)
)

func extractODP(content []byte) (string, error) {
	return extractOpenDocument(content, "ODP", odParagraph, odSpan, odHeading)
}

func extractODS(content []byte) (string, error) {
	return extractOpenDocument(content, "ODS", odParagraph, odSpan)
}

// extractOpenDocument collects the text elements of content.xml, grouped by pattern.
func extractOpenDocument(content []byte, format string, patterns ...*regexp.Regexp) (string, error) {
	zr, err := openZip(content, format)
	if err != nil {
		return "", err
	}
	xml, ok, err := readZipPart(zr, openDocumentContentPath)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", format, err)
	}
	if !ok {
		return "", fmt.Errorf("extract %s: %s not found", format, openDocumentContentPath)
	}
	var b strings.Builder
	textRuns(&b, xml, patterns...)
	return strings.TrimSpace(b.String()), nil
}
