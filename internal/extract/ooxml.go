package extract

import (
	"fmt"
	"regexp"
	"strings"
)

// Office Open XML text extraction. Text runs are collected with regular expressions
// rather than lu4p/cat, whose paragraph pattern misses <w:p> elements that carry
// attributes and so returns nothing for most real documents.

const (
	contentTypesPath    = "[Content_Types].xml"
	docxDefaultBodyPath = "word/document.xml"
	docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
	pptxSlidePrefix     = "ppt/slides/slide"
)

var (
	wordTextRun  = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
	drawTextRun  = regexp.MustCompile(`<a:t[^>]*>([^<]*)</a:t>`)
	mainPartName = []*regexp.Regexp{
		regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"`),
		regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"[^>]+PartName="([^"]+)"`),
	}
)

// docxBodyPath reads the main document part name from [Content_Types].xml.
func docxBodyPath(types string) string {
	for _, re := range mainPartName {
		if m := re.FindStringSubmatch(types); len(m) > 1 {
			return strings.TrimPrefix(m[1], "/")
		}
	}
	return docxDefaultBodyPath
}

func extractDOCX(content []byte) (string, error) {
	zr, err := openZip(content, "DOCX")
	if err != nil {
		return "", err
	}
	bodyPath := docxDefaultBodyPath
	if types, ok, err := readZipPart(zr, contentTypesPath); err == nil && ok {
		bodyPath = docxBodyPath(types)
	}
	body, ok, err := readZipPart(zr, bodyPath)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("extract DOCX: %s not found", bodyPath)
	}
	var b strings.Builder
	textRuns(&b, body, wordTextRun)
	return strings.TrimSpace(b.String()), nil
}

// extractPPTX joins the text runs of every slide in archive order.
func extractPPTX(content []byte) (string, error) {
	zr, err := openZip(content, "PPTX")
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, pptxSlidePrefix) || !strings.HasSuffix(f.Name, ".xml") {
			continue
		}
		slide, err := readZipEntry(f)
		if err != nil {
			return "", fmt.Errorf("extract PPTX: %w", err)
		}
		textRuns(&b, slide, drawTextRun)
	}
	return strings.TrimSpace(b.String()), nil
}
