// Package extract turns uploaded files into plain text and guesses their language.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/abadojack/whatlanggo"
	"github.com/gabriel-vasile/mimetype"
	"github.com/lu4p/cat"
	"go.uber.org/zap"

	"github.com/hyperjump/raglite/pkg/utils"
)

// languageSample is the number of leading characters used for language detection.
const languageSample = 1000

// minLanguageConfidence is the detector confidence below which no language is reported.
const minLanguageConfidence = 0.1

// mimeExtensions maps media types to the extension whose extractor handles them.
var mimeExtensions = map[string]string{
	"text/plain":            ".txt",
	"text/markdown":         ".md",
	"text/x-markdown":       ".md",
	"text/html":             ".html",
	"application/xhtml+xml": ".html",
	"application/pdf":       ".pdf",
	"application/rtf":       ".rtf",
	"text/rtf":              ".rtf",

	// Office Open XML
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   ".docx",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         ".xlsx",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": ".pptx",

	// OpenDocument
	"application/vnd.oasis.opendocument.text":         ".odt",
	"application/vnd.oasis.opendocument.spreadsheet":  ".ods",
	"application/vnd.oasis.opendocument.presentation": ".odp",
}

// Extractor extracts plain text from document files.
type Extractor struct {
	logger *zap.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger used to report format fallbacks.
func WithLogger(l *zap.Logger) Option {
	return func(e *Extractor) { e.logger = utils.OrNop(l) }
}

// NewExtractor returns a new Extractor.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Parse reads the file at path and returns its text and detected language (ISO 639-1,
// empty when unknown). The format is chosen from mimeHint, then the file extension,
// then the content itself. Only errors reading the file are returned: a file that
// cannot be parsed in its format is decoded as raw UTF-8 instead.
func (e *Extractor) Parse(path, mimeHint string) (string, string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("read file: %w", err)
	}
	ext := e.Format(path, mimeHint, content)
	text, err := e.ExtractBytes(content, ext)
	if err != nil {
		e.logger.Warn("format extraction failed, decoding raw text",
			zap.String("path", path), zap.String("format", ext), zap.Error(err))
		text = rawText(content)
	}
	return text, DetectLanguage(text), nil
}

// Format resolves the extension key used to pick an extractor. A text/plain hint is
// weaker than the file extension, since sniffers report it for Markdown and other
// text formats.
func (e *Extractor) Format(path, mimeHint string, content []byte) string {
	pathExt := strings.ToLower(filepath.Ext(path))
	if ext, ok := extensionForMIME(mimeHint); ok && (ext != ".txt" || pathExt == "") {
		return ext
	}
	if pathExt != "" {
		return pathExt
	}
	if ext, ok := extensionForMIME(mimetype.Detect(content).String()); ok {
		return ext
	}
	return ""
}

func extensionForMIME(mt string) (string, bool) {
	mt, _, _ = strings.Cut(mt, ";")
	ext, ok := mimeExtensions[strings.ToLower(strings.TrimSpace(mt))]
	return ext, ok
}

// ExtractBytes extracts text from content for the given extension, including the
// leading dot (e.g. ".pdf"). Unknown extensions are treated as plain text.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	switch ext {
	case ".pdf":
		return extractPDF(content)
	case ".docx":
		return extractDOCX(content)
	case ".odt", ".rtf":
		return cat.FromBytes(content)
	case ".xlsx":
		return extractExcel(content)
	case ".pptx":
		return extractPPTX(content)
	case ".odp":
		return extractODP(content)
	case ".ods":
		return extractODS(content)
	case ".md", ".markdown":
		return extractMarkdown(content)
	case ".html", ".htm", ".xhtml":
		return extractHTML(content)
	default:
		return extractPlain(content)
	}
}

// DetectLanguage guesses the language of the first characters of text.
func DetectLanguage(text string) string {
	sample := []rune(strings.TrimSpace(text))
	if len(sample) == 0 {
		return ""
	}
	if len(sample) > languageSample {
		sample = sample[:languageSample]
	}
	info := whatlanggo.Detect(string(sample))
	if info.Lang < 0 || info.Confidence < minLanguageConfidence {
		return ""
	}
	return info.Lang.Iso6391()
}
