package extract

import (
	"strings"
	"unicode/utf8"
)

// rawText decodes content as UTF-8, dropping invalid sequences and a leading BOM.
func rawText(content []byte) string {
	s := string(content)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return strings.TrimPrefix(s, "\uFEFF")
}

func extractPlain(content []byte) (string, error) {
	return rawText(content), nil
}
