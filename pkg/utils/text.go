// Package utils provides shared utilities for text, math, and logging.
package utils

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

// TrimAtSpace strips s and, if it is longer than limit characters, cuts it to limit,
// backs off to the last space and appends "...". Characters are counted as runes.
// If limit is 0 or negative, returns the stripped string unchanged.
func TrimAtSpace(s string, limit int) string {
	s = strings.TrimSpace(s)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	cut := strings.TrimRightFunc(string([]rune(s)[:limit]), isSpace)
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return cut + "..."
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// NormalizeWhitespace collapses runs of whitespace into single spaces and trims the ends.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SecureFilename reduces name to a safe base name made of letters, digits, dot,
// underscore and dash. Returns fallback when nothing usable remains.
func SecureFilename(name, fallback string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeFilenameChars.ReplaceAllString(strings.TrimSpace(name), "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return fallback
	}
	return name
}
